package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChannelSlack is the channel name of SlackNotifier.
const ChannelSlack = "slack"

// SlackNotifier posts {"text": ...} to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a Slack notifier. A nil client gets a 10s
// timeout.
func NewSlackNotifier(webhookURL string, client *http.Client) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client}
}

// Channel returns "slack".
func (s *SlackNotifier) Channel() string { return ChannelSlack }

// Send posts msg.Text to the webhook. Any non-2xx status is an error.
func (s *SlackNotifier) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]string{"text": msg.Text})
	if err != nil {
		return NewDeliveryError(ChannelSlack, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return NewDeliveryError(ChannelSlack, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return NewDeliveryError(ChannelSlack, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return NewDeliveryError(ChannelSlack, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail)))
	}
	return nil
}
