// Package tuning invokes the external auto-tuning entry point.
package tuning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPInvoker triggers tuning entry points by POSTing to {Origin}/{name}.
type HTTPInvoker struct {
	origin string
	client *http.Client
}

// NewHTTPInvoker creates an invoker for origin. A nil client gets a 30s
// timeout.
func NewHTTPInvoker(origin string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPInvoker{origin: strings.TrimRight(origin, "/"), client: client}
}

// Invoke POSTs an empty JSON request to the named entry point. A non-2xx
// response is an error carrying the response body.
func (h *HTTPInvoker) Invoke(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("tuning entry point name is required")
	}
	url := h.origin + "/" + strings.TrimLeft(name, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("build tuning request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("invoke %s: status %d: %s", name, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
