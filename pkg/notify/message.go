// Package notify delivers governance alerts to external channels.
//
// SlackNotifier posts to an incoming webhook and EmailNotifier sends
// through SMTP. Both can be wrapped in RateLimited so an alert storm
// cannot flood a channel. Delivery failures are returned as
// *DeliveryError and never retried here.
package notify

import (
	"fmt"
	"strings"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/policy/evaluator"
)

// Message is the channel-neutral alert payload.
type Message struct {
	Subject  string
	Text     string
	Severity policy.Severity
	Date     string
}

// DefaultSubject is used for governance alert emails.
const DefaultSubject = "[Sentinel] Governance Alert"

// FormatMessage renders triggered rules as plain text, one bullet per
// rule.
func FormatMessage(date string, triggered []evaluator.TriggeredRule) string {
	var b strings.Builder
	b.WriteString("Governance Alert\n")
	fmt.Fprintf(&b, "Date: %s\n", date)
	b.WriteString("Triggered rules:")
	for _, t := range triggered {
		b.WriteString("\n• ")
		b.WriteString(t.Describe())
	}
	return b.String()
}

// DeliveryError reports a failed send on one channel.
type DeliveryError struct {
	Channel string
	Cause   error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Channel, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// NewDeliveryError creates a new DeliveryError.
func NewDeliveryError(channel string, cause error) *DeliveryError {
	return &DeliveryError{Channel: channel, Cause: cause}
}
