// Package ingest feeds metric snapshots and raw quality events from NATS
// into the governance engine.
//
// Snapshots arriving on the snapshot subject are evaluated immediately.
// Events arriving on the event subject are buffered until the scheduler's
// next rollup. Subscriptions use a queue group so replicas share the load.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/telemetry/tracing"
)

var (
	errNotConnected = errors.New("ingest: not connected")
	errEmptySubject = errors.New("ingest: empty subject")
)

// SnapshotHandler evaluates one snapshot.
type SnapshotHandler interface {
	OnSnapshot(ctx context.Context, snap snapshot.Snapshot) (*engine.Evaluation, error)
}

// EventSink accepts raw events for a later rollup.
type EventSink interface {
	Add(events ...snapshot.Event)
}

// Client subscribes to (and can publish on) the governance subjects.
type Client struct {
	nc      *nats.Conn
	config  config.IngestConfig
	handler SnapshotHandler
	events  EventSink
	mu      sync.Mutex
	subs    []*nats.Subscription
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a client around handler and events without connecting.
// Either may be nil when the client only publishes.
func New(cfg config.IngestConfig, handler SnapshotHandler, events EventSink) *Client {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 10 * time.Second
	}
	return &Client{
		config:  cfg,
		handler: handler,
		events:  events,
		logger:  slog.Default().With("component", "ingest.nats"),
		tracer:  otel.Tracer("mercator-hq/sentinel/ingest"),
	}
}

// Connect dials the configured NATS server with unlimited reconnects.
func (c *Client) Connect() error {
	opts := []nats.Option{
		nats.Name("sentinel-ingest"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}
	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", c.config.URL, err)
	}
	c.nc = nc
	return nil
}

// Subscribe attaches queue subscriptions for the snapshot and event
// subjects. Messages are handled until ctx is cancelled or Close is called.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.nc == nil {
		return errNotConnected
	}
	bind := func(subject string, handle func(context.Context, *nats.Msg) error) error {
		if subject == "" {
			return nil
		}
		sub, err := c.nc.QueueSubscribe(subject, c.config.QueueGroup, func(msg *nats.Msg) {
			hctx, cancel := context.WithTimeout(ctx, c.config.HandleTimeout)
			defer cancel()
			if err := handle(hctx, msg); err != nil {
				c.logger.Error("message handling failed", "subject", msg.Subject, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		c.mu.Lock()
		c.subs = append(c.subs, sub)
		c.mu.Unlock()
		c.logger.Info("subscribed", "subject", subject, "queue", c.config.QueueGroup)
		return nil
	}

	if err := bind(c.config.SnapshotSubject, func(ctx context.Context, msg *nats.Msg) error {
		_, err := c.HandleSnapshot(ctx, msg.Data, msg.Header)
		return err
	}); err != nil {
		return err
	}
	return bind(c.config.EventSubject, func(ctx context.Context, msg *nats.Msg) error {
		_, err := c.HandleEvents(ctx, msg.Data, msg.Header)
		return err
	})
}

// HandleSnapshot decodes data and evaluates it. Trace context in header
// becomes the parent of the evaluation span.
func (c *Client) HandleSnapshot(ctx context.Context, data []byte, header nats.Header) (*engine.Evaluation, error) {
	if c.handler == nil {
		return nil, errors.New("ingest: no snapshot handler")
	}
	ctx = tracing.Extract(ctx, http.Header(header))
	ctx, span := c.tracer.Start(ctx, "ingest.HandleSnapshot", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	snap, err := DecodeSnapshot(data)
	if err != nil {
		tracing.SetStatus(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("snapshot.date", snap.Date))

	eval, err := c.handler.OnSnapshot(ctx, snap)
	tracing.SetStatus(span, err)
	return eval, err
}

// HandleEvents decodes data and buffers the events. It returns how many
// events were accepted.
func (c *Client) HandleEvents(ctx context.Context, data []byte, header nats.Header) (int, error) {
	if c.events == nil {
		return 0, errors.New("ingest: no event sink")
	}
	_, span := c.tracer.Start(tracing.Extract(ctx, http.Header(header)), "ingest.HandleEvents",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	events, err := DecodeEvents(data)
	if err != nil {
		tracing.SetStatus(span, err)
		return 0, err
	}
	c.events.Add(events...)
	span.SetAttributes(attribute.Int("events.count", len(events)))
	c.logger.Debug("events buffered", "count", len(events))
	return len(events), nil
}

// PublishSnapshot sends snap on the snapshot subject with the trace
// context of ctx in the message headers.
func (c *Client) PublishSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	return c.publish(ctx, c.config.SnapshotSubject, snap)
}

// PublishEvents sends events on the event subject.
func (c *Client) PublishEvents(ctx context.Context, events []snapshot.Event) error {
	return c.publish(ctx, c.config.EventSubject, events)
}

func (c *Client) publish(ctx context.Context, subject string, v any) error {
	if c.nc == nil {
		return errNotConnected
	}
	if subject == "" {
		return errEmptySubject
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	tracing.Inject(ctx, http.Header(msg.Header))
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return c.nc.FlushWithContext(ctx)
}

// Connected reports whether the NATS connection is up.
func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Ping is a readiness check for the NATS connection.
func (c *Client) Ping(context.Context) error {
	if !c.Connected() {
		return errNotConnected
	}
	return nil
}

// Close drains the subscriptions and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	c.mu.Lock()
	c.subs = nil
	c.mu.Unlock()
	return c.nc.Drain()
}

// DecodeSnapshot parses a snapshot message. Both the nested
// {"date", "metrics": {...}} and the flat producer form are accepted.
func DecodeSnapshot(data []byte) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	if len(bytes.TrimSpace(data)) == 0 {
		return snap, errors.New("ingest: empty snapshot message")
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("ingest: decode snapshot: %w", err)
	}
	if len(snap.Metrics) == 0 {
		return snap, errors.New("ingest: snapshot has no metrics")
	}
	return snap, nil
}

// DecodeEvents parses an event message holding either one event object or
// an array of events.
func DecodeEvents(data []byte) ([]snapshot.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("ingest: empty event message")
	}
	if trimmed[0] == '[' {
		var events []snapshot.Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("ingest: decode events: %w", err)
		}
		return events, nil
	}
	var e snapshot.Event
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return nil, fmt.Errorf("ingest: decode event: %w", err)
	}
	return []snapshot.Event{e}, nil
}
