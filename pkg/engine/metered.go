package engine

import (
	"context"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/dispatch"
	"mercator-hq/sentinel/pkg/notify"
	"mercator-hq/sentinel/pkg/telemetry/metrics"
)

// meteredNotifier counts deliveries per channel.
type meteredNotifier struct {
	dispatch.Notifier
	metrics *metrics.Collector
}

func (n *meteredNotifier) Send(ctx context.Context, msg notify.Message) error {
	err := n.Notifier.Send(ctx, msg)
	status := "ok"
	if err != nil {
		status = "error"
	}
	n.metrics.RecordNotification(n.Channel(), status)
	return err
}

// meteredStorage counts ledger appends per action.
type meteredStorage struct {
	audit.Storage
	metrics *metrics.Collector
}

func (s *meteredStorage) Append(ctx context.Context, e *audit.Entry) error {
	err := s.Storage.Append(ctx, e)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordAuditWrite(e.Action, status)
	return err
}
