package model

import "context"

// AlertSink receives every processed batch together with the alerts derived from it.
// Implementations know how to persist or forward them (gob snapshot, ClickHouse, NATS).
type AlertSink interface {
	// Name returns the sink type, used in logs.
	Name() string

	// Write persists or forwards one batch and its alerts.
	Write(ctx context.Context, batch *Batch, alerts []AlertRecord) error

	// Close releases connections held by the sink.
	Close() error
}

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}
