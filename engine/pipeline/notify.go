package pipeline

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/docqa/pkg/natsutil"
)

// StageEvent is published when a pipeline stage finishes.
type StageEvent struct {
	Stage    string        `json:"stage"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Notifier receives stage events.
type Notifier interface {
	Notify(ctx context.Context, ev StageEvent) error
}

// NATSNotifier publishes stage events to "<subject>.<stage>".
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier creates a NATSNotifier.
func NewNATSNotifier(nc *nats.Conn, subject string) *NATSNotifier {
	return &NATSNotifier{nc: nc, subject: subject}
}

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, ev StageEvent) error {
	return natsutil.Publish(ctx, n.nc, n.subject+"."+ev.Stage, ev)
}
