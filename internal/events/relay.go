package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to every relayed event type to form
// the NATS subject: task.started publishes to foreman.task.started.
const DefaultSubjectPrefix = "foreman"

// Relay forwards bus events to a NATS server so external consumers can
// observe orchestration without linking against this process.
type Relay struct {
	nc     *nats.Conn
	bus    *Bus
	prefix string
	logger *slog.Logger
}

// NewRelay connects to the NATS server at url and returns a relay that
// will forward events from bus once Run is called.
func NewRelay(url string, bus *Bus, logger *slog.Logger) (*Relay, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Relay{
		nc:     nc,
		bus:    bus,
		prefix: DefaultSubjectPrefix,
		logger: logger,
	}, nil
}

// Run consumes all bus events and publishes them as JSON until ctx is
// cancelled or the bus closes. Publish failures are logged and skipped;
// the relay never stops the orchestrator.
func (r *Relay) Run(ctx context.Context) error {
	ch := r.bus.SubscribeAll(512)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.publish(ev)
		}
	}
}

func (r *Relay) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("relay marshal failed", "type", ev.EventType(), "error", err)
		return
	}

	subject := r.prefix + "." + ev.EventType()
	if err := r.nc.Publish(subject, data); err != nil {
		r.logger.Warn("relay publish failed", "subject", subject, "error", err)
	}
}

// Close drains and closes the NATS connection.
func (r *Relay) Close() {
	if r.nc != nil {
		r.nc.Drain()
		r.nc.Close()
	}
}
