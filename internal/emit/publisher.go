// Package emit publishes engine events to NATS JetStream for downstream
// consumers. Delivery is best effort: the engine must never block on the
// messaging layer, so a full buffer drops the event and counts the drop.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peerlend/internal/engine"
	"peerlend/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// StreamName holds every outbound engine event.
	StreamName = "PEERLEND_EVENTS"

	// subjectRoot is the prefix for outbound subjects. The full subject is
	// peerlend.events.{event_type}.{market_id}.
	subjectRoot = "peerlend.events"

	defaultBufferSize = 1024
)

// envelope is the JSON wire format for an outbound event.
type envelope struct {
	EventType string       `json:"event_type"`
	MarketID  string       `json:"market_id"`
	Payload   engine.Event `json:"payload"`
	EmittedAt time.Time    `json:"emitted_at"`
}

// Publisher buffers engine events and publishes them to JetStream. It
// implements engine.Sink, so Emit is called with the engine's guard held
// and must return immediately.
type Publisher struct {
	js      jetstream.JetStream
	buffer  chan engine.Event
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		buffer:  make(chan engine.Event, defaultBufferSize),
		logger:  logger.With().Str("component", "emit").Logger(),
		metrics: metrics,
	}
}

// Emit queues the event for publishing. It never blocks: when the buffer
// is full the event is dropped and the drop counted.
func (p *Publisher) Emit(ev engine.Event) {
	select {
	case p.buffer <- ev:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.logger.Warn().
			Str("event_type", ev.EventType().String()).
			Str("market", ev.MarketID()).
			Msg("publish buffer full, event dropped")
	}
}

// Run drains the buffer until ctx is cancelled. Publish failures are
// non-fatal: downstream consumers can rebuild from a state snapshot.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.buffer:
			if err := p.publish(ctx, ev); err != nil {
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
				p.logger.Warn().
					Err(err).
					Str("event_type", ev.EventType().String()).
					Str("market", ev.MarketID()).
					Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev engine.Event) error {
	data, err := json.Marshal(envelope{
		EventType: ev.EventType().String(),
		MarketID:  ev.MarketID(),
		Payload:   ev,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", subjectRoot, ev.EventType().String(), ev.MarketID())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates the outbound events stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectRoot + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
