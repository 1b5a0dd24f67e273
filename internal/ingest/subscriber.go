// Package ingest consumes operation commands from NATS JetStream, parses
// them and runs them against the matching engine. Commands arrive on
// peerlend.cmd.{command_type}.{market} subjects and are applied in arrival
// order by a single runner, which keeps the engine's command path serial.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"peerlend/internal/engine"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ConnectNATS dials NATS with unbounded reconnects and returns the
// JetStream handle.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// StreamName holds the inbound command stream.
const StreamName = "PEERLEND_COMMANDS"

const subjectRoot = "peerlend.cmd"

// RawCommand is the parsed-but-untyped command from NATS, ready to be
// validated and converted into a typed Command.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
}

// DefaultSubjects returns one consumer per operation.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: subjectRoot + ".supply.>", CommandType: "supply", ConsumerName: "peerlend-supply"},
		{Subject: subjectRoot + ".borrow.>", CommandType: "borrow", ConsumerName: "peerlend-borrow"},
		{Subject: subjectRoot + ".withdraw.>", CommandType: "withdraw", ConsumerName: "peerlend-withdraw"},
		{Subject: subjectRoot + ".repay.>", CommandType: "repay", ConsumerName: "peerlend-repay"},
		{Subject: subjectRoot + ".liquidate.>", CommandType: "liquidate", ConsumerName: "peerlend-liquidate"},
	}
}

// CommandSubscriber creates JetStream consumers and feeds raw commands
// into cmdChan for the runner.
type CommandSubscriber struct {
	js        jetstream.JetStream
	cmdChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

func NewCommandSubscriber(js jetstream.JetStream, cmdChan chan<- RawCommand, logger zerolog.Logger) *CommandSubscriber {
	return &CommandSubscriber{
		js:      js,
		cmdChan: cmdChan,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (cs *CommandSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := cs.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case cs.cmdChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		cs.consumers = append(cs.consumers, consumerContext)
		cs.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// Stop drains all consumers.
func (cs *CommandSubscriber) Stop() {
	for _, c := range cs.consumers {
		c.Stop()
	}
}

// EnsureCommandStream creates the inbound command stream if it does not
// exist.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectRoot + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create command stream: %w", err)
	}
	return nil
}

// CommandTypeFromSubject extracts the command type token from a subject
// of the form peerlend.cmd.{command_type}.{market}.
func CommandTypeFromSubject(subject string) (string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0]+"."+parts[1] != subjectRoot {
		return "", fmt.Errorf("malformed command subject: %s", subject)
	}
	return parts[2], nil
}

// Runner applies raw commands to the engine one at a time. Its mutex is
// the serialization point for everything that touches the engine after
// startup; queries read through View.
type Runner struct {
	eng    *engine.Engine
	cmds   <-chan RawCommand
	mu     sync.Mutex
	logger zerolog.Logger
}

func NewRunner(eng *engine.Engine, cmds <-chan RawCommand, logger zerolog.Logger) *Runner {
	return &Runner{
		eng:    eng,
		cmds:   cmds,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// Run consumes commands until ctx is cancelled. Malformed messages and
// business rejections are acknowledged so they are not redelivered; only
// contention errors are NAKed for retry.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-r.cmds:
			r.handle(raw)
		}
	}
}

func (r *Runner) handle(raw RawCommand) {
	cmdType, err := CommandTypeFromSubject(raw.Subject)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping command")
		raw.AckFunc()
		return
	}

	cmd, err := ParseRawCommand(raw, cmdType)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		raw.AckFunc()
		return
	}

	r.mu.Lock()
	err = cmd.Apply(r.eng)
	r.mu.Unlock()
	if err != nil {
		if errors.Is(err, engine.ErrReentrancy) {
			raw.NakFunc()
			return
		}
		r.logger.Info().
			Err(err).
			Str("command", cmd.CommandType()).
			Str("market", cmd.Market()).
			Msg("command rejected")
		raw.AckFunc()
		return
	}

	raw.AckFunc()
}

// View runs f against the engine while no command is in flight. The
// query responder reads engine state through it.
func (r *Runner) View(f func(*engine.Engine)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(r.eng)
}
