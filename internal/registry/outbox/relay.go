// Package outbox relays committed ledger events to downstream consumers.
//
// Events are written in the same transaction as the state change they describe and
// relayed afterwards, so a crash between commit and publish delays delivery but
// never loses it. Delivery is at-least-once; consumers dedupe on seq.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"certledger/internal/platform/kafka"
	"certledger/internal/registry/models"
)

// Source is the ledger side of the outbox.
type Source interface {
	ListUnpublishedEvents(ctx context.Context, limit int) ([]models.Event, error)
	MarkEventsPublished(ctx context.Context, seqs []uint64, at time.Time) error
}

// Publisher delivers encoded events.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Relay polls Source and hands batches to Publisher in seq order.
type Relay struct {
	source    Source
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(source Source, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  2 * time.Second,
		batchSize: 100,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run relays until ctx is cancelled. Publish failures are logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and marks it published. Returns the number of
// events relayed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.source.ListUnpublishedEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load unpublished events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	seqs := make([]uint64, 0, len(events))
	for _, ev := range events {
		msg, err := Encode(ev)
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, msg)
		seqs = append(seqs, ev.Seq)
	}
	if err := r.publisher.Publish(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	if err := r.source.MarkEventsPublished(ctx, seqs, r.now()); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	r.logger.DebugContext(ctx, "outbox batch relayed",
		"count", len(events),
		"last_seq", seqs[len(seqs)-1],
	)
	return len(events), nil
}

// Envelope is the wire form of a ledger event.
type Envelope struct {
	Seq           uint64    `json:"seq"`
	Type          string    `json:"type"`
	RequestID     uint64    `json:"request_id,omitempty"`
	CertificateID uint64    `json:"certificate_id,omitempty"`
	Account       string    `json:"account,omitempty"`
	Profession    string    `json:"profession,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Encode builds the relay message for ev. Records are keyed by certificate, or by
// request before a certificate exists, so one subject's events stay ordered
// within a partition.
func Encode(ev models.Event) (kafka.Message, error) {
	env := Envelope{
		Seq:           ev.Seq,
		Type:          string(ev.Type),
		RequestID:     uint64(ev.RequestID),
		CertificateID: uint64(ev.CertificateID),
		Profession:    ev.Profession,
		Detail:        ev.Detail,
		OccurredAt:    ev.OccurredAt.UTC(),
	}
	if !ev.Account.IsZero() {
		env.Account = ev.Account.String()
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}

	var key string
	switch {
	case ev.CertificateID != 0:
		key = "certificate-" + ev.CertificateID.String()
	case ev.RequestID != 0:
		key = "request-" + ev.RequestID.String()
	default:
		key = "account-" + env.Account
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			"event_type": env.Type,
			"seq":        strconv.FormatUint(ev.Seq, 10),
			"message_id": uuid.NewString(),
		},
	}, nil
}

// LogPublisher writes events to the structured log. Used when no brokers are
// configured so the outbox still drains.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		p.logger.InfoContext(ctx, "ledger event",
			"key", string(m.Key),
			"event_type", m.Headers["event_type"],
			"seq", m.Headers["seq"],
			"payload", string(m.Value),
		)
	}
	return nil
}
