package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/vetclinic/libs/kafkax"
	otelx "github.com/md-rashed-zaman/vetclinic/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Store persists events in the same transaction as the state change that
// produced them.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	AppendOutbox(ctx context.Context, evt Event) error
	// FetchUnpublishedOutbox locks up to limit rows, skipping rows locked by
	// other publishers. It must run inside InTx.
	FetchUnpublishedOutbox(ctx context.Context, limit int) ([]Record, error)
	MarkOutboxPublished(ctx context.Context, ids []int64) error
}

// Append stamps the current trace context on evt and stores it.
func Append(ctx context.Context, store Store, evt Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	evt.Traceparent, evt.Tracestate = tc.Parent, tc.State
	if err := store.AppendOutbox(ctx, evt); err != nil {
		return fmt.Errorf("append outbox %s: %w", evt.EventType, err)
	}
	return nil
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	store     Store
	writer    Writer
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(store Store, writer Writer, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		store:     store,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// Drain publishes batches until the outbox is empty and returns the number
// of events sent.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := p.PublishBatch(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	if p.writer == nil {
		return 0, fmt.Errorf("outbox publisher has no kafka writer")
	}
	sent := 0
	err := p.store.InTx(ctx, func(ctx context.Context) error {
		records, err := p.store.FetchUnpublishedOutbox(ctx, p.batchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, message(ctx, r))
			ids = append(ids, r.ID)
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		if err := p.store.MarkOutboxPublished(ctx, ids); err != nil {
			return err
		}
		sent = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if sent > 0 {
		p.logger.Debug("outbox batch published", "count", sent)
	}
	return sent, nil
}

func message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.TraceContext{Parent: r.Traceparent, State: r.Tracestate}.Attach(ctx)
	meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType, AggregateType: r.AggregateType}
	msg := kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: meta.Headers(),
	}
	kafkax.InjectTrace(msgCtx, &msg)
	return msg
}
