package outbox_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func appendEvents(t *testing.T, store outbox.Store, n int) []outbox.Event {
	t.Helper()
	var out []outbox.Event
	for i := 0; i < n; i++ {
		evt, err := outbox.NewEvent(outbox.AggregateAppointment, "appt-1", outbox.AppointmentCreated, map[string]int{"n": i})
		if err != nil {
			t.Fatal(err)
		}
		if err := outbox.Append(context.Background(), store, evt); err != nil {
			t.Fatal(err)
		}
		out = append(out, evt)
	}
	return out
}

func TestDrainPublishesInOrder(t *testing.T) {
	store := storage.NewMemory()
	events := appendEvents(t, store, 5)
	w := &fakeWriter{}
	p := outbox.NewPublisher(store, w, slog.New(slog.NewTextHandler(io.Discard, nil)), outbox.PublisherConfig{BatchSize: 2})

	n, err := p.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || len(w.msgs) != 5 {
		t.Fatalf("sent %d, writer has %d", n, len(w.msgs))
	}
	for i, m := range w.msgs {
		if m.Topic != outbox.AppointmentCreated || string(m.Key) != "appt-1" {
			t.Fatalf("message %d topic=%s key=%s", i, m.Topic, m.Key)
		}
		if header(m, "event_id") != events[i].EventID {
			t.Fatalf("message %d out of order", i)
		}
		if header(m, "aggregate_type") != outbox.AggregateAppointment {
			t.Fatalf("aggregate header = %q", header(m, "aggregate_type"))
		}
	}

	again, err := p.PublishBatch(context.Background())
	if err != nil || again != 0 {
		t.Fatalf("second batch = %d %v", again, err)
	}
}

func TestPublishBatchKeepsEventsOnWriteFailure(t *testing.T) {
	store := storage.NewMemory()
	appendEvents(t, store, 2)
	w := &fakeWriter{err: errors.New("broker down")}
	p := outbox.NewPublisher(store, w, slog.New(slog.NewTextHandler(io.Discard, nil)), outbox.PublisherConfig{})

	if _, err := p.PublishBatch(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	w.err = nil
	n, err := p.PublishBatch(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("retry = %d %v", n, err)
	}
}

func TestPublishBatchWithoutWriter(t *testing.T) {
	p := outbox.NewPublisher(storage.NewMemory(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)), outbox.PublisherConfig{})
	if _, err := p.PublishBatch(context.Background()); err == nil {
		t.Fatal("expected error without writer")
	}
	// Run returns immediately when disabled.
	p.Run(context.Background())
}

func TestNewEventEncodesPayload(t *testing.T) {
	evt, err := outbox.NewEvent(outbox.AggregateTimeSlot, "slot-1", outbox.SlotReleased, map[string]string{"slot_id": "slot-1"})
	if err != nil {
		t.Fatal(err)
	}
	if evt.EventID == "" || string(evt.Payload) != `{"slot_id":"slot-1"}` {
		t.Fatalf("event = %+v", evt)
	}
	if _, err := outbox.NewEvent(outbox.AggregateTimeSlot, "x", outbox.SlotReleased, make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}
