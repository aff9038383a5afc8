// Package relay turns published slot events back into live changes, so
// subscribers connected to any replica hear about bookings made on another.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/md-rashed-zaman/vetclinic/libs/kafkax"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
)

// Topics carries every event that changes what a calendar shows.
var Topics = []string{
	outbox.AppointmentCreated,
	outbox.AppointmentConfirmed,
	outbox.AppointmentRescheduled,
	outbox.AppointmentCancelled,
	outbox.AppointmentAttended,
	outbox.SlotReleased,
}

var appointmentKinds = map[string]string{
	outbox.AppointmentCreated:   "booked",
	outbox.AppointmentConfirmed: "status",
	outbox.AppointmentCancelled: "cancelled",
	outbox.AppointmentAttended:  "status",
}

type Notifier interface {
	SlotsChanged(ctx context.Context, changes []model.SlotChange)
}

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Config struct {
	Brokers string
	// GroupID must be unique per replica so each one sees every event.
	GroupID string
}

func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: Topics,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

type Relay struct {
	reader   Reader
	notifier Notifier
	logger   *slog.Logger
}

func New(reader Reader, notifier Notifier, logger *slog.Logger) *Relay {
	return &Relay{reader: reader, notifier: notifier, logger: logger}
}

// Run reads until ctx ends and closes the reader.
func (r *Relay) Run(ctx context.Context) {
	defer r.reader.Close()

	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.handle(ctx, msg)
	}
}

func (r *Relay) handle(ctx context.Context, msg kafka.Message) {
	meta := kafkax.ExtractEventMeta(msg)
	ctx, span := kafkax.StartConsumeSpan(ctx, otel.Tracer("scheduling-service/relay"), msg)
	defer span.End()

	changes, err := Changes(meta.EventType, msg.Value)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("undecodable event skipped", "event_id", meta.EventID, "event_type", meta.EventType, "err", err)
		return
	}
	if len(changes) > 0 {
		r.notifier.SlotsChanged(ctx, changes)
	}
}

type bookedPayload struct {
	AppointmentID  string     `json:"appointment_id"`
	VeterinarianID string     `json:"veterinarian_id"`
	TimeSlotID     string     `json:"time_slot_id"`
	Date           model.Date `json:"appointment_date"`
}

type rescheduledPayload struct {
	AppointmentID string                 `json:"appointment_id"`
	Record        model.RescheduleRecord `json:"reschedule"`
}

type releasedPayload struct {
	SlotID         string     `json:"slot_id"`
	VeterinarianID string     `json:"veterinarian_id"`
	Date           model.Date `json:"date"`
	AppointmentID  string     `json:"appointment_id"`
}

// Changes maps one event body to the slot changes it implies. Events that
// name no veterinarian move no calendar and yield nothing.
func Changes(eventType string, body []byte) ([]model.SlotChange, error) {
	if kind, ok := appointmentKinds[eventType]; ok {
		var p bookedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		if p.VeterinarianID == "" {
			return nil, nil
		}
		return []model.SlotChange{{
			VeterinarianID: p.VeterinarianID, Date: p.Date, Kind: kind,
			SlotID: p.TimeSlotID, AppointmentID: p.AppointmentID,
		}}, nil
	}
	switch eventType {
	case outbox.AppointmentRescheduled:
		var p rescheduledPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		var out []model.SlotChange
		if r := p.Record; r.FromVeterinarianID != "" && r.FromSlotID == "" {
			out = append(out, model.SlotChange{
				VeterinarianID: r.FromVeterinarianID, Date: r.FromDate, Kind: "moved", AppointmentID: p.AppointmentID,
			})
		}
		if r := p.Record; r.ToVeterinarianID != "" {
			kind := "booked"
			if r.ToSlotID == "" {
				kind = "moved"
			}
			out = append(out, model.SlotChange{
				VeterinarianID: r.ToVeterinarianID, Date: r.ToDate, Kind: kind,
				SlotID: r.ToSlotID, AppointmentID: p.AppointmentID,
			})
		}
		return out, nil
	case outbox.SlotReleased:
		var p releasedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return []model.SlotChange{{
			VeterinarianID: p.VeterinarianID, Date: p.Date, Kind: "released",
			SlotID: p.SlotID, AppointmentID: p.AppointmentID,
		}}, nil
	default:
		return nil, nil
	}
}
