package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Carrier exposes the headers of one message to the global propagator.
type Carrier struct {
	Msg *kafka.Message
}

var _ propagation.TextMapCarrier = Carrier{}

func (c Carrier) Get(key string) string { return HeaderValue(c.Msg.Headers, key) }

func (c Carrier) Keys() []string {
	keys := make([]string, 0, len(c.Msg.Headers))
	for _, h := range c.Msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// Set replaces an existing header of the same key.
func (c Carrier) Set(key, value string) {
	for i := range c.Msg.Headers {
		if c.Msg.Headers[i].Key == key {
			c.Msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.Msg.Headers = append(c.Msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

// InjectTrace stamps the span context of ctx on msg.
func InjectTrace(ctx context.Context, msg *kafka.Message) {
	otel.GetTextMapPropagator().Inject(ctx, Carrier{Msg: msg})
}

// StartConsumeSpan opens a consumer span for msg as a child of the producer's
// span, when the message carries one.
func StartConsumeSpan(ctx context.Context, tracer trace.Tracer, msg kafka.Message) (context.Context, trace.Span) {
	parent := otel.GetTextMapPropagator().Extract(ctx, Carrier{Msg: &msg})
	meta := ExtractEventMeta(msg)
	return tracer.Start(parent, msg.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.destination.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
			attribute.String("messaging.message.id", meta.EventID),
		),
	)
}
