package kafkax

import (
	"github.com/segmentio/kafka-go"
)

// Header keys stamped on every published domain event.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
}

// Headers renders meta as message headers, skipping empty fields.
func (m EventMeta) Headers() []kafka.Header {
	var hs []kafka.Header
	for _, kv := range [][2]string{
		{HeaderEventID, m.EventID},
		{HeaderEventType, m.EventType},
		{HeaderAggregateType, m.AggregateType},
	} {
		if kv[1] != "" {
			hs = append(hs, kafka.Header{Key: kv[0], Value: []byte(kv[1])})
		}
	}
	return hs
}

// ExtractEventMeta reads meta from headers. Producers that set no headers
// fall back to the message key as id and the topic as type.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		AggregateType: HeaderValue(msg.Headers, HeaderAggregateType),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
