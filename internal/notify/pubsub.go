package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"loadline/internal/config"
	"loadline/internal/domain"
)

// PubSubSink publishes each event to a Google Cloud Pub/Sub topic. The event
// type and id travel as message attributes so subscribers can filter without
// decoding the body.
type PubSubSink struct {
	topic  *pubsub.Topic
	filter eventFilter
}

func NewPubSubSink(client *pubsub.Client, cfg config.PubSubConfig) *PubSubSink {
	return &PubSubSink{
		topic:  client.Topic(cfg.Topic),
		filter: newEventFilter(cfg.Events),
	}
}

func (s *PubSubSink) ID() string { return "pubsub:" + s.topic.ID() }

func (s *PubSubSink) Accepts(eventType string) bool { return s.filter.match(eventType) }

func (s *PubSubSink) Deliver(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(NewEnvelope(evt))
	if err != nil {
		return err
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type":      evt.Type,
			"event_id":        strconv.FormatInt(evt.ID, 10),
			"organization_id": evt.OrganizationID,
			"entity_kind":     evt.EntityKind,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event %d: %w", evt.ID, err)
	}
	return nil
}

// Stop flushes pending messages.
func (s *PubSubSink) Stop() {
	s.topic.Stop()
}
