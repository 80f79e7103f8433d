// Package notify forwards committed events to external sinks.
package notify

import (
	"context"
	"encoding/json"
	"strings"

	"loadline/internal/domain"
)

// Sink delivers one event. Deliver must be safe to repeat: the dispatcher
// delivers at least once and receivers deduplicate by event id.
type Sink interface {
	ID() string
	Accepts(eventType string) bool
	Deliver(ctx context.Context, evt domain.Event) error
}

// Envelope is the JSON body sent to every sink.
type Envelope struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	OrganizationID string          `json:"organization_id"`
	EntityKind     string          `json:"entity_kind"`
	EntityID       string          `json:"entity_id,omitempty"`
	ActorID        string          `json:"actor_id"`
	TS             string          `json:"ts"`
	Payload        json.RawMessage `json:"payload"`
	PayloadRaw     string          `json:"payload_raw,omitempty"`
}

func NewEnvelope(evt domain.Event) Envelope {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	return Envelope{
		ID:             evt.ID,
		Type:           evt.Type,
		OrganizationID: evt.OrganizationID,
		EntityKind:     evt.EntityKind,
		EntityID:       evt.EntityID,
		ActorID:        evt.ActorID,
		TS:             evt.TS,
		Payload:        payload,
		PayloadRaw:     raw,
	}
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

// newEventFilter matches everything when events is empty. A trailing ".*"
// matches a type prefix, so "conflict.*" selects every conflict event.
func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}
