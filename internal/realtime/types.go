package realtime

import (
	"encoding/json"
	"fmt"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is the wire frame in both directions. Type is dot-namespaced, for
// example "invoice.created".
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(eventType string, payload any) (Event, error) {
	event := Event{Type: eventType}
	if payload == nil {
		return event, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	event.Payload = data
	return event, nil
}

// DecodePayload unmarshals the raw payload into v. An absent payload leaves
// v untouched.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

type Listener func(Event)
