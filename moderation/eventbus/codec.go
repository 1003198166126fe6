package eventbus

import (
	"encoding/json"
	"fmt"
)

// Name of the stream entry field which carries the JSON-encoded event.
const eventField = "event"

type envelope struct {
	EventType string `json:"eventType"`
}

// Encodes an event as a flat JSON object, with the eventType discriminator added
// alongside the event's own fields.
func Encode(eventType string, evt any) ([]byte, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("event must encode as a JSON object: %w", err)
	}
	et, err := json.Marshal(eventType)
	if err != nil {
		return nil, err
	}
	fields["eventType"] = et
	return json.Marshal(fields)
}

// Extracts the eventType discriminator without decoding the rest of the event.
func PeekType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.EventType == "" {
		return "", fmt.Errorf("event has no eventType")
	}
	return env.EventType, nil
}
