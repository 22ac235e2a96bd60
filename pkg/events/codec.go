package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned for event names outside the registry.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedPayload is returned for null, non-object, undecodable or
	// incomplete payloads.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Decode parses raw into the typed payload registered for name and validates
// its required keys.
func Decode(name Name, raw json.RawMessage) (Event, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %s expects an object payload", ErrMalformedPayload, name)
	}

	ev := e.new()
	if err := json.Unmarshal(trimmed, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}

	return ev, nil
}

// Encode validates ev and returns its wire name and JSON payload.
func Encode(ev Event) (Name, json.RawMessage, error) {
	if ev == nil {
		return "", nil, fmt.Errorf("%w: nil event", ErrMalformedPayload)
	}
	if err := ev.Validate(); err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, ev.Name(), err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return ev.Name(), data, nil
}

// IsMutation reports whether ev carries an originator and is therefore
// subject to self-echo suppression.
func IsMutation(ev Event) (string, bool) {
	m, ok := ev.(Mutation)
	if !ok {
		return "", false
	}
	return m.Origin(), true
}
