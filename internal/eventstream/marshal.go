package eventstream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// marshalFlat merges {"type": kind} with the marshaled payload's own fields
// into a single flat JSON object, so the wire event is `{"type":"...",
// ...payload fields}` rather than a nested envelope.
func marshalFlat(kind Kind, payload any) ([]byte, error) {
	typeField, err := json.Marshal(map[string]Kind{"type": kind})
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return typeField, nil
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventstream: marshal payload: %w", err)
	}

	trimmed := bytes.TrimSpace(payloadJSON)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return typeField, nil
	}
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return nil, fmt.Errorf("eventstream: payload for %q must marshal to a JSON object, got %s", kind, trimmed)
	}

	// typeField is always `{"type":"..."}`; splice the payload's fields in
	// after it rather than decoding to a generic map, to preserve the
	// payload struct's own field ordering on the wire.
	out := make([]byte, 0, len(typeField)+len(trimmed))
	out = append(out, typeField[:len(typeField)-1]...)
	out = append(out, ',')
	out = append(out, trimmed[1:]...)
	return out, nil
}
