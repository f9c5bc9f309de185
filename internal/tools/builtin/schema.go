package builtin

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// reflectSchema renders a JSON-schema object for an args struct, memoized
// per call site. Each tool's args type has its own cache slot since
// jsonschema.Reflect walks the concrete type passed to it.
func reflectSchema(once *sync.Once, cache *json.RawMessage, v any) json.RawMessage {
	once.Do(func() {
		r := &jsonschema.Reflector{FieldNameTag: "json"}
		schema := r.Reflect(v)
		payload, err := json.Marshal(schema)
		if err != nil {
			*cache = json.RawMessage(`{"type":"object"}`)
			return
		}
		*cache = json.RawMessage(payload)
	})
	return *cache
}
