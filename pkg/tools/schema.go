package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/keplerai/kepler/pkg/papers"
)

// schemaFor reflects a JSON schema from an args struct's json and
// jsonschema tags, inlined and unwrapped the way LLM tool definitions
// expect.
func schemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal reflected schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("failed to decode reflected schema: %v", err))
	}

	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "additionalProperties")
	return m
}

// decodeArgs maps loosely-typed tool arguments onto a typed struct.
// Weak typing tolerates the float64 numbers JSON decoding produces.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, fmt.Errorf("failed to build args decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return out, fmt.Errorf("invalid arguments: %w", err)
	}
	return out, nil
}

// chunkList normalizes a chunk-producing tool's Data to []papers.Chunk.
func chunkList(data any) ([]papers.Chunk, bool) {
	switch v := data.(type) {
	case []papers.Chunk:
		return v, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}
