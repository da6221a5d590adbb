// internal/nlg/decode.go
package nlg

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// internal identifier of a stored response, not exposed to API consumers
const payloadKeyField = "key"

// DecodePayload parses a stored YAML payload into a record and removes its "key" field.
func DecodePayload(raw string) (map[string]interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	record, ok := normalizeYAML(doc).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: payload must be a mapping, got %T", ErrDecode, doc)
	}

	delete(record, payloadKeyField)
	return record, nil
}

// normalizeYAML turns maps with non-string keys into map[string]interface{} so the
// record can be encoded as JSON downstream.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
