package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NewUppercaseOperator returns a map operator that upper-cases every string
// inside a JSON document. Values may be raw JSON bytes, strings or already
// decoded maps and slices; byte input produces byte output.
func NewUppercaseOperator(id string) *MapOperator {
	return NewMapOperator(id, uppercaseValue)
}

func uppercaseValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case []byte:
		var doc interface{}
		if err := json.Unmarshal(v, &doc); err != nil {
			return nil, fmt.Errorf("decoding json document: %w", err)
		}
		doc = uppercaseJSON(doc)
		return json.Marshal(doc)
	case string:
		return strings.ToUpper(v), nil
	default:
		return uppercaseJSON(v), nil
	}
}

func uppercaseJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		return strings.ToUpper(v)
	case map[string]interface{}:
		for key, val := range v {
			v[key] = uppercaseJSON(val)
		}
	case []interface{}:
		for i, val := range v {
			v[i] = uppercaseJSON(val)
		}
	}
	return data
}

func toKey(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
