package model

import (
	"encoding/json"
)

// splitExtras unmarshals data into a raw map and returns the keys that are
// not in the known set. Unknown fields are preserved verbatim so a record
// written back to the cache survives remote schema additions.
func splitExtras(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	extras := make(map[string]json.RawMessage)
	for k, v := range m {
		if !known[k] {
			extras[k] = v
		}
	}
	if len(extras) == 0 {
		return nil, nil
	}
	return extras, nil
}

// mergeExtras marshals v (a record without its extras), then re-attaches the
// preserved unknown fields. Known fields always win over stale extras.
func mergeExtras(v interface{}, extras map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extras) == 0 {
		return base, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, raw := range extras {
		if _, ok := m[k]; !ok {
			m[k] = raw
		}
	}
	return json.Marshal(m)
}

// knownKeys builds a lookup set from a list of JSON field names.
func knownKeys(names ...string) map[string]bool {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	return known
}
