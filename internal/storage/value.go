package storage

import (
	"encoding/json"
)

// Value is a stored payload exactly as it was written: raw text for strings,
// JSON for everything else.
type Value struct {
	raw string
}

func (v Value) String() string { return v.raw }

// IsJSON reports whether the payload parses as JSON.
func (v Value) IsJSON() bool { return json.Valid([]byte(v.raw)) }

// Decode unmarshals the payload into dst.
func (v Value) Decode(dst any) error { return json.Unmarshal([]byte(v.raw), dst) }

// Get reads key from tier and decodes it into T. When the payload is not JSON
// and T is string, the raw text is returned. Anything else that fails to decode
// reads as absent.
func Get[T any](s *Store, key string, tier Tier) (T, bool) {
	var out T
	v, ok := s.Get(key, tier)
	if !ok {
		return out, false
	}
	if err := v.Decode(&out); err == nil {
		return out, true
	}
	if p, isString := any(&out).(*string); isString {
		*p = v.raw
		return out, true
	}
	return out, false
}

func encode(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
