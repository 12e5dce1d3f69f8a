package unit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Payload is the ordered key/value context passed to a workflow. Values may
// be scalars or structured objects such as a user record. A nil *Payload
// behaves as an empty payload.
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload creates an empty payload.
func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// PayloadOf builds a payload from alternating key/value arguments.
// It panics on an odd argument count or a non-string key (programming error).
func PayloadOf(kv ...any) *Payload {
	if len(kv)%2 != 0 {
		panic("unit: PayloadOf requires key/value pairs")
	}
	p := NewPayload()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("unit: PayloadOf key %v is %T, not string", kv[i], kv[i]))
		}
		p.Set(key, kv[i+1])
	}
	return p
}

// Set stores value under key. Re-setting a key keeps its original position.
func (p *Payload) Set(key string, value any) *Payload {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the raw value for key.
func (p *Payload) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p *Payload) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clone returns a shallow copy. Structured values are shared.
func (p *Payload) Clone() *Payload {
	c := NewPayload()
	for _, k := range p.Keys() {
		c.Set(k, p.values[k])
	}
	return c
}

// String returns the string stored under key.
func (p *Payload) String(key string) (string, error) {
	v, ok := p.Get(key)
	if !ok {
		return "", missingKey(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", wrongType(key, "string", v)
	}
	return s, nil
}

// Int returns the integer stored under key. Integral float64 and json.Number
// values, as produced by JSON decoding, are accepted.
func (p *Payload) Int(key string) (int64, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, missingKey(key)
	}
	n, ok := asInt(v)
	if !ok {
		return 0, wrongType(key, "integer", v)
	}
	return n, nil
}

// Bool returns the boolean stored under key.
func (p *Payload) Bool(key string) (bool, error) {
	v, ok := p.Get(key)
	if !ok {
		return false, missingKey(key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, wrongType(key, "bool", v)
	}
	return b, nil
}

// Time returns the time stored under key. RFC 3339 strings are parsed.
func (p *Payload) Time(key string) (time.Time, error) {
	v, ok := p.Get(key)
	if !ok {
		return time.Time{}, missingKey(key)
	}
	t, ok := asTime(v)
	if !ok {
		return time.Time{}, wrongType(key, "time", v)
	}
	return t, nil
}

// Object converts the value under key into out (a pointer) through its JSON
// form. Use it to recover a typed struct from a structured value.
func (p *Payload) Object(key string, out any) error {
	v, ok := p.Get(key)
	if !ok {
		return missingKey(key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unit: encode payload key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unit: decode payload key %q: %w", key, err)
	}
	return nil
}

// MarshalJSON encodes the payload as a JSON object in insertion order.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("unit: encode payload key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. Numbers decode as
// json.Number.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("unit: decode payload: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("unit: decode payload: expected object, got %v", tok)
	}

	*p = Payload{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("unit: decode payload key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unit: decode payload: non-string key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("unit: decode payload key %q: %w", key, err)
		}
		p.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("unit: decode payload: %w", err)
	}
	return nil
}

func missingKey(key string) error {
	return fmt.Errorf("unit: payload key %q missing", key)
}

func wrongType(key, want string, v any) error {
	return fmt.Errorf("unit: payload key %q is %T, want %s", key, v, want)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
