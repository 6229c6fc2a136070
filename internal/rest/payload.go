package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is an insertion-ordered key/value sequence for broker request
// bodies. The Checker signature covers the serialized bytes, so key order
// must survive marshalling bit-for-bit; a plain map cannot guarantee that.
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// Set appends key with value, or overwrites the value in place if the key
// is already present (its position is preserved). Returns the payload for
// chaining. Values are limited to what broker endpoints carry: strings,
// bools, and numbers.
func (p *Payload) Set(key string, value any) *Payload {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Len returns the number of keys.
func (p *Payload) Len() int { return len(p.keys) }

// Keys returns the key sequence in insertion order.
func (p *Payload) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// MarshalJSON emits compact JSON preserving insertion order.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
