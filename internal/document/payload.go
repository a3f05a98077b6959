package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PayloadKind tags which variant a Payload holds.
type PayloadKind int

const (
	PayloadNull PayloadKind = iota
	PayloadObject
	PayloadArray
	PayloadScalar
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadNull:
		return "null"
	case PayloadObject:
		return "object"
	case PayloadArray:
		return "array"
	case PayloadScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// WrapKey is the synthetic key non-object payloads are stored under.
const WrapKey = "value"

// Payload is a structured value of unknown shape. The zero value is null.
type Payload struct {
	kind   PayloadKind
	object map[string]any
	array  []any
	scalar any
}

func ObjectPayload(m map[string]any) Payload {
	if m == nil {
		m = map[string]any{}
	}
	return Payload{kind: PayloadObject, object: m}
}

func ArrayPayload(items ...any) Payload {
	if items == nil {
		items = []any{}
	}
	return Payload{kind: PayloadArray, array: items}
}

// ScalarPayload holds a string, float64 or bool. nil yields a null payload.
func ScalarPayload(v any) Payload {
	if v == nil {
		return Payload{}
	}
	return Payload{kind: PayloadScalar, scalar: v}
}

func (p Payload) Kind() PayloadKind { return p.kind }

// Object returns the payload as a keyed mapping. Objects are returned as-is;
// every other variant is wrapped under WrapKey.
func (p Payload) Object() map[string]any {
	switch p.kind {
	case PayloadObject:
		return p.object
	case PayloadArray:
		return map[string]any{WrapKey: p.array}
	case PayloadScalar:
		return map[string]any{WrapKey: p.scalar}
	default:
		return map[string]any{WrapKey: nil}
	}
}

// Value returns the payload as a plain Go value, as encoding/json would
// decode it.
func (p Payload) Value() any {
	switch p.kind {
	case PayloadObject:
		return p.object
	case PayloadArray:
		return p.array
	case PayloadScalar:
		return p.scalar
	default:
		return nil
	}
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*p = Payload{}
		return nil
	}
	switch data[0] {
	case '{':
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decoding object payload: %w", err)
		}
		*p = ObjectPayload(m)
	case '[':
		var a []any
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decoding array payload: %w", err)
		}
		*p = ArrayPayload(a...)
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decoding scalar payload: %w", err)
		}
		*p = ScalarPayload(v)
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Value())
}
