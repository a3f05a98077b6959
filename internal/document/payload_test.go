package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadObjectWrapsNonObjects(t *testing.T) {
	tests := []struct {
		name string
		json string
		kind PayloadKind
		want map[string]any
	}{
		{"object", `{"lang":"en","n":1}`, PayloadObject, map[string]any{"lang": "en", "n": float64(1)}},
		{"number", `42`, PayloadScalar, map[string]any{WrapKey: float64(42)}},
		{"string", `"hello"`, PayloadScalar, map[string]any{WrapKey: "hello"}},
		{"array", `[1,"a"]`, PayloadArray, map[string]any{WrapKey: []any{float64(1), "a"}}},
		{"null", `null`, PayloadNull, map[string]any{WrapKey: nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Payload
			require.NoError(t, json.Unmarshal([]byte(tt.json), &p))
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.want, p.Object())
		})
	}
}

func TestPayloadZeroValueIsNull(t *testing.T) {
	var p Payload
	assert.Equal(t, PayloadNull, p.Kind())
	assert.Nil(t, p.Value())

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `null`, string(data))
}

func TestPayloadInsideDocument(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","features":{"lang":"zh"}}`), &doc))
	assert.Equal(t, map[string]any{"lang": "zh"}, doc.Features.Object())

	var missing Document
	require.NoError(t, json.Unmarshal([]byte(`{"id":"2"}`), &missing))
	assert.Equal(t, PayloadNull, missing.Features.Kind())

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"features":{"lang":"zh"}`)
}

func TestPayloadRejectsMalformed(t *testing.T) {
	var p Payload
	assert.Error(t, p.UnmarshalJSON([]byte(`{"a":`)))
}
