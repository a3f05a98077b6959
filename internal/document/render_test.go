package document

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
)

func TestRender(t *testing.T) {
	stored := []StoredField{
		{Name: "id", Value: "7"},
		{Name: "title", Value: "Hello"},
		{Name: "tags", ArrayPositions: []uint64{1}, Value: "search"},
		{Name: "tags", ArrayPositions: []uint64{0}, Value: "rust"},
		{Name: "create_at", Value: float64(1700000000)},
		{Name: "features#json", Value: `{"lang":"en","list":["a","b"],"meta":{"score":0.5}}`},
	}

	out := Render(schema.Default(), stored)
	assert.Equal(t, "7", out["id"])
	assert.Equal(t, "Hello", out["title"])
	assert.Equal(t, []string{"rust", "search"}, out["tags"])
	assert.Equal(t, "1700000000", out["create_at"])
	assert.Equal(t, `{"lang":"en","list":["a","b"],"meta":{"score":0.5}}`, out["features"])
	assert.NotContains(t, out, "features#json")
}

func TestRenderIgnoresObjectLeaves(t *testing.T) {
	out := Render(schema.Default(), []StoredField{
		{Name: "features.items.k", ArrayPositions: []uint64{0}, Value: "v1"},
		{Name: "features#json", Value: `{"items":[{"k":"v1"}]}`},
	})
	assert.Equal(t, map[string]any{"features": `{"items":[{"k":"v1"}]}`}, out)
}

func TestRenderSingleTagIsList(t *testing.T) {
	out := Render(schema.Default(), []StoredField{{Name: "tags", Value: "rust"}})
	assert.Equal(t, []string{"rust"}, out["tags"])
}

func TestRenderWrappedScalarFeatures(t *testing.T) {
	out := Render(schema.Default(), []StoredField{{Name: "features#json", Value: `{"value":42}`}})
	assert.Equal(t, `{"value":42}`, out["features"])
}
