package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terms(t *testing.T, r *Registry, analyzer, text string) []string {
	t.Helper()
	im, err := r.IndexMapping()
	require.NoError(t, err)
	tokens, err := im.AnalyzeText(analyzer, []byte(text))
	require.NoError(t, err)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, string(tok.Term))
	}
	return out
}

func TestNewRejectsCollision(t *testing.T) {
	_, err := New(
		Field{Name: "title", Kind: KindMultilingualText},
		Field{Name: "title", Kind: KindKeyword},
	)
	require.ErrorIs(t, err, ErrFieldCollision)
}

func TestNewRejectsEmptyName(t *testing.T) {
	_, err := New(Field{Kind: KindKeyword})
	require.Error(t, err)
}

func TestNewRejectsPathCharacters(t *testing.T) {
	for _, name := range []string{"a.b", "features#json"} {
		_, err := New(Field{Name: name, Kind: KindKeyword})
		assert.Error(t, err, name)
	}
}

func TestObjectSourcePath(t *testing.T) {
	r := Default()
	features, ok := r.Field(FieldFeatures)
	require.True(t, ok)
	assert.Equal(t, "features#json", features.SourcePath())

	f, ok := r.FieldForSource("features#json")
	require.True(t, ok)
	assert.Equal(t, FieldFeatures, f.Name)

	title, _ := r.Field(FieldTitle)
	assert.Empty(t, title.SourcePath())
	_, ok = r.FieldForSource("title")
	assert.False(t, ok)

	im, err := r.IndexMapping()
	require.NoError(t, err)
	assert.False(t, im.StoreDynamic, "object leaves are not stored")
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	f, ok := r.Field(FieldTags)
	require.True(t, ok)
	assert.Equal(t, KindTagText, f.Kind)
	assert.Equal(t, AnalyzerTags, f.Analyzer())

	_, ok = r.Field("author")
	assert.False(t, ok)

	assert.Len(t, r.Fields(), 7)
	assert.Equal(t, []string{FieldTitle, FieldBody, FieldTags, "_all"}, r.DefaultQueryPaths())
	assert.Same(t, r, Default())
}

func TestFieldsReturnsCopy(t *testing.T) {
	r := Default()
	fields := r.Fields()
	fields[0].Name = "changed"
	f, ok := r.Field(FieldID)
	require.True(t, ok)
	assert.Equal(t, FieldID, f.Name)
	assert.Equal(t, FieldID, r.Fields()[0].Name)
}

func TestIndexMappingIsBuiltOnce(t *testing.T) {
	r, err := New(DefaultFields()...)
	require.NoError(t, err)
	first, err := r.IndexMapping()
	require.NoError(t, err)
	second, err := r.IndexMapping()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestMultilingualAnalyzer(t *testing.T) {
	r := Default()

	assert.ElementsMatch(t,
		[]string{"ru", "rus", "us", "ust", "st"},
		terms(t, r, AnalyzerMultilingual, "Rust"),
	)

	// No word boundaries are needed for CJK text.
	got := terms(t, r, AnalyzerMultilingual, "全文检索")
	assert.Contains(t, got, "全文")
	assert.Contains(t, got, "文检索")
}

func TestTagAnalyzer(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"rust", "search"}, terms(t, r, AnalyzerTags, "Rust  SEARCH"))
}

func TestQueryPath(t *testing.T) {
	assert.Equal(t, "_all", Field{Name: FieldFeatures, Kind: KindObject}.QueryPath())
	assert.Equal(t, FieldBody, Field{Name: FieldBody, Kind: KindMultilingualText}.QueryPath())
	assert.Equal(t, "", Field{Name: FieldCreateAt, Kind: KindInteger}.Analyzer())
}
