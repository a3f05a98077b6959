// Package schema declares the fixed set of indexed fields and binds each one
// to an analyzer. The registry builds the bleve index mapping that both the
// writer and the searchers use.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	FieldID       = "id"
	FieldTitle    = "title"
	FieldBody     = "body"
	FieldTags     = "tags"
	FieldCreateAt = "create_at"
	FieldStatus   = "status"
	FieldFeatures = "features"
)

const (
	// AnalyzerMultilingual lowercases the whole value and splits it into
	// overlapping 2- and 3-character grams, so CJK text without word
	// boundaries is searchable by substring.
	AnalyzerMultilingual = "multilingual_ngram"
	// AnalyzerTags splits on whitespace only; a tag is matched whole.
	AnalyzerTags = "whitespace_lowercase"

	filterNgram = "ngram_2_3"

	// allField is the bleve composite field. Only object fields feed it, so
	// it doubles as the catch-all for querying inside structured payloads.
	allField = "_all"

	// sourceSuffix names the stored, unindexed field that keeps an object
	// field's JSON text. '#' cannot appear in a field name or in a fielded
	// query clause.
	sourceSuffix = "#json"
)

// ErrFieldCollision is returned when two fields share a name.
var ErrFieldCollision = errors.New("schema: field name collision")

// Kind selects how a field is analyzed and stored.
type Kind int

const (
	KindKeyword Kind = iota
	KindMultilingualText
	KindTagText
	KindInteger
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindKeyword:
		return "keyword"
	case KindMultilingualText:
		return "multilingual_text"
	case KindTagText:
		return "tag_text"
	case KindInteger:
		return "integer"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Field binds a name to a kind. DefaultSearch marks fields that unqualified
// query clauses are expanded over.
type Field struct {
	Name          string
	Kind          Kind
	DefaultSearch bool
}

// QueryPath is the engine field a query against f targets.
func (f Field) QueryPath() string {
	if f.Kind == KindObject {
		return allField
	}
	return f.Name
}

// SourcePath is the stored field holding the JSON text of an object field,
// or "" for other kinds. The object's leaves are indexed for querying but
// not stored.
func (f Field) SourcePath() string {
	if f.Kind == KindObject {
		return f.Name + sourceSuffix
	}
	return ""
}

// Analyzer returns the analyzer name bound to f, or "" for non-text kinds.
func (f Field) Analyzer() string {
	switch f.Kind {
	case KindKeyword:
		return keyword.Name
	case KindMultilingualText:
		return AnalyzerMultilingual
	case KindTagText:
		return AnalyzerTags
	case KindObject:
		return standard.Name
	default:
		return ""
	}
}

// DefaultFields is the document schema served by this service.
func DefaultFields() []Field {
	return []Field{
		{Name: FieldID, Kind: KindKeyword},
		{Name: FieldTitle, Kind: KindMultilingualText, DefaultSearch: true},
		{Name: FieldBody, Kind: KindMultilingualText, DefaultSearch: true},
		{Name: FieldTags, Kind: KindTagText, DefaultSearch: true},
		{Name: FieldCreateAt, Kind: KindInteger},
		{Name: FieldStatus, Kind: KindKeyword},
		{Name: FieldFeatures, Kind: KindObject, DefaultSearch: true},
	}
}

// Registry is immutable after New.
type Registry struct {
	fields   []Field
	byName   map[string]Field
	bySource map[string]Field

	mappingOnce sync.Once
	mapping     *mapping.IndexMappingImpl
	mappingErr  error
}

// New validates fields and returns a registry. Field order is preserved.
func New(fields ...Field) (*Registry, error) {
	byName := make(map[string]Field, len(fields))
	bySource := make(map[string]Field)
	for _, f := range fields {
		if f.Name == "" {
			return nil, errors.New("schema: field with empty name")
		}
		if strings.ContainsAny(f.Name, ".#") {
			return nil, fmt.Errorf("schema: field name %q contains '.' or '#'", f.Name)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrFieldCollision, f.Name)
		}
		byName[f.Name] = f
		if p := f.SourcePath(); p != "" {
			bySource[p] = f
		}
	}
	return &Registry{
		fields:   append([]Field(nil), fields...),
		byName:   byName,
		bySource: bySource,
	}, nil
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	r, err := New(DefaultFields()...)
	if err != nil {
		return nil, err
	}
	if _, err := r.IndexMapping(); err != nil {
		return nil, err
	}
	return r, nil
})

// Default returns the process-wide registry for DefaultFields. It panics if
// the schema is invalid, which can only happen at startup.
func Default() *Registry {
	r, err := defaultRegistry()
	if err != nil {
		panic(fmt.Sprintf("schema: building default registry: %v", err))
	}
	return r
}

func (r *Registry) Field(name string) (Field, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// FieldForSource returns the object field whose SourcePath is path.
func (r *Registry) FieldForSource(path string) (Field, bool) {
	f, ok := r.bySource[path]
	return f, ok
}

func (r *Registry) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// DefaultSearchFields returns the fields unqualified query clauses target.
func (r *Registry) DefaultSearchFields() []Field {
	var out []Field
	for _, f := range r.fields {
		if f.DefaultSearch {
			out = append(out, f)
		}
	}
	return out
}

// DefaultQueryPaths is DefaultSearchFields resolved to engine field paths,
// deduplicated.
func (r *Registry) DefaultQueryPaths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range r.DefaultSearchFields() {
		p := f.QueryPath()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// IndexMapping registers the custom analyzers and returns the bleve mapping
// for the schema. Repeated calls return the same mapping.
func (r *Registry) IndexMapping() (*mapping.IndexMappingImpl, error) {
	r.mappingOnce.Do(func() {
		r.mapping, r.mappingErr = r.buildMapping()
	})
	return r.mapping, r.mappingErr
}

func (r *Registry) buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomTokenFilter(filterNgram, map[string]interface{}{
		"type": ngram.Name,
		"min":  2.0,
		"max":  3.0,
	})
	if err != nil {
		return nil, fmt.Errorf("adding ngram filter: %w", err)
	}
	err = im.AddCustomAnalyzer(AnalyzerMultilingual, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": single.Name,
		"token_filters": []string{
			lowercase.Name,
			filterNgram,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("adding %s analyzer: %w", AnalyzerMultilingual, err)
	}
	err = im.AddCustomAnalyzer(AnalyzerTags, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("adding %s analyzer: %w", AnalyzerTags, err)
	}

	doc := bleve.NewDocumentStaticMapping()
	for _, f := range r.fields {
		switch f.Kind {
		case KindKeyword, KindMultilingualText, KindTagText:
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = f.Analyzer()
			fm.Store = true
			fm.IncludeInAll = false
			fm.IncludeTermVectors = f.Kind != KindKeyword
			doc.AddFieldMappingsAt(f.Name, fm)
		case KindInteger:
			fm := bleve.NewNumericFieldMapping()
			fm.Store = true
			fm.IncludeInAll = false
			doc.AddFieldMappingsAt(f.Name, fm)
		case KindObject:
			sub := bleve.NewDocumentMapping()
			sub.Dynamic = true
			sub.DefaultAnalyzer = f.Analyzer()
			doc.AddSubDocumentMapping(f.Name, sub)

			src := bleve.NewTextFieldMapping()
			src.Analyzer = keyword.Name
			src.Index = false
			src.Store = true
			src.IncludeInAll = false
			src.DocValues = false
			doc.AddFieldMappingsAt(f.SourcePath(), src)
		default:
			return nil, fmt.Errorf("schema: field %q has unknown kind %d", f.Name, f.Kind)
		}
	}

	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	im.DefaultField = allField
	// Dynamic fields only occur under object fields, whose text is stored
	// whole under SourcePath.
	im.StoreDynamic = false
	im.IndexDynamic = true
	im.DocValuesDynamic = false

	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("validating index mapping: %w", err)
	}
	return im, nil
}
