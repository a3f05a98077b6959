// Package document converts application documents into the field map the
// index stores, and turns stored fields back into displayable values.
package document

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
)

// Document is the entity accepted by the mutation endpoints and the
// mutation stream. CreateAt is seconds since the epoch.
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
	CreateAt *int64   `json:"create_at,omitempty"`
	Status   string   `json:"status"`
	Features Payload  `json:"features"`
}

// EngineDocument is what the index writer consumes: an id plus a field map
// whose keys are schema field names.
type EngineDocument struct {
	ID     string
	Fields map[string]any
}

// Map converts doc into its engine representation. It has no side effects
// and returns equal results for equal inputs.
func Map(reg *schema.Registry, doc Document) (EngineDocument, error) {
	if doc.ID == "" {
		return EngineDocument{}, apperrors.New(apperrors.ErrMapping, http.StatusInternalServerError, "document id is empty")
	}

	fields := make(map[string]any, 7)
	set := func(name string, v any) error {
		if _, ok := reg.Field(name); !ok {
			return apperrors.Newf(apperrors.ErrMapping, http.StatusInternalServerError, "schema has no field %q", name)
		}
		fields[name] = v
		return nil
	}

	if err := set(schema.FieldID, doc.ID); err != nil {
		return EngineDocument{}, err
	}
	if err := set(schema.FieldTitle, doc.Title); err != nil {
		return EngineDocument{}, err
	}
	if err := set(schema.FieldBody, doc.Body); err != nil {
		return EngineDocument{}, err
	}
	if len(doc.Tags) > 0 {
		// One value per tag; each is analyzed on its own.
		if err := set(schema.FieldTags, slices.Clone(doc.Tags)); err != nil {
			return EngineDocument{}, err
		}
	}
	if doc.CreateAt != nil {
		if err := set(schema.FieldCreateAt, *doc.CreateAt); err != nil {
			return EngineDocument{}, err
		}
	}
	if err := set(schema.FieldStatus, doc.Status); err != nil {
		return EngineDocument{}, err
	}
	features, err := cloneValue(doc.Features.Object())
	if err != nil {
		return EngineDocument{}, apperrors.Newf(apperrors.ErrMapping, http.StatusInternalServerError, "features: %v", err)
	}
	if err := set(schema.FieldFeatures, features); err != nil {
		return EngineDocument{}, err
	}
	// The leaves above are indexed for per-key queries; the hit renders
	// from this text so the payload's shape survives.
	source, err := json.Marshal(features)
	if err != nil {
		return EngineDocument{}, apperrors.Newf(apperrors.ErrMapping, http.StatusInternalServerError, "features: %v", err)
	}
	f, _ := reg.Field(schema.FieldFeatures)
	fields[f.SourcePath()] = string(source)

	return EngineDocument{ID: doc.ID, Fields: fields}, nil
}

// cloneValue deep-copies a decoded JSON value so the engine document never
// aliases caller memory.
func cloneValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64, int64, int:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for _, k := range slices.Sorted(maps.Keys(t)) {
			c, err := cloneValue(t[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			c, err := cloneValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
