package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/collector"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
)

// Snapshot is an immutable point-in-time view of the index. It is reference
// counted; the reader is closed when the last reference is released.
type Snapshot struct {
	reader     index.IndexReader
	mapping    mapping.IndexMapping
	reg        *schema.Registry
	generation uint64
	opstamp    Opstamp
	docCount   uint64

	refs    int64
	onClose func(error)
}

// Hit is one ranked search result with its stored fields.
type Hit struct {
	ID     string
	Score  float64
	Fields []document.StoredField
}

// Generation increases by one for every snapshot opened on an index.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Opstamp is the last mutation stamp committed when the snapshot was opened.
func (s *Snapshot) Opstamp() Opstamp { return s.opstamp }

func (s *Snapshot) DocCount() uint64 { return s.docCount }

// TryIncRef takes a reference unless the snapshot has already been released.
func (s *Snapshot) TryIncRef() bool {
	for {
		refs := atomic.LoadInt64(&s.refs)
		if refs <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.refs, refs, refs+1) {
			return true
		}
	}
}

// DecRef releases a reference and closes the reader on the last one.
func (s *Snapshot) DecRef() {
	switch n := atomic.AddInt64(&s.refs, -1); {
	case n == 0:
		err := s.reader.Close()
		if s.onClose != nil {
			s.onClose(err)
		}
	case n < 0:
		panic(fmt.Sprintf("engine: snapshot %d released too many times", s.generation))
	}
}

// Search runs q against the snapshot and returns the top limit hits by
// score, with stored fields loaded, plus the total number of matches.
func (s *Snapshot) Search(ctx context.Context, q query.Query, limit int) ([]Hit, uint64, error) {
	searcher, err := q.Searcher(ctx, s.reader, s.mapping, search.SearcherOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("building searcher: %w", err)
	}
	defer searcher.Close()

	coll := collector.NewTopNCollector(limit, 0, search.SortOrder{&search.SortScore{Desc: true}})
	if err := coll.Collect(ctx, searcher, s.reader); err != nil {
		return nil, 0, fmt.Errorf("collecting results: %w", err)
	}

	matches := coll.Results()
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		fields, err := s.storedFields(m.ID)
		if err != nil {
			return nil, 0, err
		}
		hits = append(hits, Hit{ID: m.ID, Score: m.Score, Fields: fields})
	}
	return hits, coll.Total(), nil
}

// Document returns the stored fields of id, or nil if the snapshot does not
// contain it.
func (s *Snapshot) Document(id string) ([]document.StoredField, error) {
	return s.storedFields(id)
}

func (s *Snapshot) storedFields(id string) ([]document.StoredField, error) {
	doc, err := s.reader.Document(id)
	if err != nil {
		return nil, fmt.Errorf("loading stored fields of %q: %w", id, err)
	}
	if doc == nil {
		return nil, nil
	}
	var out []document.StoredField
	doc.VisitFields(func(f index.Field) {
		name := f.Name()
		if strings.HasPrefix(name, "_") {
			return
		}
		var v any
		switch tf := f.(type) {
		case index.NumericField:
			n, err := tf.Number()
			if err != nil {
				return
			}
			v = n
		case index.BooleanField:
			b, err := tf.Boolean()
			if err != nil {
				return
			}
			v = b
		case index.TextField:
			v = tf.Text()
		default:
			v = string(f.Value())
		}
		out = append(out, document.StoredField{
			Name:           name,
			ArrayPositions: append([]uint64(nil), f.ArrayPositions()...),
			Value:          v,
		})
	})
	return out, nil
}
