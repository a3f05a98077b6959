package engine

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
)

// Writer buffers mutations into a bleve batch. Nothing it buffers is visible
// to snapshots until the batch is detached and applied.
type Writer struct {
	idx     bleve.Index
	batch   *bleve.Batch
	ops     int
	first   Opstamp
	opstamp Opstamp
}

// Add buffers doc. The document is analyzed here, so analysis failures are
// reported to the caller rather than at commit.
func (w *Writer) Add(doc document.EngineDocument) (Opstamp, error) {
	if err := w.batch.Index(doc.ID, doc.Fields); err != nil {
		return 0, fmt.Errorf("%w: buffering %q: %v", apperrors.ErrEngineWrite, doc.ID, err)
	}
	return w.next(), nil
}

// DeleteByID buffers a tombstone for id. Deleting an id that is not in the
// index is a no-op at commit.
func (w *Writer) DeleteByID(id string) Opstamp {
	w.batch.Delete(id)
	return w.next()
}

// Replace buffers a delete of doc.ID followed by an add of doc. The engine
// batch keys operations by id and the later one wins, so the pair is held as
// a single index op. If the add fails nothing is buffered and any existing
// document with that id is left in place.
func (w *Writer) Replace(doc document.EngineDocument) (Opstamp, error) {
	if err := w.batch.Index(doc.ID, doc.Fields); err != nil {
		return 0, fmt.Errorf("%w: buffering replacement of %q: %v", apperrors.ErrEngineWrite, doc.ID, err)
	}
	w.next()
	return w.next(), nil
}

func (w *Writer) next() Opstamp {
	w.opstamp++
	if w.ops == 0 {
		w.first = w.opstamp
	}
	w.ops++
	return w.opstamp
}

// Pending reports mutations buffered since the last Detach.
func (w *Writer) Pending() int { return w.ops }

// Opstamp returns the stamp of the most recent mutation.
func (w *Writer) Opstamp() Opstamp { return w.opstamp }

// Detach hands the buffered mutations to the caller and starts a new batch.
func (w *Writer) Detach() *Batch {
	b := &Batch{batch: w.batch, ops: w.ops, first: w.first, last: w.opstamp}
	w.batch = w.idx.NewBatch()
	w.ops = 0
	return b
}

// Rollback drops everything buffered since the last Detach.
func (w *Writer) Rollback() int {
	dropped := w.ops
	w.batch.Reset()
	w.ops = 0
	return dropped
}

// Batch is a detached, immutable set of buffered mutations.
type Batch struct {
	batch *bleve.Batch
	ops   int
	first Opstamp
	last  Opstamp
}

// Len is the number of mutations recorded in the batch. Mutations of the
// same id collapse inside the engine batch; Len counts them all.
func (b *Batch) Len() int { return b.ops }

// Opstamps returns the first and last stamps contained in the batch.
func (b *Batch) Opstamps() (first, last Opstamp) { return b.first, b.last }
