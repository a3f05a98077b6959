// Package engine adapts bleve to the primitives the write coordinator and the
// snapshot publisher need: a buffered writer, batch application (commit),
// point-in-time snapshots, and query parsing.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/gofrs/flock"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
)

const (
	lockFileName = "writer.lock"
	indexDirName = "bleve"
)

// Opstamp orders buffered mutations. It increases by one per mutation.
type Opstamp uint64

// Index owns the on-disk bleve index and the cross-process writer lock for
// its directory. Only one Index may be open per directory.
type Index struct {
	idx     bleve.Index
	reg     *schema.Registry
	mapping mapping.IndexMapping
	lock    *flock.Flock
	dir     string
	logger  *slog.Logger

	closed     atomic.Bool
	generation atomic.Uint64
	open       atomic.Int64
	// committed is the opstamp of the last batch applied to the index.
	committed atomic.Uint64
}

// Open acquires the writer lock on cfg.DataDir and opens the index there,
// creating it with the registry's mapping if it does not exist.
func Open(cfg config.IndexConfig, reg *schema.Registry) (*Index, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring writer lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexLocked, cfg.DataDir)
	}

	im, err := reg.IndexMapping()
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("building index mapping: %w", err)
	}

	logger := slog.Default().With("component", "engine", "dir", cfg.DataDir)
	path := filepath.Join(cfg.DataDir, indexDirName)
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		logger.Info("creating new index", "path", path)
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening index at %s: %w", path, err)
	}

	count, _ := idx.DocCount()
	logger.Info("index opened", "documents", count)

	return &Index{
		idx:     idx,
		reg:     reg,
		mapping: idx.Mapping(),
		lock:    lock,
		dir:     cfg.DataDir,
		logger:  logger,
	}, nil
}

// Registry returns the schema the index was opened with.
func (i *Index) Registry() *schema.Registry { return i.reg }

// NewWriter returns a writer buffering into a fresh batch. Writers are not
// safe for concurrent use; the coordinator serializes access.
func (i *Index) NewWriter() *Writer {
	return &Writer{idx: i.idx, batch: i.idx.NewBatch()}
}

// Apply makes a detached batch durable. Scorch persists the batch before
// Apply returns.
func (i *Index) Apply(b *Batch) error {
	if i.closed.Load() {
		return apperrors.ErrIndexClosed
	}
	if b == nil || b.Len() == 0 {
		return nil
	}
	if err := i.idx.Batch(b.batch); err != nil {
		return fmt.Errorf("%w: applying batch of %d ops: %v", apperrors.ErrCommit, b.Len(), err)
	}
	for {
		cur := i.committed.Load()
		if uint64(b.last) <= cur || i.committed.CompareAndSwap(cur, uint64(b.last)) {
			break
		}
	}
	return nil
}

// OpenSnapshot reads the latest committed state into a new snapshot holding
// one reference for the caller.
func (i *Index) OpenSnapshot() (*Snapshot, error) {
	if i.closed.Load() {
		return nil, apperrors.ErrIndexClosed
	}
	adv, err := i.idx.Advanced()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrReload, err)
	}
	reader, err := adv.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: opening reader: %v", apperrors.ErrReload, err)
	}
	count, err := reader.DocCount()
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("%w: counting documents: %v", apperrors.ErrReload, err)
	}
	i.open.Add(1)
	return &Snapshot{
		reader:     reader,
		mapping:    i.mapping,
		reg:        i.reg,
		generation: i.generation.Add(1),
		opstamp:    Opstamp(i.committed.Load()),
		docCount:   count,
		refs:       1,
		onClose: func(err error) {
			i.open.Add(-1)
			if err != nil {
				i.logger.Warn("closing snapshot reader", "error", err)
			}
		},
	}, nil
}

// OpenSnapshots reports snapshots whose reader is still open.
func (i *Index) OpenSnapshots() int64 { return i.open.Load() }

// Close closes the index and releases the writer lock. Snapshots still
// referenced keep their readers until released.
func (i *Index) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := i.idx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing index: %w", err))
	}
	if err := i.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("releasing writer lock: %w", err))
	}
	i.logger.Info("index closed")
	return errors.Join(errs...)
}
