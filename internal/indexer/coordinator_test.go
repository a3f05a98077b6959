package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
)

type stack struct {
	idx     *engine.Index
	coord   *Coordinator
	pub     *Publisher
	metrics *metrics.Metrics
}

// flakyApplier fails the next failures calls to Apply.
type flakyApplier struct {
	next     BatchApplier
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyApplier) Apply(b *engine.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	return f.next.Apply(b)
}

func newStack(t *testing.T, wrap func(BatchApplier) BatchApplier) *stack {
	t.Helper()
	idx, err := engine.Open(config.IndexConfig{DataDir: t.TempDir()}, schema.Default())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	var applier BatchApplier = idx
	if wrap != nil {
		applier = wrap(idx)
	}
	m := metrics.NewNop()
	coord := NewCoordinator(idx.Registry(), idx.NewWriter(), applier, 4, m)
	pub := NewPublisher(coord, idx, time.Hour, m)
	t.Cleanup(pub.Close)
	require.NoError(t, pub.Init())
	return &stack{idx: idx, coord: coord, pub: pub, metrics: m}
}

func (s *stack) refresh(t *testing.T) PublishInfo {
	t.Helper()
	info, err := s.pub.RefreshNow(context.Background())
	require.NoError(t, err)
	return info
}

func (s *stack) search(t *testing.T, text string) []string {
	t.Helper()
	snap, err := s.pub.Acquire()
	require.NoError(t, err)
	defer snap.DecRef()
	q, err := engine.ParseQuery(s.idx.Registry(), text)
	require.NoError(t, err)
	hits, _, err := snap.Search(context.Background(), q, 100)
	require.NoError(t, err)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	sort.Strings(ids)
	return ids
}

func post(id, title string, tags ...string) document.Document {
	return document.Document{ID: id, Title: title, Body: "body of " + title, Tags: tags, Status: "published"}
}

func TestIndexVisibleOnlyAfterRefresh(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	stamp, err := s.coord.IndexDocument(ctx, post("1", "rust search", "rust"))
	require.NoError(t, err)
	assert.Equal(t, engine.Opstamp(1), stamp)
	assert.Empty(t, s.search(t, "tags:rust"))

	info := s.refresh(t)
	assert.True(t, info.Swapped)
	assert.Equal(t, 1, info.CommitOps)
	assert.Equal(t, uint64(1), info.DocCount)
	assert.Equal(t, []string{"1"}, s.search(t, "tags:rust"))
	assert.Empty(t, s.search(t, "tags:ru"))
	assert.Equal(t, []string{"1"}, s.search(t, "body:ru"))
}

func TestUpdateReplacesDocument(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	_, err := s.coord.IndexDocument(ctx, post("1", "alpha", "old"))
	require.NoError(t, err)
	s.refresh(t)

	_, err = s.coord.UpdateDocument(ctx, post("1", "omega", "new"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, s.search(t, "tags:old"), "update is invisible until refresh")

	info := s.refresh(t)
	assert.Equal(t, uint64(1), info.DocCount)
	assert.Empty(t, s.search(t, "tags:old"))
	assert.Equal(t, []string{"1"}, s.search(t, "tags:new"))
}

func TestUpdateOfUnknownIDInserts(t *testing.T) {
	s := newStack(t, nil)
	_, err := s.coord.UpdateDocument(context.Background(), post("9", "fresh", "new"))
	require.NoError(t, err)
	s.refresh(t)
	assert.Equal(t, []string{"9"}, s.search(t, "tags:new"))
}

func TestIndexSameIDTwiceKeepsOne(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	_, err := s.coord.IndexDocument(ctx, post("1", "first", "a"))
	require.NoError(t, err)
	s.refresh(t)
	_, err = s.coord.IndexDocument(ctx, post("1", "second", "b"))
	require.NoError(t, err)

	info := s.refresh(t)
	assert.Equal(t, uint64(1), info.DocCount)
	assert.Equal(t, []string{"1"}, s.search(t, "tags:b"))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	_, err := s.coord.IndexDocument(ctx, post("1", "doomed", "x"))
	require.NoError(t, err)
	s.refresh(t)

	_, err = s.coord.DeleteDocument(ctx, "1")
	require.NoError(t, err)
	_, err = s.coord.DeleteDocument(ctx, "1")
	require.NoError(t, err)
	_, err = s.coord.DeleteDocument(ctx, "never-indexed")
	require.NoError(t, err)

	info := s.refresh(t)
	assert.Equal(t, uint64(0), info.DocCount)
	assert.Empty(t, s.search(t, "tags:x"))
}

func TestDeleteRequiresID(t *testing.T) {
	s := newStack(t, nil)
	_, err := s.coord.DeleteDocument(context.Background(), " ")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))
}

func TestMappingErrorIsNotBuffered(t *testing.T) {
	s := newStack(t, nil)
	_, err := s.coord.IndexDocument(context.Background(), document.Document{Title: "no id"})
	require.ErrorIs(t, err, apperrors.ErrMapping)
	assert.Equal(t, 0, s.coord.Stats().BufferedOps)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.MutationsTotal.WithLabelValues("index", "mapping_error")))
}

func TestCancelledContextRejectsMutations(t *testing.T) {
	s := newStack(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.coord.IndexDocument(ctx, post("1", "t"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.coord.DeleteDocument(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.coord.Commit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentMutatorsAreAllCommitted(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.coord.IndexDocument(ctx, post(fmt.Sprintf("w%d-%d", w, i), "concurrent", "load"))
				errs <- err
			}
		}(w)
	}
	// Refresh while writers are running; nothing may be lost between cycles.
	for i := 0; i < 3; i++ {
		_, err := s.pub.RefreshNow(ctx)
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	info := s.refresh(t)
	assert.Equal(t, uint64(writers*perWriter), info.DocCount)
	stats := s.coord.Stats()
	assert.Equal(t, 0, stats.BufferedOps)
	assert.Equal(t, engine.Opstamp(writers*perWriter), stats.Committed)
}

func TestConcurrentUpdatesOfOneID(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.coord.UpdateDocument(ctx, post("same", fmt.Sprintf("version %d", i), "v"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	info := s.refresh(t)
	assert.Equal(t, uint64(1), info.DocCount)
}

func TestFailedCommitIsRetried(t *testing.T) {
	var flaky *flakyApplier
	s := newStack(t, func(next BatchApplier) BatchApplier {
		flaky = &flakyApplier{next: next, failures: 1}
		return flaky
	})
	ctx := context.Background()

	_, err := s.coord.IndexDocument(ctx, post("1", "first", "a"))
	require.NoError(t, err)

	_, err = s.pub.RefreshNow(ctx)
	require.ErrorIs(t, err, apperrors.ErrCommit)
	stats := s.coord.Stats()
	assert.Equal(t, 1, stats.PendingBatches)
	assert.Equal(t, 1, stats.PendingOps)
	assert.Empty(t, s.search(t, "tags:a"), "previous snapshot stays published")

	_, err = s.coord.IndexDocument(ctx, post("2", "second", "a"))
	require.NoError(t, err)

	info := s.refresh(t)
	assert.Equal(t, 2, info.CommitOps)
	assert.Equal(t, []string{"1", "2"}, s.search(t, "tags:a"))
	assert.Equal(t, 0, s.coord.Stats().PendingBatches)
	assert.Equal(t, 3, flaky.calls)
}

// gatedApplier blocks every Apply until release is closed.
type gatedApplier struct {
	next    BatchApplier
	entered chan struct{}
	release chan struct{}
}

func (g *gatedApplier) Apply(b *engine.Batch) error {
	close(g.entered)
	<-g.release
	return g.next.Apply(b)
}

func TestStatsDoesNotWaitForCommit(t *testing.T) {
	gate := &gatedApplier{entered: make(chan struct{}), release: make(chan struct{})}
	s := newStack(t, func(next BatchApplier) BatchApplier {
		gate.next = next
		return gate
	})
	ctx := context.Background()
	_, err := s.coord.IndexDocument(ctx, post("1", "slow commit", "a"))
	require.NoError(t, err)

	committed := make(chan error, 1)
	go func() {
		_, err := s.coord.Commit(ctx)
		committed <- err
	}()
	<-gate.entered

	statsDone := make(chan WriterStats, 1)
	go func() { statsDone <- s.coord.Stats() }()
	select {
	case stats := <-statsDone:
		assert.Equal(t, 0, stats.BufferedOps)
		assert.Equal(t, 1, stats.PendingBatches)
		assert.Equal(t, 1, stats.PendingOps)
		assert.Equal(t, engine.Opstamp(0), stats.Committed)
	case <-time.After(2 * time.Second):
		t.Fatal("Stats blocked behind a running commit")
	}

	close(gate.release)
	require.NoError(t, <-committed)
	stats := s.coord.Stats()
	assert.Equal(t, 0, stats.PendingBatches)
	assert.Equal(t, engine.Opstamp(1), stats.Committed)
}

func TestRollback(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	_, err := s.coord.IndexDocument(ctx, post("1", "kept", "k"))
	require.NoError(t, err)
	s.refresh(t)

	_, err = s.coord.IndexDocument(ctx, post("2", "dropped", "d"))
	require.NoError(t, err)
	dropped, err := s.coord.Rollback()
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	s.refresh(t)
	assert.Equal(t, []string{"1"}, s.search(t, "tags:k"))
	assert.Empty(t, s.search(t, "tags:d"))
}

func TestPoisonedWriterRecovers(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	_, err := s.coord.IndexDocument(ctx, post("0", "before crash", "ok"))
	require.NoError(t, err)

	err = s.coord.writer.Do(func(*engine.Writer) error { panic("writer crashed") })
	require.ErrorIs(t, err, apperrors.ErrEngineWrite)
	assert.True(t, s.coord.writer.Poisoned())

	_, err = s.coord.IndexDocument(ctx, post("1", "after crash", "ok"))
	require.NoError(t, err)
	assert.False(t, s.coord.writer.Poisoned())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.LockRecoveriesTotal))

	s.refresh(t)
	assert.Equal(t, []string{"0", "1"}, s.search(t, "tags:ok"), "mutations buffered before the panic are kept")
}
