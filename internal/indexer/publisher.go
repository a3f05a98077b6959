package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer/engine"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
)

// State is the publisher's position in its refresh cycle.
type State int32

const (
	StateIdle State = iota
	StateCommitting
	StateReloading
	StateSwapping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCommitting:
		return "committing"
	case StateReloading:
		return "reloading"
	case StateSwapping:
		return "swapping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Committer is implemented by *Coordinator.
type Committer interface {
	Commit(ctx context.Context) (CommitInfo, error)
}

// SnapshotOpener is implemented by *engine.Index.
type SnapshotOpener interface {
	OpenSnapshot() (*engine.Snapshot, error)
}

// PublishInfo describes the snapshot in effect after a refresh cycle.
type PublishInfo struct {
	Generation  uint64         `json:"generation"`
	DocCount    uint64         `json:"doc_count"`
	Opstamp     engine.Opstamp `json:"opstamp"`
	CommitOps   int            `json:"commit_ops"`
	Swapped     bool           `json:"swapped"`
	PublishedAt time.Time      `json:"published_at"`
	Duration    time.Duration  `json:"duration_ns"`
}

// PublishListener is told about every snapshot swap. Listeners run on the
// publisher goroutine and must not block.
type PublishListener func(PublishInfo)

// Publisher periodically commits buffered mutations, opens a snapshot of the
// committed state, and atomically replaces the snapshot searches read from.
// Searches only ever see the pointer it swaps.
type Publisher struct {
	committer Committer
	opener    SnapshotOpener
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	listeners []PublishListener

	current atomic.Pointer[engine.Snapshot]
	state   atomic.Int32
	closed  atomic.Bool
	// lastPublished is unix nanos of the last swap, 0 before the first.
	// lastRefreshed also counts cycles that found nothing new to publish.
	lastPublished atomic.Int64
	lastRefreshed atomic.Int64

	// cycleMu keeps the ticker and RefreshNow from running cycles at once.
	// stale is set when a commit applied data that no snapshot shows yet.
	cycleMu sync.Mutex
	stale   bool
}

// NewPublisher creates a publisher refreshing every interval.
func NewPublisher(c Committer, o SnapshotOpener, interval time.Duration, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.NewNop()
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Publisher{
		committer: c,
		opener:    o,
		interval:  interval,
		metrics:   m,
		logger:    slog.Default().With("component", "snapshot-publisher"),
	}
}

// OnPublish registers l. It must be called before Start.
func (p *Publisher) OnPublish(l PublishListener) {
	p.listeners = append(p.listeners, l)
}

// Init publishes a snapshot of whatever is already committed so searches
// can be served before the first tick.
func (p *Publisher) Init() error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	if p.current.Load() != nil {
		return nil
	}
	snap, err := p.opener.OpenSnapshot()
	if err != nil {
		return err
	}
	p.swap(snap, PublishInfo{})
	return nil
}

// Start runs the refresh loop in a new goroutine until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	return done
}

// Run drives refresh cycles every interval until ctx is cancelled, then runs
// one final cycle so mutations accepted before shutdown are committed.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.logger.Info("snapshot publisher started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher stopping, performing final refresh")
			if _, err := p.safeCycle(context.Background()); err != nil {
				p.logger.Error("final refresh failed", "error", err)
			}
			return
		case <-ticker.C:
			if _, err := p.safeCycle(ctx); err != nil {
				p.logger.Error("periodic refresh failed", "error", err)
			}
		}
	}
}

// RefreshNow runs a cycle immediately, waiting for any cycle in progress.
func (p *Publisher) RefreshNow(ctx context.Context) (PublishInfo, error) {
	return p.safeCycle(ctx)
}

// safeCycle keeps a panicking cycle from killing the loop. The previous
// snapshot stays published.
func (p *Publisher) safeCycle(ctx context.Context) (info PublishInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.setState(StateIdle)
			p.logger.Error("refresh cycle panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: refresh cycle panicked: %v", apperrors.ErrInternal, r)
		}
	}()
	return p.cycle(ctx)
}

func (p *Publisher) cycle(ctx context.Context) (PublishInfo, error) {
	if p.closed.Load() {
		return PublishInfo{}, apperrors.ErrIndexClosed
	}
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	start := time.Now()

	p.setState(StateCommitting)
	defer p.setState(StateIdle)
	ci, err := p.committer.Commit(ctx)
	if err != nil {
		return p.info(), err
	}
	if ci.Ops > 0 {
		p.stale = true
	}

	cur := p.current.Load()
	if !p.stale && cur != nil {
		// Nothing new was committed; the published snapshot is already
		// the latest state.
		p.lastRefreshed.Store(time.Now().UnixNano())
		return p.info(), nil
	}

	p.setState(StateReloading)
	snap, err := p.opener.OpenSnapshot()
	if err != nil {
		p.metrics.ReloadsTotal.WithLabelValues("error").Inc()
		return p.info(), err
	}
	p.metrics.ReloadsTotal.WithLabelValues("ok").Inc()

	p.setState(StateSwapping)
	info := p.swap(snap, PublishInfo{CommitOps: ci.Ops, Duration: time.Since(start)})
	p.stale = false
	return info, nil
}

// swap publishes snap and releases the publisher's reference to the old one.
// Readers holding the old snapshot keep it open until they release it.
func (p *Publisher) swap(snap *engine.Snapshot, info PublishInfo) PublishInfo {
	old := p.current.Swap(snap)
	if old != nil {
		old.DecRef()
	}
	now := time.Now()
	p.lastPublished.Store(now.UnixNano())
	p.lastRefreshed.Store(now.UnixNano())

	p.metrics.SnapshotGeneration.Set(float64(snap.Generation()))
	p.metrics.SnapshotDocCount.Set(float64(snap.DocCount()))

	info.Generation = snap.Generation()
	info.DocCount = snap.DocCount()
	info.Opstamp = snap.Opstamp()
	info.Swapped = true
	info.PublishedAt = now
	p.logger.Debug("snapshot published",
		"generation", info.Generation,
		"documents", info.DocCount,
		"commit_ops", info.CommitOps,
	)
	if o, ok := p.opener.(interface{ OpenSnapshots() int64 }); ok {
		p.metrics.SnapshotsOpen.Set(float64(o.OpenSnapshots()))
	}
	for _, l := range p.listeners {
		l(info)
	}
	return info
}

func (p *Publisher) info() PublishInfo {
	cur := p.current.Load()
	if cur == nil {
		return PublishInfo{}
	}
	return PublishInfo{
		Generation:  cur.Generation(),
		DocCount:    cur.DocCount(),
		Opstamp:     cur.Opstamp(),
		PublishedAt: time.Unix(0, p.lastPublished.Load()),
	}
}

func (p *Publisher) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.PublisherState.Set(float64(s))
}

// State reports where the publisher is in its cycle.
func (p *Publisher) State() State { return State(p.state.Load()) }

// Acquire returns the current snapshot with a reference held for the caller,
// who must call DecRef when done.
func (p *Publisher) Acquire() (*engine.Snapshot, error) {
	for {
		if p.closed.Load() {
			return nil, apperrors.ErrIndexClosed
		}
		snap := p.current.Load()
		if snap == nil {
			return nil, apperrors.ErrNoSnapshot
		}
		if snap.TryIncRef() {
			return snap, nil
		}
		// Released between Load and TryIncRef; a newer one has been swapped in.
		runtime.Gosched()
	}
}

// Current describes the published snapshot without taking a reference.
func (p *Publisher) Current() (PublishInfo, bool) {
	info := p.info()
	return info, p.current.Load() != nil
}

// LastPublished returns when the last snapshot was swapped in.
func (p *Publisher) LastPublished() (time.Time, bool) {
	ns := p.lastPublished.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// LastRefreshed returns when a cycle last completed successfully, whether or
// not it swapped.
func (p *Publisher) LastRefreshed() (time.Time, bool) {
	ns := p.lastRefreshed.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Close stops serving snapshots and releases the published one. Call it
// after the refresh loop has returned.
func (p *Publisher) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	if old := p.current.Swap(nil); old != nil {
		old.DecRef()
	}
	p.logger.Info("snapshot publisher closed")
}
