package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"socgraph/internal/patterns"
	"socgraph/pkg/models"
)

// Rebuild defaults.
const (
	DefaultWindow = 24 * time.Hour
	DefaultLimit  = 50000
)

// Rebuild results reported to a Recorder.
const (
	RebuildOK         = "ok"
	RebuildFetchError = "fetch_error"
	RebuildCanceled   = "canceled"
	RebuildRefresh    = "refresh"
)

// ErrSourceUnavailable is returned by Rebuild when the log source could not be
// read. Nothing was published.
var ErrSourceUnavailable = errors.New("log source unavailable")

// cancelCheckEvery is how many records are absorbed between cancellation checks.
const cancelCheckEvery = 512

// LogSource supplies the bounded log window for a rebuild, newest first.
type LogSource interface {
	GetRecentLogs(ctx context.Context, window time.Duration, limit int) ([]*models.LogRecord, error)
}

// Recorder observes rebuild outcomes.
type Recorder interface {
	RecordRebuild(result string, snap *Snapshot)
}

// Options controls a Builder.
type Options struct {
	Limit        int
	ActiveWindow time.Duration
	Recorder     Recorder
	Now          func() time.Time
}

// Builder runs full rebuilds and keeps the published topology. A rebuild
// works on a fresh Topology, so an abandoned or failed rebuild never touches
// what was published before it.
//
// Records applied through Ingest stay pending until Archived reports them.
// Pending records, and any ingested while a rebuild runs, are replayed into
// the rebuilt topology before it replaces the live one. Ingest only merges
// into sets, so a record both fetched and replayed is counted once.
type Builder struct {
	source       LogSource
	lib          *patterns.Library
	limit        int
	activeWindow time.Duration
	recorder     Recorder
	now          func() time.Time

	// buildMu serializes rebuilds.
	buildMu sync.Mutex

	mu       sync.Mutex
	live     *Topology
	current  *Snapshot
	pending  []*models.LogRecord
	inflight []*models.LogRecord
	building bool
}

// NewBuilder creates a builder reading from source.
func NewBuilder(source LogSource, lib *patterns.Library, opts Options) *Builder {
	if lib == nil {
		lib = patterns.Default()
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = DefaultActiveWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{
		source:       source,
		lib:          lib,
		limit:        opts.Limit,
		activeWindow: opts.ActiveWindow,
		recorder:     opts.Recorder,
		now:          opts.Now,
	}
}

// Build performs a full rebuild over the lookback window. A log source
// failure yields an empty topology and a nil error; the previously published
// topology stays current. The only error returned is ctx.Err().
func (b *Builder) Build(ctx context.Context, window time.Duration) (*Topology, error) {
	t, _, err := b.rebuild(ctx, window)
	if errors.Is(err, ErrSourceUnavailable) {
		return t, nil
	}
	return t, err
}

// Rebuild is Build for callers that persist what was published. It returns
// the new snapshot, or ErrSourceUnavailable when the fetch failed and the
// current snapshot is unchanged.
func (b *Builder) Rebuild(ctx context.Context, window time.Duration) (*Snapshot, error) {
	_, snap, err := b.rebuild(ctx, window)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (b *Builder) rebuild(ctx context.Context, window time.Duration) (*Topology, *Snapshot, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	replay := b.beginReplay()
	defer b.endReplay()

	t := New(b.lib)
	t.ActiveWindow = b.activeWindow

	records, err := b.source.GetRecentLogs(ctx, window, b.limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			b.record(RebuildCanceled, nil)
			return nil, nil, ctxErr
		}
		log.Errorf("fetch recent logs (window=%s, limit=%d): %v", window, b.limit, err)
		t.Refresh(b.now())
		b.record(RebuildFetchError, t.Snapshot(""))
		return t, nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if len(records) > b.limit {
		records = records[:b.limit]
	}

	now := b.now()
	skipped := 0
	for i, rec := range records {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				b.record(RebuildCanceled, nil)
				return nil, nil, err
			}
		}
		if !t.Ingest(rec, now) {
			skipped++
		}
	}
	if err := ctx.Err(); err != nil {
		b.record(RebuildCanceled, nil)
		return nil, nil, err
	}

	snap, replayed := b.publish(t, replay)
	log.Infof("topology built: %d nodes, %d subnets, %d DCs, %d paths (records=%d, unattributed=%d, replayed=%d)",
		t.TotalNodes, len(t.Subnets), len(t.DomainControllers), len(t.AttackPaths), len(records), skipped, replayed)
	b.record(RebuildOK, snap)
	return t, snap, nil
}

// beginReplay captures the pending records and starts collecting records
// ingested while the rebuild runs.
func (b *Builder) beginReplay() []*models.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.building = true
	b.inflight = nil
	return append([]*models.LogRecord(nil), b.pending...)
}

func (b *Builder) endReplay() {
	b.mu.Lock()
	b.building = false
	b.inflight = nil
	b.mu.Unlock()
}

// Ingest applies one record to the builder's live topology. Derived views
// are not updated until Refresh.
func (b *Builder) Ingest(rec *models.LogRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live == nil {
		b.live = New(b.lib)
		b.live.ActiveWindow = b.activeWindow
	}
	if !b.live.Ingest(rec, b.now()) {
		return false
	}
	b.pending = append(b.pending, rec)
	if over := len(b.pending) - b.limit; over > 0 {
		b.pending = b.pending[over:]
	}
	if b.building {
		b.inflight = append(b.inflight, rec)
	}
	return true
}

// Archived reports records the log source now serves, so later rebuilds no
// longer replay them.
func (b *Builder) Archived(recs []*models.LogRecord) {
	if len(recs) == 0 {
		return
	}
	done := make(map[*models.LogRecord]struct{}, len(recs))
	for _, rec := range recs {
		done[rec] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.pending[:0]
	for _, rec := range b.pending {
		if _, ok := done[rec]; !ok {
			kept = append(kept, rec)
		}
	}
	clear(b.pending[len(kept):])
	b.pending = kept
}

// Pending returns how many live records have not been reported archived.
func (b *Builder) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Refresh re-derives the live topology and publishes it.
func (b *Builder) Refresh() *Snapshot {
	b.mu.Lock()
	if b.live == nil {
		b.live = New(b.lib)
		b.live.ActiveWindow = b.activeWindow
	}
	b.live.Refresh(b.now())
	snap := b.live.Snapshot(uuid.NewString())
	b.current = snap
	b.mu.Unlock()

	b.record(RebuildRefresh, snap)
	return snap
}

// Current returns the most recently published snapshot. It must not be modified.
func (b *Builder) Current() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return EmptySnapshot(b.now())
	}
	return b.current
}

// publish replays live records into t and swaps it in. Holding mu keeps
// concurrent Ingest calls from landing between the replay and the swap.
func (b *Builder) publish(t *Topology, replay []*models.LogRecord) (*Snapshot, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	replayed := 0
	for _, recs := range [][]*models.LogRecord{replay, b.inflight} {
		for _, rec := range recs {
			if t.Ingest(rec, now) {
				replayed++
			}
		}
	}
	t.Refresh(now)
	snap := t.Snapshot(uuid.NewString())
	b.live = t.Clone()
	b.current = snap
	return snap, replayed
}

func (b *Builder) record(result string, snap *Snapshot) {
	if b.recorder != nil {
		b.recorder.RecordRebuild(result, snap)
	}
}
