package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"socgraph/internal/graph/topology"
	"socgraph/internal/logger"
	"socgraph/internal/scoring"
	"socgraph/internal/transform/logrecord"
	"socgraph/pkg/models"
)

var log = logger.Named("monitor")

// AssessFunc scores one event.
type AssessFunc func(ctx context.Context, in scoring.Input) *models.ThreatAssessment

// Options configures a Monitor. Zero values take defaults.
type Options struct {
	Workers         int
	BatchSize       int
	FlushInterval   time.Duration
	RefreshInterval time.Duration
	// RebuildInterval schedules full rebuilds from the archive; negative disables them.
	RebuildInterval time.Duration
	RebuildWindow   time.Duration
	CleanupInterval time.Duration
	// MinSeverity filters written assessments. Benign results are never written.
	MinSeverity string
}

// Monitor is the continuous-monitor pipeline: it consumes log records, keeps
// the live topology current, scores every event and fans results out.
type Monitor struct {
	queue       LogQueue
	assess      AssessFunc
	builder     *topology.Builder
	scorer      *scoring.Scorer
	archive     LogArchive
	writers     []AssessmentWriter
	snapshots   []SnapshotWriter
	recorder    Recorder
	opts        Options
	minSeverity int
}

type workItem struct {
	record     *models.LogRecord
	assessment *models.ThreatAssessment
}

// NewMonitor creates a monitor. scorer may be nil when assess does not use
// the deterministic scorer's caches; archive and recorder are optional.
func NewMonitor(queue LogQueue, assess AssessFunc, builder *topology.Builder, scorer *scoring.Scorer, archive LogArchive, writers []AssessmentWriter, snapshots []SnapshotWriter, recorder Recorder, opts Options) *Monitor {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.RebuildInterval == 0 {
		opts.RebuildInterval = 15 * time.Minute
	}
	if opts.RebuildWindow <= 0 {
		opts.RebuildWindow = topology.DefaultWindow
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	minSeverity := models.SeverityRank(opts.MinSeverity)
	if minSeverity < 0 {
		minSeverity = models.SeverityRank(models.SeverityLow)
	}
	return &Monitor{
		queue:       queue,
		assess:      assess,
		builder:     builder,
		scorer:      scorer,
		archive:     archive,
		writers:     writers,
		snapshots:   snapshots,
		recorder:    recorder,
		opts:        opts,
		minSeverity: minSeverity,
	}
}

// Run starts the pipeline loop and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	log.Infof("monitor started (workers=%d, batch=%d)", m.opts.Workers, m.opts.BatchSize)

	msgCh := make(chan []byte, m.opts.Workers*4)
	workCh := make(chan workItem, m.opts.Workers*4)

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		m.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < m.opts.Workers; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			m.workerLoop(ctx, msgCh, workCh)
		}()
	}

	var rest sync.WaitGroup
	rest.Add(2)
	go func() {
		defer rest.Done()
		m.writeLoop(ctx, workCh)
	}()
	go func() {
		defer rest.Done()
		m.maintenanceLoop(ctx)
	}()

	readers.Wait()
	close(workCh)
	rest.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (m *Monitor) Close() error {
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			log.Errorf("failed to close assessment writer: %v", err)
		}
	}
	for _, w := range m.snapshots {
		if err := w.Close(); err != nil {
			log.Errorf("failed to close snapshot writer: %v", err)
		}
	}
	if m.archive != nil {
		if err := m.archive.Close(); err != nil {
			log.Errorf("failed to close log archive: %v", err)
		}
	}
	if m.queue != nil {
		return m.queue.Close()
	}
	return nil
}

func (m *Monitor) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := m.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("failed to pop log record: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) workerLoop(ctx context.Context, in <-chan []byte, out chan<- workItem) {
	for payload := range in {
		item, ok := m.process(ctx, payload)
		if !ok {
			continue
		}
		out <- item
	}
}

// process parses, ingests and scores one payload.
func (m *Monitor) process(ctx context.Context, payload []byte) (workItem, bool) {
	rec, err := logrecord.Parse(payload)
	if err != nil {
		log.Warnf("failed to parse log record: %v", err)
		if m.recorder != nil {
			m.recorder.RecordDropped()
		}
		return workItem{}, false
	}
	if m.recorder != nil {
		m.recorder.RecordIngested()
	}
	if m.builder != nil {
		m.builder.Ingest(rec)
	}

	item := workItem{record: rec}
	if m.assess != nil {
		item.assessment = m.assess(ctx, scoring.InputFromRecord(rec))
		if item.assessment != nil && m.recorder != nil {
			m.recorder.RecordAssessment(item.assessment.Severity)
		}
	}
	return item, true
}

func (m *Monitor) reportable(a *models.ThreatAssessment) bool {
	return a != nil && !a.IsBenign() && models.SeverityRank(a.Severity) >= m.minSeverity
}

func (m *Monitor) writeLoop(ctx context.Context, in <-chan workItem) {
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()

	var batchRecords []*models.LogRecord
	var batchAssessments []*models.ThreatAssessment

	flush := func() {
		if m.archive != nil && len(batchRecords) > 0 {
			// Archive writes are best effort. Unarchived records stay pending in
			// the builder and are replayed into every rebuild.
			if err := m.archive.ArchiveLogs(context.WithoutCancel(ctx), batchRecords); err != nil {
				log.Errorf("failed to archive %d log records: %v", len(batchRecords), err)
			} else if m.builder != nil {
				m.builder.Archived(batchRecords)
			}
		}
		batchRecords = nil

		if len(batchAssessments) == 0 {
			return
		}
		for _, w := range m.writers {
			for {
				if err := w.WriteAssessments(batchAssessments); err != nil {
					log.Errorf("failed to write assessments: %v", err)
					select {
					case <-ctx.Done():
					case <-time.After(time.Second):
						continue
					}
				}
				break
			}
		}
		batchAssessments = nil
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			batchRecords = append(batchRecords, item.record)
			if m.reportable(item.assessment) {
				batchAssessments = append(batchAssessments, item.assessment)
			}
			if len(batchRecords) >= m.opts.BatchSize || len(batchAssessments) >= m.opts.BatchSize {
				flush()
			}
		}
	}
}

func (m *Monitor) maintenanceLoop(ctx context.Context) {
	refresh := time.NewTicker(m.opts.RefreshInterval)
	defer refresh.Stop()
	cleanup := time.NewTicker(m.opts.CleanupInterval)
	defer cleanup.Stop()

	var rebuildC <-chan time.Time
	if m.opts.RebuildInterval > 0 && m.builder != nil {
		rebuild := time.NewTicker(m.opts.RebuildInterval)
		defer rebuild.Stop()
		rebuildC = rebuild.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			m.refresh(ctx)
		case <-rebuildC:
			m.rebuild(ctx)
		case now := <-cleanup.C:
			m.cleanup(now)
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) {
	if m.builder == nil {
		return
	}
	m.publish(ctx, m.builder.Refresh())
}

func (m *Monitor) rebuild(ctx context.Context) {
	snap, err := m.builder.Rebuild(ctx, m.opts.RebuildWindow)
	switch {
	case errors.Is(err, topology.ErrSourceUnavailable):
		log.Warnf("topology rebuild skipped, keeping build %s: %v", m.builder.Current().BuildID, err)
		return
	case err != nil:
		log.Warnf("topology rebuild abandoned: %v", err)
		return
	}
	m.publish(ctx, snap)
}

func (m *Monitor) publish(ctx context.Context, snap *topology.Snapshot) {
	for _, w := range m.snapshots {
		if err := w.WriteSnapshot(ctx, snap); err != nil {
			log.Errorf("failed to write topology snapshot: %v", err)
		}
	}
}

func (m *Monitor) cleanup(now time.Time) {
	if m.scorer == nil {
		return
	}
	m.scorer.Cleanup(now)
	if m.recorder != nil {
		m.recorder.SetScorerCache(m.scorer.CacheSizes())
	}
}
