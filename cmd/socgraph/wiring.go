package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socgraph/config"
	"socgraph/internal/graph/adjacency"
	"socgraph/internal/graph/topology"
	"socgraph/internal/llm"
	"socgraph/internal/logger"
	"socgraph/internal/logsource"
	"socgraph/internal/metrics"
	"socgraph/internal/nodestate"
	"socgraph/internal/output/assessmentclickhouse"
	"socgraph/internal/output/assessmenthttp"
	"socgraph/internal/output/assessmentjson"
	"socgraph/internal/output/natspub"
	"socgraph/internal/output/snapshotjson"
	"socgraph/internal/output/topologyjson"
	"socgraph/internal/patterns"
	"socgraph/internal/pipeline"
	"socgraph/internal/rules"
	"socgraph/internal/scoring"
	"socgraph/internal/store"
	"socgraph/pkg/models"
)

// logStore is both the rebuild log source and the live log archive.
type logStore interface {
	topology.LogSource
	pipeline.LogArchive
}

// stores holds the persistence handles shared by the commands.
type stores struct {
	db   *store.SQLite
	logs logStore
	// sharedDB is set when db is also the log archive.
	sharedDB bool
}

func openStores(cfg *config.Config) (*stores, error) {
	db, err := store.Open(cfg.Store.SQLite.Path)
	if err != nil {
		return nil, err
	}
	s := &stores{db: db, logs: db, sharedDB: true}
	if cfg.LogSource.Mode == config.LogSourceRedis {
		src, err := logsource.NewRedisSource(logsource.RedisConfig{
			Addr:       cfg.LogSource.Redis.Addr,
			Password:   cfg.LogSource.Redis.Password,
			DB:         cfg.LogSource.Redis.DB,
			Key:        cfg.LogSource.Redis.Key,
			MaxEntries: cfg.LogSource.MaxEntries,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		s.logs = src
		s.sharedDB = false
	}
	logger.Infof("Log source: %s", cfg.LogSource.Mode)
	return s, nil
}

// closeDB closes the SQLite handle unless it is also the log archive, which
// its owner closes.
func (s *stores) closeDB() {
	if s.sharedDB {
		return
	}
	if err := s.db.Close(); err != nil {
		logger.Errorf("Error closing store: %v", err)
	}
}

func (s *stores) close() {
	if err := s.logs.Close(); err != nil {
		logger.Errorf("Error closing log source: %v", err)
	}
	s.closeDB()
}

func loadLibrary(cfg *config.Config) (*patterns.Library, error) {
	lib, err := patterns.LoadOrDefault(cfg.Patterns.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Patterns.Path != "" {
		logger.Infof("Pattern library loaded from %s", cfg.Patterns.Path)
	}
	return lib, nil
}

func loadRules(cfg *config.Config) (rules.Engine, error) {
	if !cfg.Rules.Enabled {
		return nil, nil
	}
	engine, stats, err := rules.NewSigmaEngine(cfg.Rules.Path, rules.SigmaOptions{Products: cfg.Rules.Products})
	if err != nil {
		return nil, fmt.Errorf("load Sigma rules from %s: %w", cfg.Rules.Path, err)
	}
	logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
		stats.Loaded,
		stats.SkippedComplex,
		stats.SkippedDatasource,
		stats.SkippedInvalid,
		stats.TotalFiles,
	)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible Sigma rules loaded; rule matches are effectively disabled")
	}
	return engine, nil
}

func newBuilder(cfg *config.Config, src topology.LogSource, lib *patterns.Library, m *metrics.Metrics) *topology.Builder {
	opts := topology.Options{
		Limit:        cfg.LogSource.Limit,
		ActiveWindow: cfg.Topology.ActiveWindow,
	}
	if m != nil {
		opts.Recorder = m
	}
	return topology.NewBuilder(src, lib, opts)
}

// newScorers builds the deterministic scorer and the assess function the
// commands run. The AI scorer wraps it when the LLM is enabled.
func newScorers(cfg *config.Config, lib *patterns.Library, m *metrics.Metrics) (*scoring.Scorer, pipeline.AssessFunc, error) {
	engine, err := loadRules(cfg)
	if err != nil {
		return nil, nil, err
	}
	scorer, err := scoring.NewScorer(lib, engine, scoring.Config{
		DedupWindow:          cfg.Scoring.DedupWindow,
		CorrelationWindow:    cfg.Scoring.CorrelationWindow,
		PersistenceThreshold: cfg.Scoring.PersistenceThreshold,
		CampaignHosts:        cfg.Scoring.CampaignHosts,
		MaxDedupEntries:      cfg.Scoring.MaxDedupEntries,
	})
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Scoring.LLM.Enabled {
		return scorer, func(ctx context.Context, in scoring.Input) *models.ThreatAssessment {
			return scorer.Score(in)
		}, nil
	}

	client, err := llm.NewClient(llm.Config{
		Endpoint:    cfg.Scoring.LLM.Endpoint,
		APIKey:      cfg.Scoring.LLM.APIKey,
		Model:       cfg.Scoring.LLM.Model,
		Temperature: cfg.Scoring.LLM.Temperature,
		MaxTokens:   cfg.Scoring.LLM.MaxTokens,
		Timeout:     cfg.Scoring.LLM.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	opts := scoring.AIOptions{Timeout: cfg.Scoring.LLM.Timeout}
	if m != nil {
		opts.Recorder = m
	}
	ai := scoring.NewAIScorer(scorer, client, opts)
	logger.Infof("AI-assisted scoring enabled (model=%s)", cfg.Scoring.LLM.Model)
	return scorer, ai.Score, nil
}

// newAssessmentWriters opens the configured assessment sink. The NATS
// publisher is returned separately so it can also publish topology updates.
func newAssessmentWriters(cfg *config.Config) ([]pipeline.AssessmentWriter, *natspub.Publisher, error) {
	var writers []pipeline.AssessmentWriter
	var pub *natspub.Publisher

	if cfg.Output.Mode == config.OutputNATS || cfg.Output.NATS.Enabled {
		p, err := natspub.NewPublisher(natspub.Config{
			URL:           cfg.Output.NATS.URL,
			SubjectPrefix: cfg.Output.NATS.SubjectPrefix,
			FlushTimeout:  cfg.Output.NATS.FlushTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		pub = p
		logger.Infof("NATS output: %s (prefix %s)", cfg.Output.NATS.URL, cfg.Output.NATS.SubjectPrefix)
	}

	switch cfg.Output.Mode {
	case config.OutputFile:
		w, err := assessmentjson.NewWriter(cfg.Output.File.Path)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		logger.Infof("Output mode: file (%s)", cfg.Output.File.Path)
	case config.OutputHTTP:
		w, err := assessmenthttp.NewWriter(assessmenthttp.Config{
			URL:     cfg.Output.HTTP.URL,
			Timeout: cfg.Output.HTTP.Timeout,
			Headers: cfg.Output.HTTP.Headers,
		})
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		logger.Infof("Output mode: http (%s)", cfg.Output.HTTP.URL)
	case config.OutputClickHouse:
		ch := cfg.Output.ClickHouse
		w, err := assessmentclickhouse.NewWriter(assessmentclickhouse.Config{
			URL:      ch.URL,
			Database: ch.Database,
			Table:    ch.Table,
			Username: ch.Username,
			Password: ch.Password,
			Timeout:  ch.Timeout,
			Headers:  ch.Headers,
		})
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		logger.Infof("Output mode: clickhouse (%s)", ch.URL)
	case config.OutputNATS:
	default:
		return nil, nil, fmt.Errorf("unknown output mode: %s", cfg.Output.Mode)
	}
	if pub != nil {
		writers = append(writers, pub)
	}
	return writers, pub, nil
}

// newSnapshotWriters opens every configured sink for published topologies.
func newSnapshotWriters(cfg *config.Config, db *store.SQLite, pub *natspub.Publisher) ([]pipeline.SnapshotWriter, error) {
	writers := []pipeline.SnapshotWriter{store.SnapshotWriter{DB: db, Keep: cfg.Store.SQLite.KeepSnapshots}}

	if path := strings.TrimSpace(cfg.Output.Snapshot.Path); path != "" {
		w, err := snapshotjson.NewWriter(path)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if path := strings.TrimSpace(cfg.Output.Topology.Path); path != "" {
		mapper := adjacency.NewMapper(adjacency.MapperOptions{
			WriteVertexRows: cfg.Output.Topology.WriteVertexRows,
			IncludeEdgeData: cfg.Output.Topology.IncludeEdgeData,
		})
		w, err := topologyjson.NewWriter(path, mapper)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if ns := cfg.Store.NodeState; ns.Enabled {
		w, err := nodestate.NewRedisStore(nodestate.RedisConfig{
			Addr:      ns.Addr,
			Password:  ns.Password,
			DB:        ns.DB,
			KeyPrefix: ns.KeyPrefix,
			TTL:       ns.TTL,
		})
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
		logger.Infof("Node-state index: redis %s", ns.Addr)
	}
	if pub != nil {
		writers = append(writers, pub)
	}
	return writers, nil
}

// pruneLogs applies the archive retention when the archive is SQLite.
func (s *stores) pruneLogs(ctx context.Context, retention time.Duration) {
	if !s.sharedDB || retention <= 0 {
		return
	}
	n, err := s.db.PruneLogs(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Warnf("Log retention: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("Log retention removed %d archived records", n)
	}
}
