package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"socgraph/internal/api"
	inputredis "socgraph/internal/input/redis"
	"socgraph/internal/logger"
	"socgraph/internal/metrics"
	"socgraph/internal/pipeline"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the continuous monitor and the topology API",
	Long: `Consumes log records from the Redis queue, keeps the live topology current,
scores every event and fans assessments and topology snapshots out to the
configured sinks. The read-only topology API and /metrics are served alongside.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	logger.Infof("socgraph monitor starting")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}

	lib, err := loadLibrary(cfg)
	if err != nil {
		st.close()
		return err
	}
	builder := newBuilder(cfg, st.logs, lib, m)
	scorer, assess, err := newScorers(cfg, lib, m)
	if err != nil {
		st.close()
		return err
	}

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.Input.Redis.Addr,
		Password:     cfg.Input.Redis.Password,
		DB:           cfg.Input.Redis.DB,
		Key:          cfg.Input.Redis.Key,
		Keys:         cfg.Input.Redis.Keys,
		BlockTimeout: cfg.Input.Redis.BlockTimeout,
	})
	if err != nil {
		st.close()
		return err
	}

	writers, pub, err := newAssessmentWriters(cfg)
	if err != nil {
		consumer.Close()
		st.close()
		return err
	}
	snapshots, err := newSnapshotWriters(cfg, st.db, pub)
	if err != nil {
		consumer.Close()
		st.close()
		return err
	}

	mon := pipeline.NewMonitor(consumer, assess, builder, scorer, st.logs, writers, snapshots, m, pipeline.Options{
		Workers:         cfg.Pipeline.Workers,
		BatchSize:       cfg.Pipeline.BatchSize,
		FlushInterval:   cfg.Pipeline.FlushInterval,
		RefreshInterval: cfg.Topology.RefreshInterval,
		RebuildInterval: cfg.Topology.RebuildInterval,
		RebuildWindow:   cfg.LogSource.Window,
		CleanupInterval: cfg.Scoring.CleanupInterval,
		MinSeverity:     cfg.Pipeline.MinSeverity,
	})
	defer func() {
		if err := mon.Close(); err != nil {
			logger.Errorf("Error closing pipeline: %v", err)
		}
		st.closeDB()
		logger.Infof("socgraph monitor stopped")
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := builder.Build(ctx, cfg.LogSource.Window); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.API.Enabled {
		srv = &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           api.NewServer(builder, api.Options{Gatherer: reg, RequestLog: cfg.API.RequestLog}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("Topology API listening on %s", cfg.API.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Topology API: %v", err)
				stop()
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.pruneLogs(ctx, cfg.Store.SQLite.LogRetention)
			}
		}
	}()

	err = mon.Run(ctx)
	logger.Infof("Shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Topology API shutdown: %v", err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
