// Package store provides SQLite persistence for archived log records and
// published topology snapshots.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"socgraph/internal/graph/topology"
	"socgraph/internal/logger"
	"socgraph/internal/transform/logrecord"
	"socgraph/pkg/models"
)

var log = logger.Named("store")

// ErrNoSnapshot is returned when no snapshot has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// SQLite wraps the database connection.
type SQLite struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
}

// Open creates or opens the database at path.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &SQLite{db: db, enc: enc, dec: dec, now: time.Now}
	if err := s.createTables(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLite) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT,
			ts INTEGER NOT NULL,
			record TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs(ts)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			build_id TEXT,
			created_at INTEGER NOT NULL,
			total_nodes INTEGER NOT NULL,
			payload BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertLog archives one record. Records without a timestamp are stored at
// the current time.
func (s *SQLite) InsertLog(ctx context.Context, rec *models.LogRecord) error {
	if rec == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal log record: %w", err)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (agent_id, ts, record) VALUES (?, ?, ?)`,
		rec.AgentID, ts.UnixNano(), string(data)); err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

// ArchiveLogs inserts a batch of records in one transaction.
func (s *SQLite) ArchiveLogs(ctx context.Context, recs []*models.LogRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO logs (agent_id, ts, record) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if rec == nil {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to marshal log record: %w", err)
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		if _, err := stmt.ExecContext(ctx, rec.AgentID, ts.UnixNano(), string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert log: %w", err)
		}
	}
	return tx.Commit()
}

// GetRecentLogs returns at most limit records newer than now-window, newest first.
func (s *SQLite) GetRecentLogs(ctx context.Context, window time.Duration, limit int) ([]*models.LogRecord, error) {
	cutoff := s.now().Add(-window).UnixNano()
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM logs WHERE ts >= ? ORDER BY ts DESC, id DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var out []*models.LogRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		rec, err := logrecord.Parse([]byte(raw))
		if err != nil {
			log.Debugf("skip unreadable archived record: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneLogs deletes records older than the cutoff.
func (s *SQLite) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune logs: %w", err)
	}
	return res.RowsAffected()
}

// SaveSnapshot stores a zstd-compressed snapshot.
func (s *SQLite) SaveSnapshot(ctx context.Context, snap *topology.Snapshot) error {
	if snap == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	payload := s.enc.EncodeAll(data, nil)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (build_id, created_at, total_nodes, payload) VALUES (?, ?, ?, ?)`,
		snap.BuildID, s.now().UnixNano(), snap.TotalNodes, payload); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot loads the most recently saved snapshot.
func (s *SQLite) LatestSnapshot(ctx context.Context) (*topology.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	data, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return topology.DecodeSnapshot(data)
}

// PruneSnapshots keeps only the newest keep snapshots.
func (s *SQLite) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY created_at DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database and codec resources.
func (s *SQLite) Close() error {
	s.dec.Close()
	s.enc.Close()
	return s.db.Close()
}

// SnapshotWriter saves every published snapshot and keeps the newest Keep.
// Close is a no-op; the owner of the SQLite handle closes it.
type SnapshotWriter struct {
	DB   *SQLite
	Keep int
}

// WriteSnapshot saves snap and prunes older snapshots.
func (w SnapshotWriter) WriteSnapshot(ctx context.Context, snap *topology.Snapshot) error {
	if err := w.DB.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	if w.Keep > 0 {
		if _, err := w.DB.PruneSnapshots(ctx, w.Keep); err != nil {
			log.Warnf("snapshot retention: %v", err)
		}
	}
	return nil
}

// Close implements the snapshot sink contract.
func (w SnapshotWriter) Close() error { return nil }
