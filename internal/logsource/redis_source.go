// Package logsource keeps a bounded, time-indexed archive of log records in
// Redis and serves the recent window to topology rebuilds.
package logsource

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"socgraph/internal/logger"
	"socgraph/internal/transform/logrecord"
	"socgraph/pkg/models"
)

var log = logger.Named("logsource")

// RedisConfig configures the Redis archive.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Key        string
	MaxEntries int64
}

// RedisSource stores records in a sorted set scored by unix timestamp.
type RedisSource struct {
	client     *redis.Client
	key        string
	maxEntries int64
	now        func() time.Time
}

// NewRedisSource constructs a Redis-backed log source.
func NewRedisSource(cfg RedisConfig) (*RedisSource, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.Key) == "" {
		cfg.Key = "socgraph:logs"
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 200000
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis log source: %w", err)
	}

	return &RedisSource{client: client, key: cfg.Key, maxEntries: cfg.MaxEntries, now: time.Now}, nil
}

// ArchiveLogs appends records and trims the archive to its capacity.
func (s *RedisSource) ArchiveLogs(ctx context.Context, recs []*models.LogRecord) error {
	if len(recs) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal log record: %w", err)
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		pipe.ZAdd(ctx, s.key, redis.Z{Score: scoreOf(ts), Member: encodeMember(uuid.NewString(), data)})
	}
	pipe.ZRemRangeByRank(ctx, s.key, 0, -s.maxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append log records: %w", err)
	}
	return nil
}

// GetRecentLogs returns at most limit records newer than now-window, newest first.
func (s *RedisSource) GetRecentLogs(ctx context.Context, window time.Duration, limit int) ([]*models.LogRecord, error) {
	members, err := s.client.ZRevRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   strconv.FormatFloat(scoreOf(s.now().Add(-window)), 'f', -1, 64),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent logs: %w", err)
	}

	out := make([]*models.LogRecord, 0, len(members))
	for _, m := range members {
		data, ok := decodeMember(m)
		if !ok {
			continue
		}
		rec, err := logrecord.Parse(data)
		if err != nil {
			log.Debugf("skip unreadable archived record: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes Redis resources.
func (s *RedisSource) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// Members carry a unique id so identical records are not collapsed by the set.
func encodeMember(id string, data []byte) string {
	return id + "|" + string(data)
}

func decodeMember(member string) ([]byte, bool) {
	parts := strings.SplitN(member, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	return []byte(parts[1]), true
}
