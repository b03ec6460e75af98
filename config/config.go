package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SOCGRAPH_SCORING_LLM_API_KEY.
const EnvPrefix = "SOCGRAPH"

// Config is the root configuration.
type Config struct {
	Input     InputConfig     `mapstructure:"input"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	LogSource LogSourceConfig `mapstructure:"logsource"`
	Topology  TopologyConfig  `mapstructure:"topology"`
	Patterns  PatternsConfig  `mapstructure:"patterns"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Output    OutputConfig    `mapstructure:"output"`
	Store     StoreConfig     `mapstructure:"store"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// InputConfig controls the live log queue.
type InputConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig is a Redis connection plus the keys one component uses.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Key          string        `mapstructure:"key"`
	Keys         []string      `mapstructure:"keys"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
}

// PipelineConfig controls the continuous monitor.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// MinSeverity is the lowest severity written to assessment sinks.
	MinSeverity string `mapstructure:"min_severity"`
}

// Log source modes.
const (
	LogSourceSQLite = "sqlite"
	LogSourceRedis  = "redis"
)

// LogSourceConfig selects where rebuilds read their log window from.
type LogSourceConfig struct {
	Mode       string        `mapstructure:"mode"`
	Window     time.Duration `mapstructure:"window"`
	Limit      int           `mapstructure:"limit"`
	Redis      RedisConfig   `mapstructure:"redis"`
	MaxEntries int64         `mapstructure:"max_entries"`
}

// TopologyConfig controls topology refreshes and rebuilds.
type TopologyConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// RebuildInterval schedules full rebuilds; a negative value disables them.
	RebuildInterval time.Duration `mapstructure:"rebuild_interval"`
	ActiveWindow    time.Duration `mapstructure:"active_window"`
}

// PatternsConfig points at an optional pattern library override.
type PatternsConfig struct {
	Path string `mapstructure:"path"`
}

// ScoringConfig controls the threat scorer.
type ScoringConfig struct {
	DedupWindow          time.Duration `mapstructure:"dedup_window"`
	CorrelationWindow    time.Duration `mapstructure:"correlation_window"`
	PersistenceThreshold int           `mapstructure:"persistence_threshold"`
	CampaignHosts        int           `mapstructure:"campaign_hosts"`
	MaxDedupEntries      int           `mapstructure:"max_dedup_entries"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	LLM                  LLMConfig     `mapstructure:"llm"`
}

// LLMConfig enables the AI-assisted scorer.
type LLMConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RulesConfig controls Sigma rule matching.
type RulesConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Path     string   `mapstructure:"path"`
	Products []string `mapstructure:"products"`
}

// Assessment sink modes.
const (
	OutputFile       = "file"
	OutputHTTP       = "http"
	OutputClickHouse = "clickhouse"
	OutputNATS       = "nats"
)

// OutputConfig controls assessment and topology output.
type OutputConfig struct {
	Mode       string                 `mapstructure:"mode"`
	File       FileOutputConfig       `mapstructure:"file"`
	HTTP       HTTPOutputConfig       `mapstructure:"http"`
	ClickHouse ClickHouseOutputConfig `mapstructure:"clickhouse"`
	NATS       NATSOutputConfig       `mapstructure:"nats"`
	Topology   TopologyOutputConfig   `mapstructure:"topology"`
	Snapshot   FileOutputConfig       `mapstructure:"snapshot"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `mapstructure:"url"`
	Database string            `mapstructure:"database"`
	Table    string            `mapstructure:"table"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
}

// NATSOutputConfig config for NATS fan-out. When enabled, topology updates are
// published as well, whatever the assessment mode.
type NATSOutputConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout"`
}

// TopologyOutputConfig controls adjacency row emission.
type TopologyOutputConfig struct {
	Path            string `mapstructure:"path"`
	WriteVertexRows bool   `mapstructure:"write_vertex_rows"`
	IncludeEdgeData bool   `mapstructure:"include_edge_data"`
}

// StoreConfig controls persistence.
type StoreConfig struct {
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	NodeState NodeStateConfig `mapstructure:"node_state"`
}

// SQLiteConfig controls the log archive and snapshot store.
type SQLiteConfig struct {
	Path          string        `mapstructure:"path"`
	KeepSnapshots int           `mapstructure:"keep_snapshots"`
	LogRetention  time.Duration `mapstructure:"log_retention"`
}

// NodeStateConfig controls the Redis per-node state index.
type NodeStateConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// APIConfig controls the read-only topology API.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Listen     string `mapstructure:"listen"`
	RequestLog bool   `mapstructure:"request_log"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		API:     APIConfig{Enabled: true},
		Logging: LoggingConfig{Enabled: true, Console: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Input.Redis.Addr == "" {
		cfg.Input.Redis.Addr = "localhost:6379"
	}
	if cfg.Input.Redis.Key == "" && len(cfg.Input.Redis.Keys) == 0 {
		cfg.Input.Redis.Key = "socgraph:queue"
	}
	if cfg.Input.Redis.BlockTimeout <= 0 {
		cfg.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 8
	}
	if cfg.Pipeline.BatchSize <= 0 {
		cfg.Pipeline.BatchSize = 500
	}
	if cfg.Pipeline.FlushInterval <= 0 {
		cfg.Pipeline.FlushInterval = 2 * time.Second
	}
	if cfg.Pipeline.MinSeverity == "" {
		cfg.Pipeline.MinSeverity = "low"
	}

	if cfg.LogSource.Mode == "" {
		cfg.LogSource.Mode = LogSourceSQLite
	}
	if cfg.LogSource.Window <= 0 {
		cfg.LogSource.Window = 24 * time.Hour
	}
	if cfg.LogSource.Limit <= 0 {
		cfg.LogSource.Limit = 50000
	}
	if cfg.LogSource.Redis.Addr == "" {
		cfg.LogSource.Redis.Addr = cfg.Input.Redis.Addr
	}
	if cfg.LogSource.Redis.Key == "" {
		cfg.LogSource.Redis.Key = "socgraph:logs"
	}
	if cfg.LogSource.MaxEntries <= 0 {
		cfg.LogSource.MaxEntries = 200000
	}

	if cfg.Topology.RefreshInterval <= 0 {
		cfg.Topology.RefreshInterval = time.Minute
	}
	if cfg.Topology.RebuildInterval == 0 {
		cfg.Topology.RebuildInterval = 15 * time.Minute
	}
	if cfg.Topology.ActiveWindow <= 0 {
		cfg.Topology.ActiveWindow = time.Hour
	}

	if cfg.Scoring.DedupWindow <= 0 {
		cfg.Scoring.DedupWindow = 60 * time.Minute
	}
	if cfg.Scoring.CorrelationWindow <= 0 {
		cfg.Scoring.CorrelationWindow = 30 * time.Minute
	}
	if cfg.Scoring.PersistenceThreshold <= 0 {
		cfg.Scoring.PersistenceThreshold = 10
	}
	if cfg.Scoring.CampaignHosts <= 0 {
		cfg.Scoring.CampaignHosts = 3
	}
	if cfg.Scoring.MaxDedupEntries <= 0 {
		cfg.Scoring.MaxDedupEntries = 100000
	}
	if cfg.Scoring.CleanupInterval <= 0 {
		cfg.Scoring.CleanupInterval = 5 * time.Minute
	}
	if cfg.Scoring.LLM.Model == "" {
		cfg.Scoring.LLM.Model = "gpt-3.5-turbo"
	}
	if cfg.Scoring.LLM.Temperature <= 0 {
		cfg.Scoring.LLM.Temperature = 0.3
	}
	if cfg.Scoring.LLM.MaxTokens <= 0 {
		cfg.Scoring.LLM.MaxTokens = 800
	}
	if cfg.Scoring.LLM.Timeout <= 0 {
		cfg.Scoring.LLM.Timeout = 30 * time.Second
	}

	if cfg.Output.Mode == "" {
		cfg.Output.Mode = OutputFile
	}
	if cfg.Output.File.Path == "" {
		cfg.Output.File.Path = "output/assessments.jsonl"
	}
	if cfg.Output.HTTP.Timeout <= 0 {
		cfg.Output.HTTP.Timeout = 10 * time.Second
	}
	if cfg.Output.ClickHouse.Timeout <= 0 {
		cfg.Output.ClickHouse.Timeout = 10 * time.Second
	}
	if cfg.Output.NATS.SubjectPrefix == "" {
		cfg.Output.NATS.SubjectPrefix = "socgraph"
	}

	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "data/socgraph.db"
	}
	if cfg.Store.SQLite.KeepSnapshots <= 0 {
		cfg.Store.SQLite.KeepSnapshots = 48
	}
	if cfg.Store.SQLite.LogRetention <= 0 {
		cfg.Store.SQLite.LogRetention = 7 * 24 * time.Hour
	}
	if cfg.Store.NodeState.Addr == "" {
		cfg.Store.NodeState.Addr = cfg.Input.Redis.Addr
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.LogSource.Mode {
	case LogSourceSQLite, LogSourceRedis:
	default:
		return fmt.Errorf("unknown logsource mode %q", c.LogSource.Mode)
	}
	switch c.Output.Mode {
	case OutputFile, OutputHTTP, OutputClickHouse, OutputNATS:
	default:
		return fmt.Errorf("unknown output mode %q", c.Output.Mode)
	}
	if c.Output.Mode == OutputHTTP && c.Output.HTTP.URL == "" {
		return errors.New("output.http.url is required for http output")
	}
	if c.Output.Mode == OutputClickHouse && c.Output.ClickHouse.URL == "" {
		return errors.New("output.clickhouse.url is required for clickhouse output")
	}
	if (c.Output.Mode == OutputNATS || c.Output.NATS.Enabled) && c.Output.NATS.URL == "" {
		return errors.New("output.nats.url is required for nats output")
	}
	if c.Scoring.LLM.Enabled && c.Scoring.LLM.APIKey == "" {
		return errors.New("scoring.llm.api_key is required when the llm is enabled")
	}
	if c.Rules.Enabled && c.Rules.Path == "" {
		return errors.New("rules.path is required when rules are enabled")
	}
	return nil
}

// Load reads a YAML config file and applies SOCGRAPH_ environment overrides.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply to
// keys absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("input.redis.addr", d.Input.Redis.Addr)
	v.SetDefault("input.redis.password", "")
	v.SetDefault("input.redis.db", 0)
	v.SetDefault("input.redis.key", d.Input.Redis.Key)
	v.SetDefault("input.redis.keys", []string{})
	v.SetDefault("input.redis.block_timeout", d.Input.Redis.BlockTimeout)

	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.flush_interval", d.Pipeline.FlushInterval)
	v.SetDefault("pipeline.min_severity", d.Pipeline.MinSeverity)

	v.SetDefault("logsource.mode", d.LogSource.Mode)
	v.SetDefault("logsource.window", d.LogSource.Window)
	v.SetDefault("logsource.limit", d.LogSource.Limit)
	v.SetDefault("logsource.redis.addr", "")
	v.SetDefault("logsource.redis.password", "")
	v.SetDefault("logsource.redis.db", 0)
	v.SetDefault("logsource.redis.key", d.LogSource.Redis.Key)
	v.SetDefault("logsource.max_entries", d.LogSource.MaxEntries)

	v.SetDefault("topology.refresh_interval", d.Topology.RefreshInterval)
	v.SetDefault("topology.rebuild_interval", d.Topology.RebuildInterval)
	v.SetDefault("topology.active_window", d.Topology.ActiveWindow)

	v.SetDefault("patterns.path", "")

	v.SetDefault("scoring.dedup_window", d.Scoring.DedupWindow)
	v.SetDefault("scoring.correlation_window", d.Scoring.CorrelationWindow)
	v.SetDefault("scoring.persistence_threshold", d.Scoring.PersistenceThreshold)
	v.SetDefault("scoring.campaign_hosts", d.Scoring.CampaignHosts)
	v.SetDefault("scoring.max_dedup_entries", d.Scoring.MaxDedupEntries)
	v.SetDefault("scoring.cleanup_interval", d.Scoring.CleanupInterval)
	v.SetDefault("scoring.llm.enabled", false)
	v.SetDefault("scoring.llm.endpoint", "")
	v.SetDefault("scoring.llm.api_key", "")
	v.SetDefault("scoring.llm.model", d.Scoring.LLM.Model)
	v.SetDefault("scoring.llm.temperature", d.Scoring.LLM.Temperature)
	v.SetDefault("scoring.llm.max_tokens", d.Scoring.LLM.MaxTokens)
	v.SetDefault("scoring.llm.timeout", d.Scoring.LLM.Timeout)

	v.SetDefault("rules.enabled", false)
	v.SetDefault("rules.path", "")
	v.SetDefault("rules.products", []string{})

	v.SetDefault("output.mode", d.Output.Mode)
	v.SetDefault("output.file.path", d.Output.File.Path)
	v.SetDefault("output.http.url", "")
	v.SetDefault("output.http.timeout", d.Output.HTTP.Timeout)
	v.SetDefault("output.clickhouse.url", "")
	v.SetDefault("output.clickhouse.database", "")
	v.SetDefault("output.clickhouse.table", "")
	v.SetDefault("output.clickhouse.username", "")
	v.SetDefault("output.clickhouse.password", "")
	v.SetDefault("output.clickhouse.timeout", d.Output.ClickHouse.Timeout)
	v.SetDefault("output.nats.enabled", false)
	v.SetDefault("output.nats.url", "")
	v.SetDefault("output.nats.subject_prefix", d.Output.NATS.SubjectPrefix)
	v.SetDefault("output.nats.flush_timeout", time.Duration(0))
	v.SetDefault("output.topology.path", "")
	v.SetDefault("output.topology.write_vertex_rows", false)
	v.SetDefault("output.topology.include_edge_data", false)
	v.SetDefault("output.snapshot.path", "")

	v.SetDefault("store.sqlite.path", d.Store.SQLite.Path)
	v.SetDefault("store.sqlite.keep_snapshots", d.Store.SQLite.KeepSnapshots)
	v.SetDefault("store.sqlite.log_retention", d.Store.SQLite.LogRetention)
	v.SetDefault("store.node_state.enabled", false)
	v.SetDefault("store.node_state.addr", "")
	v.SetDefault("store.node_state.password", "")
	v.SetDefault("store.node_state.db", 0)
	v.SetDefault("store.node_state.key_prefix", "")
	v.SetDefault("store.node_state.ttl", time.Duration(0))

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.request_log", false)

	v.SetDefault("logging.enabled", d.Logging.Enabled)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.console", d.Logging.Console)
}
