// Package nodestate mirrors per-node derived state into Redis so that other
// services can look up a host's role and importance without the full topology.
package nodestate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"socgraph/internal/graph/topology"
)

// RedisConfig configures Redis access for node-state persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NodeState is the compact per-node record kept in Redis.
type NodeState struct {
	AgentID            string    `json:"agent_id"`
	Hostname           string    `json:"hostname"`
	Role               string    `json:"role"`
	Importance         string    `json:"importance"`
	ImportanceScore    int       `json:"importance_score"`
	Subnet             string    `json:"subnet,omitempty"`
	SecurityZone       string    `json:"security_zone"`
	IPAddresses        []string  `json:"ip_addresses"`
	VulnerabilityScore float64   `json:"vulnerability_score"`
	LastActivity       time.Time `json:"last_activity,omitempty"`
	BuildID            string    `json:"build_id,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// RedisStore writes and reads node-state keys.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed node-state store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "socgraph:node_state"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 48 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis node-state: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), ttl: cfg.TTL, now: time.Now}, nil
}

// WriteSnapshot stores every node of the snapshot and replaces the
// importance-ranked high-value target set.
func (s *RedisStore) WriteSnapshot(ctx context.Context, snap *topology.Snapshot) error {
	if snap == nil {
		return nil
	}
	updated := s.now()
	pipe := s.client.TxPipeline()

	for _, id := range snap.AgentIDs() {
		n := snap.Nodes[id]
		key := s.nodeKey(id)
		pipe.HSet(ctx, key, nodeFields(n, snap.BuildID, updated))
		pipe.Expire(ctx, key, s.ttl)
	}

	pipe.Del(ctx, s.hvtSetKey())
	if len(snap.HighValueTargets) > 0 {
		members := make([]redis.Z, 0, len(snap.HighValueTargets))
		for _, id := range snap.HighValueTargets {
			score := 0.0
			if n := snap.Nodes[id]; n != nil {
				score = float64(n.ImportanceScore)
			}
			members = append(members, redis.Z{Score: score, Member: id})
		}
		pipe.ZAdd(ctx, s.hvtSetKey(), members...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update node-state redis keys: %w", err)
	}
	return nil
}

// Get returns the stored state of one agent. ok is false when it is unknown.
func (s *RedisStore) Get(ctx context.Context, agentID string) (NodeState, bool, error) {
	hash, err := s.client.HGetAll(ctx, s.nodeKey(agentID)).Result()
	if err != nil {
		return NodeState{}, false, fmt.Errorf("read node-state %s: %w", agentID, err)
	}
	if len(hash) == 0 {
		return NodeState{}, false, nil
	}
	return parseNodeState(agentID, hash), true, nil
}

// TopHighValue returns up to limit high-value targets, most important first.
func (s *RedisStore) TopHighValue(ctx context.Context, limit int64) ([]NodeState, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRevRange(ctx, s.hvtSetKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read high-value set: %w", err)
	}
	out := make([]NodeState, 0, len(ids))
	for _, id := range ids {
		st, ok, err := s.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) nodeKey(agentID string) string {
	return s.prefix + ":node:" + agentID
}

func (s *RedisStore) hvtSetKey() string {
	return s.prefix + ":high_value"
}

func nodeFields(n *topology.NodeSnapshot, buildID string, updated time.Time) map[string]interface{} {
	fields := map[string]interface{}{
		"agent_id":            n.AgentID,
		"hostname":            n.Hostname,
		"role":                n.Role,
		"importance":          n.Importance,
		"importance_score":    strconv.Itoa(n.ImportanceScore),
		"subnet":              n.Subnet,
		"security_zone":       n.SecurityZone,
		"ip_addresses":        strings.Join(n.IPAddresses, ","),
		"vulnerability_score": strconv.FormatFloat(n.VulnerabilityScore, 'f', 3, 64),
		"build_id":            buildID,
		"updated_at":          strconv.FormatInt(updated.Unix(), 10),
	}
	if !n.LastActivity.IsZero() {
		fields["last_activity"] = strconv.FormatInt(n.LastActivity.Unix(), 10)
	}
	return fields
}

func parseNodeState(agentID string, hash map[string]string) NodeState {
	st := NodeState{
		AgentID:      agentID,
		Hostname:     hash["hostname"],
		Role:         hash["role"],
		Importance:   hash["importance"],
		Subnet:       hash["subnet"],
		SecurityZone: hash["security_zone"],
		BuildID:      hash["build_id"],
	}
	st.ImportanceScore, _ = strconv.Atoi(hash["importance_score"])
	st.VulnerabilityScore, _ = strconv.ParseFloat(hash["vulnerability_score"], 64)
	if ips := hash["ip_addresses"]; ips != "" {
		st.IPAddresses = strings.Split(ips, ",")
	}
	if v, _ := strconv.ParseInt(hash["last_activity"], 10, 64); v > 0 {
		st.LastActivity = time.Unix(v, 0).UTC()
	}
	if v, _ := strconv.ParseInt(hash["updated_at"], 10, 64); v > 0 {
		st.UpdatedAt = time.Unix(v, 0).UTC()
	}
	return st
}
