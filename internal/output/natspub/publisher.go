// Package natspub fans assessments and topology updates out over NATS.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"socgraph/internal/graph/topology"
	"socgraph/internal/logger"
	"socgraph/pkg/models"
)

// Config configures the publisher.
type Config struct {
	URL           string
	SubjectPrefix string
	FlushTimeout  time.Duration
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher publishes assessments on "<prefix>.assessments.<severity>" and
// snapshot summaries on "<prefix>.topology".
type Publisher struct {
	nc           conn
	prefix       string
	flushTimeout time.Duration
}

// TopologyUpdate is the summary published after each rebuild or refresh.
type TopologyUpdate struct {
	BuildID           string    `json:"build_id"`
	TotalNodes        int       `json:"total_nodes"`
	ActiveNodes       int       `json:"active_nodes"`
	Subnets           int       `json:"subnets"`
	DomainControllers []string  `json:"domain_controllers"`
	HighValueTargets  []string  `json:"high_value_targets"`
	AttackPaths       int       `json:"attack_paths"`
	LastUpdated       time.Time `json:"last_updated"`
}

// NewPublisher connects to NATS.
func NewPublisher(cfg Config) (*Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("socgraph"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Infof("NATS publisher connected: %s", url)
	return newPublisher(nc, cfg), nil
}

func newPublisher(nc conn, cfg Config) *Publisher {
	prefix := strings.Trim(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "socgraph"
	}
	flush := cfg.FlushTimeout
	if flush <= 0 {
		flush = 2 * time.Second
	}
	return &Publisher{nc: nc, prefix: prefix, flushTimeout: flush}
}

// WriteAssessments publishes each assessment on its severity subject.
func (p *Publisher) WriteAssessments(assessments []*models.ThreatAssessment) error {
	for _, a := range assessments {
		if a == nil {
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal assessment: %w", err)
		}
		if err := p.nc.Publish(p.assessmentSubject(a.Severity), data); err != nil {
			return fmt.Errorf("failed to publish assessment: %w", err)
		}
	}
	return p.nc.FlushTimeout(p.flushTimeout)
}

// WriteSnapshot publishes a topology summary.
func (p *Publisher) WriteSnapshot(ctx context.Context, snap *topology.Snapshot) error {
	if snap == nil {
		return nil
	}
	data, err := json.Marshal(Summarize(snap))
	if err != nil {
		return fmt.Errorf("failed to marshal topology update: %w", err)
	}
	if err := p.nc.Publish(p.prefix+".topology", data); err != nil {
		return fmt.Errorf("failed to publish topology update: %w", err)
	}
	return p.nc.FlushTimeout(p.flushTimeout)
}

// Summarize reduces a snapshot to its published summary.
func Summarize(snap *topology.Snapshot) TopologyUpdate {
	return TopologyUpdate{
		BuildID:           snap.BuildID,
		TotalNodes:        snap.TotalNodes,
		ActiveNodes:       snap.ActiveNodes,
		Subnets:           len(snap.Subnets),
		DomainControllers: append([]string{}, snap.DomainControllers...),
		HighValueTargets:  append([]string{}, snap.HighValueTargets...),
		AttackPaths:       len(snap.AttackPaths),
		LastUpdated:       snap.LastUpdated,
	}
}

// Close closes the connection.
func (p *Publisher) Close() error {
	p.nc.Close()
	return nil
}

func (p *Publisher) assessmentSubject(severity string) string {
	severity = strings.ToLower(strings.TrimSpace(severity))
	if severity == "" {
		severity = "unknown"
	}
	return p.prefix + ".assessments." + severity
}
