// Package scoring assigns a threat score to individual log events.
//
// Pattern matches are aggregated by weighted maximum: the strongest match
// sets the score and every corroborating match adds a tenth of it. Context
// then adjusts the result: asset criticality, time of day, repetition of the
// same detection on one agent, and the same detection across several hosts.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"socgraph/internal/logger"
	"socgraph/internal/patterns"
	"socgraph/internal/rules"
	"socgraph/pkg/models"
)

var log = logger.Named("scoring")

// Analysis types reported on assessments.
const (
	AnalysisSignature = "signature_detection"
	AnalysisEnhanced  = "enhanced_signature_detection"
)

const (
	sigmaCategory     = "sigma"
	containerCategory = "container_context"
)

// Config controls scorer windows and boosts.
type Config struct {
	DedupWindow          time.Duration
	CorrelationWindow    time.Duration
	PersistenceThreshold int
	PersistenceBoost     float64
	CampaignHosts        int
	CampaignBoost        float64
	MaxDedupEntries      int
}

func (c *Config) applyDefaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 60 * time.Minute
	}
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = 30 * time.Minute
	}
	if c.PersistenceThreshold <= 0 {
		c.PersistenceThreshold = 10
	}
	if c.PersistenceBoost <= 0 {
		c.PersistenceBoost = 0.1
	}
	if c.CampaignHosts <= 0 {
		c.CampaignHosts = 3
	}
	if c.CampaignBoost <= 0 {
		c.CampaignBoost = 0.3
	}
	if c.MaxDedupEntries <= 0 {
		c.MaxDedupEntries = 100000
	}
}

// Input is one event to score. Only Message is required.
type Input struct {
	Message   string
	Source    string
	Record    *models.LogRecord
	AgentID   string
	Hostname  string
	IPAddress string
}

// InputFromRecord fills an Input from a log record.
func InputFromRecord(rec *models.LogRecord) Input {
	if rec == nil {
		return Input{}
	}
	in := Input{
		Message: rec.Message,
		Source:  rec.Source,
		Record:  rec,
		AgentID: rec.AgentID,
	}
	for _, name := range []string{"hostname", "computer", "computer_name"} {
		if v := rec.Parsed(name); v != "" {
			in.Hostname = v
			break
		}
	}
	in.IPAddress = rec.Network("source_ip")
	if strings.EqualFold(rec.Network("direction"), "inbound") {
		in.IPAddress = rec.Network("destination_ip")
	}
	return in
}

type dedupEntry struct {
	first time.Time
	count int
}

type sighting struct {
	agentID  string
	hostname string
	at       time.Time
}

// Scorer is the deterministic threat scorer. It is safe for concurrent use;
// its rolling caches are guarded by one mutex and swept by Cleanup.
type Scorer struct {
	mu        sync.Mutex
	cfg       Config
	lib       *patterns.Library
	rules     rules.Engine
	dedup     *lru.Cache[string, *dedupEntry]
	campaigns map[string][]sighting
	now       func() time.Time
}

// NewScorer creates a scorer. A nil rule engine disables Sigma signals.
func NewScorer(lib *patterns.Library, engine rules.Engine, cfg Config) (*Scorer, error) {
	cfg.applyDefaults()
	if lib == nil {
		lib = patterns.Default()
	}
	if engine == nil {
		engine = &rules.NoopEngine{}
	}
	dedup, err := lru.New[string, *dedupEntry](cfg.MaxDedupEntries)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	return &Scorer{
		cfg:       cfg,
		lib:       lib,
		rules:     engine,
		dedup:     dedup,
		campaigns: make(map[string][]sighting),
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source. Intended for tests and replays.
func (s *Scorer) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Library returns the pattern library in use.
func (s *Scorer) Library() *patterns.Library {
	return s.lib
}

// Score assesses one event. It never fails; an event that matches nothing is benign.
func (s *Scorer) Score(in Input) *models.ThreatAssessment {
	matches := s.collect(in)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	if len(matches) == 0 {
		return &models.ThreatAssessment{
			ID:           uuid.NewString(),
			Timestamp:    now,
			AgentID:      in.AgentID,
			Hostname:     in.Hostname,
			IPAddress:    in.IPAddress,
			ThreatScore:  0.0,
			ThreatType:   models.ThreatTypeBenign,
			Severity:     models.SeverityInfo,
			Indicators:   []string{},
			AnalysisType: AnalysisSignature,
		}
	}

	maxScore, primary := 0.0, ""
	indicators := make([]string, 0, len(matches)+1)
	categories := make([]string, 0, len(matches))
	seenCategory := make(map[string]bool)
	for _, m := range matches {
		if primary == "" || m.BaseScore > maxScore {
			maxScore, primary = m.BaseScore, m.ThreatType
		}
		indicators = append(indicators, s.indicator(m))
		if !seenCategory[m.Category] {
			seenCategory[m.Category] = true
			categories = append(categories, m.Category)
		}
	}

	adj := &models.ContextAdjustments{
		AssetMultiplier:     1.0,
		TemporalBoost:       1.0,
		DeduplicationFactor: 1,
	}

	score := maxScore
	if n := len(matches); n > 1 {
		adj.CorrelationBoost = round3(float64(n-1) * maxScore * 0.1)
		score = capScore(maxScore + float64(n-1)*maxScore*0.1)
	}

	if in.Hostname != "" {
		adj.AssetMultiplier = s.lib.AssetMultiplier(in.Hostname)
		score = capScore(score * adj.AssetMultiplier)
	}

	adj.TemporalBoost = TemporalMultiplier(now)
	score = capScore(score * adj.TemporalBoost)

	if in.AgentID != "" && in.Message != "" {
		count := s.trackDuplicate(in.AgentID, primary, in.Message, now)
		adj.DeduplicationFactor = count
		if count > s.cfg.PersistenceThreshold {
			adj.PersistenceBoost = s.cfg.PersistenceBoost
			score = capScore(score + s.cfg.PersistenceBoost)
		}
	}

	if in.AgentID != "" && in.Hostname != "" {
		if hosts := s.correlate(in, primary, now); hosts >= s.cfg.CampaignHosts {
			adj.CampaignBoost = s.cfg.CampaignBoost
			score = capScore(score + s.cfg.CampaignBoost)
			indicators = append(indicators, fmt.Sprintf("Campaign detected: %d hosts", hosts))
		}
	}

	score = round3(score)
	return &models.ThreatAssessment{
		ID:                 uuid.NewString(),
		Timestamp:          now,
		AgentID:            in.AgentID,
		Hostname:           in.Hostname,
		IPAddress:          in.IPAddress,
		ThreatScore:        score,
		ThreatType:         primary,
		Severity:           s.Severity(score, primary),
		Indicators:         indicators,
		MatchedPatterns:    len(matches),
		ContextAdjustments: adj,
		AnalysisType:       AnalysisEnhanced,
		MatchedCategories:  categories,
	}
}

// collect gathers library, Sigma and container matches. It touches no scorer state.
func (s *Scorer) collect(in Input) []patterns.Match {
	matches := s.lib.MatchThreats(in.Message)

	if in.Record != nil {
		for _, tag := range s.rules.Apply(in.Record) {
			matches = append(matches, sigmaMatch(tag))
		}
	}

	container := s.lib.Container()
	if (in.Record != nil && in.Record.HasContainerContext()) ||
		(container.SourceMarker != "" && strings.Contains(strings.ToLower(in.Source), container.SourceMarker)) {
		matches = append(matches, patterns.Match{
			Category:   containerCategory,
			Pattern:    container.ThreatType,
			ThreatType: container.ThreatType,
			BaseScore:  container.BaseScore,
		})
	}
	return matches
}

func (s *Scorer) indicator(m patterns.Match) string {
	if m.Category == containerCategory {
		if label := s.lib.Container().Indicator; label != "" {
			return label
		}
	}
	return m.Indicator()
}

// trackDuplicate counts repeats of one detection inside the dedup window,
// measured from the first sighting.
func (s *Scorer) trackDuplicate(agentID, threatType, message string, now time.Time) int {
	key := dedupKey(agentID, threatType, message)
	if e, ok := s.dedup.Get(key); ok && now.Sub(e.first) < s.cfg.DedupWindow {
		e.count++
		return e.count
	}
	s.dedup.Add(key, &dedupEntry{first: now, count: 1})
	return 1
}

// correlate records a sighting and returns the distinct hostnames reporting
// the same threat type and address within the correlation window.
func (s *Scorer) correlate(in Input, threatType string, now time.Time) int {
	ip := in.IPAddress
	if ip == "" {
		ip = "unknown"
	}
	key := threatType + "_" + ip

	recent := s.campaigns[key][:0]
	for _, sg := range s.campaigns[key] {
		if now.Sub(sg.at) < s.cfg.CorrelationWindow {
			recent = append(recent, sg)
		}
	}
	recent = append(recent, sighting{agentID: in.AgentID, hostname: in.Hostname, at: now})
	s.campaigns[key] = recent

	hosts := make(map[string]struct{}, len(recent))
	for _, sg := range recent {
		hosts[sg.hostname] = struct{}{}
	}
	return len(hosts)
}

// Cleanup drops cache entries older than twice their window.
func (s *Scorer) Cleanup(now time.Time) (dedupRemoved, campaignRemoved int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.dedup.Keys() {
		if e, ok := s.dedup.Peek(key); ok && now.Sub(e.first) > 2*s.cfg.DedupWindow {
			s.dedup.Remove(key)
			dedupRemoved++
		}
	}

	for key, list := range s.campaigns {
		kept := list[:0]
		for _, sg := range list {
			if now.Sub(sg.at) < 2*s.cfg.CorrelationWindow {
				kept = append(kept, sg)
			}
		}
		if len(kept) == 0 {
			delete(s.campaigns, key)
			campaignRemoved++
			continue
		}
		s.campaigns[key] = kept
	}
	if dedupRemoved > 0 || campaignRemoved > 0 {
		log.Debugf("cleanup removed %d dedup entries and %d campaign keys", dedupRemoved, campaignRemoved)
	}
	return dedupRemoved, campaignRemoved
}

// CacheSizes reports the number of live dedup entries and campaign keys.
func (s *Scorer) CacheSizes() (dedup, campaigns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dedup.Len(), len(s.campaigns)
}

// Severity maps a score to a severity. Critical threat types scoring at
// least 0.6 are always critical.
func (s *Scorer) Severity(score float64, threatType string) string {
	if s.lib.IsCriticalType(threatType) && score >= 0.6 {
		return models.SeverityCritical
	}
	return SeverityForScore(score)
}

// SeverityForScore is the generic threshold table.
func SeverityForScore(score float64) string {
	switch {
	case score >= 0.85:
		return models.SeverityCritical
	case score >= 0.65:
		return models.SeverityHigh
	case score >= 0.45:
		return models.SeverityMedium
	case score >= 0.25:
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}

// TemporalMultiplier is 1.5 between 00:00 and 06:00, 1.3 outside
// Monday-Friday 08:00-18:00, and 1.0 otherwise.
func TemporalMultiplier(t time.Time) float64 {
	hour := t.Hour()
	if hour < 6 {
		return 1.5
	}
	weekday := t.Weekday()
	if hour < 8 || hour >= 18 || weekday == time.Saturday || weekday == time.Sunday {
		return 1.3
	}
	return 1.0
}

func dedupKey(agentID, threatType, message string) string {
	return fmt.Sprintf("%s_%s_%016x", agentID, threatType, xxhash.Sum64String(prefixRunes(message, 100)))
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func sigmaMatch(tag models.RuleTag) patterns.Match {
	threatType := "sigma_detection"
	if tag.Tactic != "" {
		threatType = "sigma_" + strings.ReplaceAll(tag.Tactic, "-", "_")
	}
	name := tag.Name
	if name == "" {
		name = tag.ID
	}
	return patterns.Match{
		Category:   sigmaCategory,
		Pattern:    name,
		ThreatType: threatType,
		BaseScore:  levelScore(tag.Severity),
	}
}

func levelScore(level string) float64 {
	switch strings.ToLower(level) {
	case "critical":
		return 0.9
	case "high":
		return 0.7
	case "medium":
		return 0.5
	case "low":
		return 0.3
	default:
		return 0.1
	}
}

func capScore(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
