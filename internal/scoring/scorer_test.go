package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socgraph/internal/patterns"
	"socgraph/pkg/models"
)

// Wednesday, inside business hours.
var businessHours = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	cur := c.t
	c.t = c.t.Add(c.step)
	return cur
}

type tagEngine struct {
	tags []models.RuleTag
}

func (e *tagEngine) Apply(rec *models.LogRecord) []models.RuleTag {
	return e.tags
}

func newTestScorer(t *testing.T, at time.Time) *Scorer {
	t.Helper()
	s, err := NewScorer(patterns.Default(), nil, Config{})
	require.NoError(t, err)
	s.SetClock(func() time.Time { return at })
	return s
}

func TestBenignEventScoresZero(t *testing.T) {
	s := newTestScorer(t, time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC))

	a := s.Score(Input{Message: "service started normally", AgentID: "a1", Hostname: "dc01"})

	assert.Equal(t, 0.0, a.ThreatScore)
	assert.Equal(t, models.SeverityInfo, a.Severity)
	assert.Equal(t, models.ThreatTypeBenign, a.ThreatType)
	assert.Equal(t, AnalysisSignature, a.AnalysisType)
	assert.Empty(t, a.Indicators)
	assert.Nil(t, a.ContextAdjustments)
	assert.True(t, a.IsBenign())
	assert.NotEmpty(t, a.ID)
}

func TestCriticalTypeFloorAppliesAtPointSix(t *testing.T) {
	s := newTestScorer(t, businessHours)

	a := s.Score(Input{Message: "backdoor installed", AgentID: "a1", Hostname: "test-box"})

	assert.Equal(t, "active_attack", a.ThreatType)
	assert.InDelta(t, 0.64, a.ThreatScore, 1e-9)
	assert.Equal(t, models.SeverityCritical, a.Severity)
	require.NotNil(t, a.ContextAdjustments)
	assert.Equal(t, 0.8, a.ContextAdjustments.AssetMultiplier)
	assert.Equal(t, 1.0, a.ContextAdjustments.TemporalBoost)
	assert.Equal(t, AnalysisEnhanced, a.AnalysisType)
}

func TestCorrelationBoostAddsTenthPerExtraMatch(t *testing.T) {
	s := newTestScorer(t, businessHours)

	// nmap (0.7), whoami (0.4) and netstat (0.4): 0.7 + 2*0.07.
	a := s.Score(Input{Message: "nmap then whoami then netstat"})

	assert.Equal(t, "attack_tool_usage", a.ThreatType)
	assert.Equal(t, 3, a.MatchedPatterns)
	assert.InDelta(t, 0.84, a.ThreatScore, 1e-9)
	assert.InDelta(t, 0.14, a.ContextAdjustments.CorrelationBoost, 1e-9)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, []string{"attack_tools", "suspicious_commands"}, a.MatchedCategories)
	assert.Contains(t, a.Indicators, "attack_tools: nmap")
}

func TestPrimaryTypeIsFirstMaximum(t *testing.T) {
	s := newTestScorer(t, businessHours)

	// brute force appears in network_attacks (0.6) before auth_failures (0.5).
	a := s.Score(Input{Message: "brute force"})
	assert.Equal(t, "network_attack", a.ThreatType)
}

func TestTemporalMultiplier(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"night", time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC), 1.5},
		{"weekend night", time.Date(2026, 3, 7, 5, 59, 0, 0, time.UTC), 1.5},
		{"early morning", time.Date(2026, 3, 4, 7, 0, 0, 0, time.UTC), 1.3},
		{"evening", time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC), 1.3},
		{"weekend day", time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC), 1.3},
		{"business", time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC), 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TemporalMultiplier(tc.at))
		})
	}
}

func TestAssetAndTimeMultipliersAreCapped(t *testing.T) {
	s := newTestScorer(t, time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC))

	a := s.Score(Input{Message: "ransomware malware trojan", AgentID: "a1", Hostname: "dc01"})

	assert.Equal(t, 1.0, a.ThreatScore)
	assert.Equal(t, 2.0, a.ContextAdjustments.AssetMultiplier)
	assert.Equal(t, 1.5, a.ContextAdjustments.TemporalBoost)
	assert.Equal(t, models.SeverityCritical, a.Severity)
}

func TestPersistenceBoostAfterTenRepeats(t *testing.T) {
	s := newTestScorer(t, businessHours)
	clock := &stepClock{t: businessHours, step: time.Minute}
	s.SetClock(clock.now)

	in := Input{Message: "nmap scan", AgentID: "agent-7", Hostname: "laptop-1"}
	var a *models.ThreatAssessment
	for i := 0; i < 10; i++ {
		a = s.Score(in)
		assert.InDelta(t, 0.7, a.ThreatScore, 1e-9, "call %d", i+1)
	}
	assert.Equal(t, 10, a.ContextAdjustments.DeduplicationFactor)

	a = s.Score(in)
	assert.InDelta(t, 0.8, a.ThreatScore, 1e-9)
	assert.Equal(t, 11, a.ContextAdjustments.DeduplicationFactor)
	assert.Equal(t, 0.1, a.ContextAdjustments.PersistenceBoost)

	// The window is measured from the first sighting.
	clock.t = businessHours.Add(61 * time.Minute)
	a = s.Score(in)
	assert.InDelta(t, 0.7, a.ThreatScore, 1e-9)
	assert.Equal(t, 1, a.ContextAdjustments.DeduplicationFactor)
}

func TestDedupKeyUsesMessagePrefix(t *testing.T) {
	prefix := "nmap " + strings.Repeat("é", 95)
	assert.Equal(t,
		dedupKey("a", "t", prefix+" tail one"),
		dedupKey("a", "t", prefix+" tail two"))
	assert.NotEqual(t, dedupKey("a", "t", "one"), dedupKey("a", "t", "two"))
	assert.NotEqual(t, dedupKey("a", "t", "one"), dedupKey("b", "t", "one"))
	assert.Equal(t, "héllo", prefixRunes("héllo world", 5))
}

func TestCampaignAcrossThreeHosts(t *testing.T) {
	s := newTestScorer(t, businessHours)
	clock := &stepClock{t: businessHours, step: time.Minute}
	s.SetClock(clock.now)

	first := s.Score(Input{Message: "mimikatz", AgentID: "a1", Hostname: "alpha", IPAddress: "10.0.0.9"})
	second := s.Score(Input{Message: "mimikatz", AgentID: "a2", Hostname: "bravo", IPAddress: "10.0.0.9"})
	assert.Zero(t, first.ContextAdjustments.CampaignBoost)
	assert.Zero(t, second.ContextAdjustments.CampaignBoost)
	assert.InDelta(t, 0.7, second.ThreatScore, 1e-9)

	third := s.Score(Input{Message: "mimikatz", AgentID: "a3", Hostname: "charlie", IPAddress: "10.0.0.9"})
	assert.Equal(t, 0.3, third.ContextAdjustments.CampaignBoost)
	assert.Equal(t, 1.0, third.ThreatScore)
	assert.Contains(t, third.Indicators, "Campaign detected: 3 hosts")
}

func TestCampaignIgnoresRepeatHostAndOtherAddress(t *testing.T) {
	s := newTestScorer(t, businessHours)

	s.Score(Input{Message: "mimikatz", AgentID: "a1", Hostname: "alpha", IPAddress: "10.0.0.9"})
	s.Score(Input{Message: "mimikatz", AgentID: "a1", Hostname: "alpha", IPAddress: "10.0.0.9"})
	s.Score(Input{Message: "mimikatz", AgentID: "a2", Hostname: "bravo", IPAddress: "10.0.0.10"})
	a := s.Score(Input{Message: "mimikatz", AgentID: "a2", Hostname: "bravo", IPAddress: "10.0.0.9"})

	assert.Zero(t, a.ContextAdjustments.CampaignBoost)
}

func TestCampaignWindowExpires(t *testing.T) {
	s := newTestScorer(t, businessHours)
	clock := &stepClock{t: businessHours, step: 20 * time.Minute}
	s.SetClock(clock.now)

	s.Score(Input{Message: "mimikatz", AgentID: "a1", Hostname: "alpha"})
	s.Score(Input{Message: "mimikatz", AgentID: "a2", Hostname: "bravo"})
	// alpha is 40 minutes old by now.
	a := s.Score(Input{Message: "mimikatz", AgentID: "a3", Hostname: "charlie"})

	assert.Zero(t, a.ContextAdjustments.CampaignBoost)
}

func TestContainerContextAddsMatch(t *testing.T) {
	s := newTestScorer(t, businessHours)

	a := s.Score(Input{Message: "whoami", Source: "AttackContainer-01"})

	assert.Equal(t, 2, a.MatchedPatterns)
	assert.Equal(t, "container_attack", a.ThreatType)
	assert.Contains(t, a.Indicators, "Container attack context")
	assert.InDelta(t, 0.55, a.ThreatScore, 1e-9)
}

func TestSigmaTagsBecomeMatches(t *testing.T) {
	engine := &tagEngine{tags: []models.RuleTag{
		{ID: "r1", Name: "Mimikatz Use", Severity: "critical", Tactic: "credential-access"},
	}}
	s, err := NewScorer(patterns.Default(), engine, Config{})
	require.NoError(t, err)
	s.SetClock(func() time.Time { return businessHours })

	a := s.Score(Input{Message: "process created", Record: &models.LogRecord{Message: "process created"}})

	assert.Equal(t, "sigma_credential_access", a.ThreatType)
	assert.InDelta(t, 0.9, a.ThreatScore, 1e-9)
	assert.Equal(t, []string{"sigma: Mimikatz Use"}, a.Indicators)

	// Without a record the engine is not consulted.
	b := s.Score(Input{Message: "process created"})
	assert.True(t, b.IsBenign())
}

func TestSigmaMatchDefaults(t *testing.T) {
	m := sigmaMatch(models.RuleTag{ID: "only-id"})
	assert.Equal(t, "sigma_detection", m.ThreatType)
	assert.Equal(t, "only-id", m.Pattern)
	assert.Equal(t, 0.1, m.BaseScore)
	assert.Equal(t, 0.7, levelScore("HIGH"))
}

func TestSeverityThresholdsAreInclusive(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, SeverityForScore(0.85))
	assert.Equal(t, models.SeverityHigh, SeverityForScore(0.65))
	assert.Equal(t, models.SeverityMedium, SeverityForScore(0.45))
	assert.Equal(t, models.SeverityLow, SeverityForScore(0.25))
	assert.Equal(t, models.SeverityInfo, SeverityForScore(0.2499))

	s := newTestScorer(t, businessHours)
	assert.Equal(t, models.SeverityCritical, s.Severity(0.6, "system_compromise"))
	assert.Equal(t, models.SeverityMedium, s.Severity(0.59, "system_compromise"))
	assert.Equal(t, models.SeverityMedium, s.Severity(0.6, "network_attack"))
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	s := newTestScorer(t, time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC))
	msg := "malware ransomware backdoor rootkit nmap mimikatz reverse shell exfiltration brute force"
	for i := 0; i < 30; i++ {
		a := s.Score(Input{Message: msg, Source: "attackcontainer", AgentID: "a", Hostname: "dc-sql-file"})
		assert.GreaterOrEqual(t, a.ThreatScore, 0.0)
		assert.LessOrEqual(t, a.ThreatScore, 1.0)
	}
}

func TestCleanupDropsStaleEntries(t *testing.T) {
	s := newTestScorer(t, businessHours)
	s.Score(Input{Message: "nmap", AgentID: "a1", Hostname: "alpha"})

	dedup, campaigns := s.CacheSizes()
	assert.Equal(t, 1, dedup)
	assert.Equal(t, 1, campaigns)

	d, c := s.Cleanup(businessHours.Add(30 * time.Minute))
	assert.Zero(t, d)
	assert.Zero(t, c)

	d, c = s.Cleanup(businessHours.Add(3 * time.Hour))
	assert.Equal(t, 1, d)
	assert.Equal(t, 1, c)
	dedup, campaigns = s.CacheSizes()
	assert.Zero(t, dedup)
	assert.Zero(t, campaigns)
}

func TestInputFromRecord(t *testing.T) {
	rec := &models.LogRecord{
		AgentID:     "007",
		Message:     "hello",
		Source:      "syslog",
		ParsedData:  map[string]interface{}{"hostname": "web01"},
		NetworkInfo: map[string]interface{}{"source_ip": "10.0.0.5", "destination_ip": "10.0.0.9", "direction": "inbound"},
	}
	in := InputFromRecord(rec)
	assert.Equal(t, "web01", in.Hostname)
	assert.Equal(t, "10.0.0.9", in.IPAddress)
	assert.Same(t, rec, in.Record)
	assert.Equal(t, Input{}, InputFromRecord(nil))
}
