package models

import "time"

// Severity levels, lowest first.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// ThreatTypeBenign is assigned to events that matched no pattern.
const ThreatTypeBenign = "benign"

// ThreatAssessment is the scorer output for a single event. It is not persisted by the scorer.
type ThreatAssessment struct {
	ID                 string              `json:"id"`
	Timestamp          time.Time           `json:"ts"`
	AgentID            string              `json:"agent_id,omitempty"`
	Hostname           string              `json:"host,omitempty"`
	IPAddress          string              `json:"ip_address,omitempty"`
	ThreatScore        float64             `json:"threat_score"`
	ThreatType         string              `json:"threat_type"`
	Severity           string              `json:"severity"`
	Indicators         []string            `json:"indicators"`
	MatchedPatterns    int                 `json:"matched_patterns"`
	ContextAdjustments *ContextAdjustments `json:"context_adjustments,omitempty"`
	AnalysisType       string              `json:"analysis_type"`

	// Populated by the AI-assisted scorer only.
	Confidence              float64  `json:"confidence,omitempty"`
	Reasoning               string   `json:"reasoning,omitempty"`
	RecommendedAction       string   `json:"recommended_action,omitempty"`
	FalsePositiveLikelihood string   `json:"false_positive_likelihood,omitempty"`
	AssetRiskFactor         float64  `json:"asset_risk_factor,omitempty"`
	TemporalRiskFactor      float64  `json:"temporal_risk_factor,omitempty"`
	SophisticationLevel     string   `json:"sophistication_level,omitempty"`
	MatchedCategories       []string `json:"matched_categories,omitempty"`
}

// ContextAdjustments records every factor applied on top of the weighted-maximum base score.
type ContextAdjustments struct {
	CorrelationBoost    float64 `json:"correlation_boost"`
	AssetMultiplier     float64 `json:"asset_multiplier"`
	TemporalBoost       float64 `json:"temporal_boost"`
	DeduplicationFactor int     `json:"deduplication_factor"`
	PersistenceBoost    float64 `json:"persistence_boost"`
	CampaignBoost       float64 `json:"campaign_boost"`
}

// IsBenign reports whether the assessment is the zero-match fast path result.
func (a *ThreatAssessment) IsBenign() bool {
	return a == nil || a.ThreatType == ThreatTypeBenign
}

// SeverityRank orders severities from info (0) to critical (4). Unknown values rank -1.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return -1
}
