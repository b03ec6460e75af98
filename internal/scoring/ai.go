package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socgraph/internal/llm"
	"socgraph/pkg/models"
)

// Analysis types reported by the AI scorer.
const (
	AnalysisAI       = "ai_powered_analysis"
	AnalysisFallback = "rule_based_fallback"
)

// LLM call outcomes passed to an LLMRecorder.
const (
	LLMResultOK      = "ok"
	LLMResultError   = "error"
	LLMResultInvalid = "invalid"
	LLMResultSkipped = "skipped"
)

const promptMessageLimit = 500

// LLMRecorder observes LLM call outcomes.
type LLMRecorder interface {
	RecordLLM(result string)
}

// AIOptions configures the AI scorer.
type AIOptions struct {
	Timeout  time.Duration
	Recorder LLMRecorder
}

// AIScorer runs the deterministic scorer as a pre-filter and asks a language
// model for a verdict on every non-benign event. Any model failure falls back
// to the deterministic result.
type AIScorer struct {
	base     *Scorer
	llm      llm.Completer
	timeout  time.Duration
	recorder LLMRecorder
}

// NewAIScorer wraps a deterministic scorer. A nil completer always falls back.
func NewAIScorer(base *Scorer, completer llm.Completer, opts AIOptions) *AIScorer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AIScorer{
		base:     base,
		llm:      completer,
		timeout:  timeout,
		recorder: opts.Recorder,
	}
}

// Score assesses one event.
func (a *AIScorer) Score(ctx context.Context, in Input) *models.ThreatAssessment {
	pre := a.base.Score(in)
	if pre.IsBenign() {
		return pre
	}
	if a.llm == nil {
		a.record(LLMResultSkipped)
		return fallback(pre)
	}

	prompt := BuildPrompt(in, pre, pre.Timestamp)
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	completion, err := a.llm.Complete(callCtx, prompt)
	if err != nil {
		log.Warnf("llm scoring failed, using rules: %v", err)
		a.record(LLMResultError)
		return fallback(pre)
	}
	verdict, err := llm.ParseVerdict(completion)
	if err != nil {
		log.Warnf("llm verdict rejected, using rules: %v", err)
		a.record(LLMResultInvalid)
		return fallback(pre)
	}
	a.record(LLMResultOK)
	return a.merge(pre, verdict)
}

func (a *AIScorer) record(result string) {
	if a.recorder != nil {
		a.recorder.RecordLLM(result)
	}
}

func (a *AIScorer) merge(pre *models.ThreatAssessment, v *llm.Verdict) *models.ThreatAssessment {
	out := *pre
	out.ThreatScore = round3(capScore(v.ThreatScore))
	out.ThreatType = v.ThreatType
	out.Severity = strings.ToLower(strings.TrimSpace(v.Severity))
	if !validSeverity(out.Severity) {
		out.Severity = a.base.Severity(out.ThreatScore, out.ThreatType)
	}
	if len(v.Indicators) > 0 {
		out.Indicators = append([]string(nil), v.Indicators...)
	}
	out.Confidence = round3(capScore(v.Confidence))
	out.Reasoning = v.Reasoning
	out.RecommendedAction = v.RecommendedAction
	out.FalsePositiveLikelihood = v.FalsePositiveLikelihood
	out.AssetRiskFactor = v.AssetRiskFactor
	out.TemporalRiskFactor = v.TemporalRiskFactor
	out.SophisticationLevel = v.SophisticationLevel
	out.AnalysisType = AnalysisAI
	return &out
}

func fallback(pre *models.ThreatAssessment) *models.ThreatAssessment {
	out := *pre
	out.AnalysisType = AnalysisFallback
	return &out
}

func validSeverity(s string) bool {
	switch s {
	case models.SeverityInfo, models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return true
	}
	return false
}

// BuildPrompt renders the analyst prompt for one pre-filtered event.
func BuildPrompt(in Input, pre *models.ThreatAssessment, now time.Time) string {
	hostname := in.Hostname
	if hostname == "" {
		hostname = "unknown"
	}
	ip := in.IPAddress
	if ip == "" {
		ip = "unknown"
	}
	timestamp, level := "unknown", "INFO"
	if in.Record != nil {
		if !in.Record.Timestamp.IsZero() {
			timestamp = in.Record.Timestamp.UTC().Format(time.RFC3339)
		}
		if in.Record.Level != "" {
			level = in.Record.Level
		}
	}

	var b strings.Builder
	b.WriteString("You are an expert cybersecurity analyst scoring a potential security threat.\n\n")
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "- Log Message: %s\n", prefixRunes(in.Message, promptMessageLimit))
	fmt.Fprintf(&b, "- Source: %s\n", in.Source)
	fmt.Fprintf(&b, "- Hostname: %s\n", hostname)
	fmt.Fprintf(&b, "- IP Address: %s\n", ip)
	fmt.Fprintf(&b, "- Timestamp: %s\n", timestamp)
	fmt.Fprintf(&b, "- Current Time: %s (%s, %d:00)\n", now.Format("2006-01-02 15:04:05"), now.Weekday(), now.Hour())
	fmt.Fprintf(&b, "- Log Level: %s\n\n", level)
	b.WriteString("PRELIMINARY ANALYSIS:\n")
	fmt.Fprintf(&b, "- Matched Categories: %s\n", strings.Join(pre.MatchedCategories, ", "))
	fmt.Fprintf(&b, "- Indicators Detected: %s\n", strings.Join(pre.Indicators, ", "))
	fmt.Fprintf(&b, "- Rule Score: %.3f (%s)\n\n", pre.ThreatScore, pre.ThreatType)
	b.WriteString(`SCORING INSTRUCTIONS:
Weigh asset criticality (domain controllers and database servers matter most), time of day,
attack sophistication, false positive likelihood and whether the event looks like part of a larger attack.
Score bands: 0.0-0.2 benign, 0.2-0.4 low, 0.4-0.6 medium, 0.6-0.8 high, 0.8-1.0 critical.

Respond with ONLY valid JSON:
{
  "threat_score": <float 0.0-1.0>,
  "severity": "<info|low|medium|high|critical>",
  "threat_type": "<specific threat type>",
  "confidence": <float 0.0-1.0>,
  "reasoning": "<brief explanation>",
  "indicators": ["<specific threat indicators>"],
  "recommended_action": "<what the analyst should do>",
  "false_positive_likelihood": "<low|medium|high>",
  "asset_risk_factor": <float 1.0-2.0>,
  "temporal_risk_factor": <float 1.0-1.5>,
  "sophistication_level": "<low|medium|high|advanced>"
}`)
	return b.String()
}
