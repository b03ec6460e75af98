package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Verdict is the structured answer expected from the model.
type Verdict struct {
	ThreatScore             float64  `json:"threat_score"`
	Severity                string   `json:"severity"`
	ThreatType              string   `json:"threat_type"`
	Confidence              float64  `json:"confidence"`
	Reasoning               string   `json:"reasoning"`
	Indicators              []string `json:"indicators"`
	RecommendedAction       string   `json:"recommended_action"`
	FalsePositiveLikelihood string   `json:"false_positive_likelihood"`
	AssetRiskFactor         float64  `json:"asset_risk_factor"`
	TemporalRiskFactor      float64  `json:"temporal_risk_factor"`
	SophisticationLevel     string   `json:"sophistication_level"`
}

const verdictSchema = `{
  "type": "object",
  "required": [
    "threat_score", "severity", "threat_type", "confidence", "reasoning", "indicators",
    "recommended_action", "false_positive_likelihood", "asset_risk_factor",
    "temporal_risk_factor", "sophistication_level"
  ],
  "properties": {
    "threat_score": {"type": "number"},
    "severity": {"type": "string"},
    "threat_type": {"type": "string", "minLength": 1},
    "confidence": {"type": "number"},
    "reasoning": {"type": "string"},
    "indicators": {"type": "array", "items": {"type": "string"}},
    "recommended_action": {"type": "string"},
    "false_positive_likelihood": {"type": "string"},
    "asset_risk_factor": {"type": "number"},
    "temporal_risk_factor": {"type": "number"},
    "sophistication_level": {"type": "string"}
  }
}`

var (
	compiledVerdict *gojsonschema.Schema
	fencePattern    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(verdictSchema))
	if err != nil {
		panic(fmt.Sprintf("llm: compile verdict schema: %v", err))
	}
	compiledVerdict = schema
}

// ExtractJSON strips markdown fences and surrounding prose from a completion.
func ExtractJSON(completion string) (string, error) {
	text := strings.TrimSpace(completion)
	if m := fencePattern.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first == -1 || last <= first {
		return "", fmt.Errorf("no JSON object in completion")
	}
	return text[first : last+1], nil
}

// ParseVerdict extracts, validates and decodes a completion.
func ParseVerdict(completion string) (*Verdict, error) {
	raw, err := ExtractJSON(completion)
	if err != nil {
		return nil, err
	}
	if err := Validate([]byte(raw)); err != nil {
		return nil, err
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}
	return &v, nil
}

// Validate checks a verdict document against the response schema.
func Validate(doc []byte) error {
	result, err := compiledVerdict.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("verdict validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid verdict: %s", strings.Join(msgs, "; "))
	}
	return nil
}
