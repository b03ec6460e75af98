package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"socgraph/pkg/models"
)

var techniqueTagRegex = regexp.MustCompile(`^attack\.t\d{4}(?:\.\d{3})?$`)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles        int
	Loaded            int
	SkippedComplex    int
	SkippedDatasource int
	SkippedInvalid    int
}

type compiledSigmaRule struct {
	rule  sigma.Rule
	eval  *sigmaevaluator.RuleEvaluator
	label models.RuleTag
}

// SigmaOptions restricts which rules are loaded.
type SigmaOptions struct {
	// Products lists accepted logsource products. Empty accepts windows and linux.
	Products []string
}

// SigmaEngine evaluates Sigma rules against individual log records.
type SigmaEngine struct {
	rules []compiledSigmaRule
	ctx   context.Context
}

// NewSigmaEngine loads Sigma rules from a file or directory and compiles evaluators.
// Unsupported or complex rules are skipped and included in stats.
func NewSigmaEngine(path string, opts SigmaOptions) (*SigmaEngine, SigmaLoadStats, error) {
	var stats SigmaLoadStats
	products := make(map[string]bool)
	for _, p := range opts.Products {
		products[strings.ToLower(strings.TrimSpace(p))] = true
	}
	if len(products) == 0 {
		products["windows"] = true
		products["linux"] = true
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	files := make([]string, 0, 256)
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				return nil
			}
			if isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		rule, err := parseSigmaRuleFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}

		if !isProductCompatible(rule, products) {
			stats.SkippedDatasource++
			continue
		}

		if ok, _ := isSimpleSingleEventRule(rule); !ok {
			stats.SkippedComplex++
			continue
		}

		compiled = append(compiled, compiledSigmaRule{
			rule:  rule,
			eval:  sigmaevaluator.ForRule(rule),
			label: tagFromRule(rule),
		})
		stats.Loaded++
	}

	return &SigmaEngine{rules: compiled, ctx: context.Background()}, stats, nil
}

// Len reports the number of loaded rules.
func (e *SigmaEngine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Apply evaluates all loaded Sigma rules and returns tags for matched rules.
func (e *SigmaEngine) Apply(rec *models.LogRecord) []models.RuleTag {
	if e == nil || rec == nil || len(e.rules) == 0 {
		return nil
	}

	eventMap := sigmaEventFrom(rec)
	out := make([]models.RuleTag, 0, 4)
	for _, rule := range e.rules {
		res, err := rule.eval.Matches(e.ctx, eventMap)
		if err != nil {
			continue
		}
		if res.Match {
			out = append(out, rule.label)
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func parseSigmaRuleFile(path string) (sigma.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("parse sigma rule %s: %w", path, err)
	}
	return rule, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isProductCompatible(rule sigma.Rule, products map[string]bool) bool {
	product := strings.ToLower(strings.TrimSpace(rule.Logsource.Product))
	return product == "" || products[product]
}

func isSimpleSingleEventRule(rule sigma.Rule) (bool, string) {
	if rule.Detection.Timeframe > 0 {
		return false, "timeframe is not supported"
	}

	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false, "aggregation condition is not supported"
		}
		if !isSimpleSearchExpression(cond.Search) {
			return false, "complex condition expression is not supported"
		}
	}

	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false, "keyword search is not supported"
		}
		if len(search.EventMatchers) == 0 {
			return false, "search has no event matchers"
		}
	}

	return true, ""
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

// sigmaEventFrom flattens a record into one field map. Structured sections
// are merged in the order parsed, process, network so network keys win, then
// the Sysmon-style aliases most rules are written against are filled in.
func sigmaEventFrom(rec *models.LogRecord) map[string]interface{} {
	buf := make(map[string]interface{}, len(rec.ParsedData)+len(rec.ProcessInfo)+len(rec.NetworkInfo)+16)
	for _, section := range []map[string]interface{}{rec.ParsedData, rec.ProcessInfo, rec.NetworkInfo} {
		for k, v := range section {
			buf[k] = v
		}
	}
	buf["message"] = rec.Message
	buf["Message"] = rec.Message
	buf["source"] = rec.Source
	if rec.AgentID != "" {
		buf["AgentID"] = rec.AgentID
	}
	if rec.EventType != "" {
		buf["event_type"] = rec.EventType
	}
	if rec.Level != "" {
		buf["level"] = rec.Level
	}
	if rec.RawData != "" {
		buf["raw_data"] = rec.RawData
	}

	aliases := []struct {
		field string
		from  func() string
	}{
		{"CommandLine", func() string { return firstOf(rec.ProcessInfo, "command_line", "cmdline") }},
		{"Image", func() string { return firstOf(rec.ProcessInfo, "image", "exe", "name") }},
		{"ParentImage", func() string { return firstOf(rec.ProcessInfo, "parent_image", "parent_name") }},
		{"User", func() string { return firstOf(rec.ParsedData, "user", "username", "target_user") }},
		{"Computer", func() string { return firstOf(rec.ParsedData, "hostname", "computer", "computer_name") }},
		{"SourceIp", func() string { return rec.Network("source_ip") }},
		{"DestinationIp", func() string { return rec.Network("destination_ip") }},
		{"DestinationPort", func() string { return rec.Network("destination_port") }},
	}
	for _, a := range aliases {
		if _, exists := buf[a.field]; exists {
			continue
		}
		if v := a.from(); v != "" {
			buf[a.field] = v
		}
	}
	if host, ok := buf["Computer"]; ok {
		buf["Hostname"] = host
	}
	return buf
}

func firstOf(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func tagFromRule(rule sigma.Rule) models.RuleTag {
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = strings.TrimSpace(rule.Title)
	}

	level := strings.ToLower(strings.TrimSpace(rule.Level))
	if level == "" {
		level = "medium"
	}

	tactic, technique := parseAttackTags(rule.Tags)
	return models.RuleTag{
		ID:        id,
		Name:      strings.TrimSpace(rule.Title),
		Severity:  level,
		Tactic:    tactic,
		Technique: technique,
	}
}

func parseAttackTags(tags []string) (string, string) {
	var tactic string
	var technique string

	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if !strings.HasPrefix(tag, "attack.") {
			continue
		}
		suffix := strings.TrimPrefix(tag, "attack.")
		if technique == "" && techniqueTagRegex.MatchString(tag) {
			technique = strings.ToUpper(strings.ReplaceAll(suffix, ".", "/"))
			continue
		}
		if tactic == "" && !strings.HasPrefix(suffix, "t") {
			tactic = strings.ReplaceAll(suffix, "_", "-")
		}
	}

	return tactic, technique
}
