package rules

import "socgraph/pkg/models"

// Engine applies detection rules to log records.
type Engine interface {
	Apply(rec *models.LogRecord) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(rec *models.LogRecord) []models.RuleTag {
	return nil
}
