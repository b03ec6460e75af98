package pipeline

import "socgraph/pkg/models"

// AssessmentWriter writes threat assessment outputs.
type AssessmentWriter interface {
	WriteAssessments(assessments []*models.ThreatAssessment) error
	Close() error
}
