package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

func textAnalysis(severity domain.Severity, urgency domain.TextUrgency) *domain.SymptomAnalysis {
	analysis := domain.NewEmptySymptomAnalysis()
	analysis.Severity = severity
	analysis.Urgency = urgency
	return analysis
}

func TestCanonicalDisease(t *testing.T) {
	assert.Equal(t, "diabetic_retinopathy", CanonicalDisease("Diabetic Retinopathy"))
	assert.Equal(t, "dry_eye", CanonicalDisease(" dry-eye "))
	assert.Equal(t, "glaucoma", CanonicalDisease("glaucoma"))
}

func TestScoreUrgency(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		label      string
		text       *domain.SymptomAnalysis
		want       int
	}{
		{"unknown label mid confidence", 0.6, "keratitis", nil, 3},
		{"glaucoma high confidence moderate text", 0.9, "glaucoma", textAnalysis(domain.SeverityModerate, domain.TextUrgencyModerate), 10},
		{"dry eye low confidence clamps at 1", 0.4, "dry_eye", nil, 1},
		{"detachment clamps at 10", 0.99, "Retinal Detachment", textAnalysis(domain.SeverityEmergency, domain.TextUrgencyEmergency), 10},
		{"cataracts routine text", 0.7, "cataracts", textAnalysis(domain.SeverityMild, domain.TextUrgencyRoutine), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreUrgency(tt.confidence, tt.label, tt.text))
		})
	}
}

func TestScoreUrgency_Bounds(t *testing.T) {
	labels := []string{"retinal_detachment", "dry_eye", "normal", ""}
	severities := []domain.Severity{domain.SeverityUnknown, domain.SeverityMild, domain.SeverityEmergency}
	urgencies := []domain.TextUrgency{domain.TextUrgencyRoutine, domain.TextUrgencyEmergency}

	for _, label := range labels {
		for _, sev := range severities {
			for _, urg := range urgencies {
				for _, conf := range []float64{0, 0.5, 0.81, 1} {
					score := ScoreUrgency(conf, label, textAnalysis(sev, urg))
					assert.GreaterOrEqual(t, score, 1)
					assert.LessOrEqual(t, score, 10)
				}
			}
		}
	}
}

func TestNeedsReferral(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		label      string
		score      int
		text       *domain.SymptomAnalysis
		want       bool
	}{
		{"low confidence", 0.55, "cataracts", 2, nil, true},
		{"high urgency score", 0.9, "cataracts", 7, nil, true},
		{"serious condition", 0.9, "optic neuritis", 3, nil, true},
		{"emergency text", 0.9, "cataracts", 3, textAnalysis(domain.SeverityMild, domain.TextUrgencyEmergency), true},
		{"severe text", 0.9, "cataracts", 3, textAnalysis(domain.SeveritySevere, domain.TextUrgencyUrgent), true},
		{"nothing alarming", 0.9, "cataracts", 4, textAnalysis(domain.SeverityMild, domain.TextUrgencyRoutine), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsReferral(tt.confidence, tt.label, tt.score, tt.text))
		})
	}
}

func TestGenerateRecommendations(t *testing.T) {
	t.Run("low confidence urgent glaucoma", func(t *testing.T) {
		recs := GenerateRecommendations(0.55, "glaucoma", 6, nil)

		assert.Equal(t, "Schedule a comprehensive eye examination with an eye care professional", recs[0])
		assert.Contains(t, recs, "Schedule an urgent appointment with an ophthalmologist within 24-48 hours")
		assert.Contains(t, recs, "Regular eye pressure monitoring")
		assert.Contains(t, recs, lifestyleRecommendations[0])
	})

	t.Run("emergency severity drops lifestyle advice", func(t *testing.T) {
		recs := GenerateRecommendations(0.95, "retinal_detachment", 10, textAnalysis(domain.SeverityEmergency, domain.TextUrgencyEmergency))

		assert.Equal(t, []string{"Seek immediate medical attention - visit emergency room or urgent care"}, recs)
	})

	t.Run("confident routine case", func(t *testing.T) {
		recs := GenerateRecommendations(0.92, "normal", 2, nil)

		assert.Equal(t, lifestyleRecommendations, recs)
	})
}

func TestRecommendSpecialist(t *testing.T) {
	assert.Equal(t, domain.SpecialistGlaucomaSpecialist, RecommendSpecialist("Acute Glaucoma"))
	assert.Equal(t, domain.SpecialistRetinalSpecialist, RecommendSpecialist("diabetic_retinopathy"))
	assert.Equal(t, domain.SpecialistRetinalSpecialist, RecommendSpecialist("retinal_detachment"))
	assert.Equal(t, domain.SpecialistOphthalmologist, RecommendSpecialist("cataracts"))
}

func TestRoutingUrgencyFor(t *testing.T) {
	assert.Equal(t, domain.RoutingEmergency, RoutingUrgencyFor(8))
	assert.Equal(t, domain.RoutingUrgent, RoutingUrgencyFor(6))
	assert.Equal(t, domain.RoutingRoutine, RoutingUrgencyFor(5))
}

func TestDeriveUrgencyLevel(t *testing.T) {
	tests := []struct {
		label      string
		confidence float64
		want       domain.UrgencyLevel
	}{
		{"Normal", 0.99, domain.UrgencyLow},
		{"normal", 0.1, domain.UrgencyLow},
		{"glaucoma", 0.96, domain.UrgencyEmergency},
		{"glaucoma", 0.95, domain.UrgencyEmergency},
		{"cataracts", 0.85, domain.UrgencyHigh},
		{"cataracts", 0.80, domain.UrgencyModerate},
		{"cataracts", 0, domain.UrgencyModerate},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveUrgencyLevel(tt.label, tt.confidence), "%s at %v", tt.label, tt.confidence)
	}
}
