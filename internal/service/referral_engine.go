package service

import (
	"strings"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const (
	defaultBaseUrgency = 3
	minUrgencyScore    = 1
	maxUrgencyScore    = 10
	referralConfidence = 0.6
	referralScore      = 7
)

var baseUrgencyByDisease = map[string]int{
	"retinal_detachment":               10,
	"acute_glaucoma":                   9,
	"diabetic_retinopathy_severe":      8,
	"central_retinal_artery_occlusion": 10,
	"optic_neuritis":                   7,
	"glaucoma":                         6,
	"diabetic_retinopathy":             5,
	"macular_degeneration":             4,
	"cataracts":                        2,
	"dry_eye":                          1,
	"conjunctivitis":                   2,
}

var textUrgencyBonus = map[domain.TextUrgency]int{
	domain.TextUrgencyEmergency: 3,
	domain.TextUrgencyUrgent:    2,
	domain.TextUrgencyModerate:  1,
	domain.TextUrgencyRoutine:   0,
}

var severityBonus = map[domain.Severity]int{
	domain.SeverityEmergency: 4,
	domain.SeveritySevere:    3,
	domain.SeverityModerate:  1,
	domain.SeverityMild:      0,
}

var seriousConditions = toSet(
	"retinal_detachment",
	"acute_glaucoma",
	"diabetic_retinopathy_severe",
	"central_retinal_artery_occlusion",
	"optic_neuritis",
)

var diseaseRecommendations = map[string][]string{
	"diabetic_retinopathy": {
		"Monitor blood sugar levels closely",
		"Follow up with your endocrinologist",
		"Schedule regular dilated eye exams",
	},
	"glaucoma": {
		"Regular eye pressure monitoring",
		"Follow prescribed eye drop regimen if diagnosed",
		"Inform family members about glaucoma risk",
	},
	"macular_degeneration": {
		"Use Amsler grid for daily vision monitoring",
		"Consider nutritional supplements (AREDS formula)",
		"Protect eyes from UV light",
	},
	"cataracts": {
		"Discuss surgical options with ophthalmologist",
		"Use proper lighting for reading and tasks",
		"Update eyeglass prescription regularly",
	},
	"dry_eye": {
		"Use preservative-free artificial tears",
		"Take frequent breaks from screen time",
		"Consider humidifier in dry environments",
	},
}

var lifestyleRecommendations = []string{
	"Maintain a healthy diet rich in omega-3 fatty acids and antioxidants",
	"Protect eyes from UV radiation with quality sunglasses",
	"Follow the 20-20-20 rule: every 20 minutes, look at something 20 feet away for 20 seconds",
}

// CanonicalDisease lower-cases a classifier label and joins words with
// underscores so table lookups accept either form.
func CanonicalDisease(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.NewReplacer(" ", "_", "-", "_").Replace(label)
	return label
}

// ScoreUrgency scores how soon a patient should be seen, from 1 to 10.
func ScoreUrgency(confidence float64, diseaseLabel string, text *domain.SymptomAnalysis) int {
	score, ok := baseUrgencyByDisease[CanonicalDisease(diseaseLabel)]
	if !ok {
		score = defaultBaseUrgency
	}

	switch {
	case confidence > 0.8:
		score += 2
	case confidence < 0.5:
		score--
	}

	if text != nil {
		score += textUrgencyBonus[text.Urgency]
		score += severityBonus[text.Severity]
	}

	if score < minUrgencyScore {
		return minUrgencyScore
	}
	if score > maxUrgencyScore {
		return maxUrgencyScore
	}
	return score
}

// NeedsReferral reports whether any clinical heuristic calls for a specialist.
func NeedsReferral(confidence float64, diseaseLabel string, urgencyScore int, text *domain.SymptomAnalysis) bool {
	if confidence < referralConfidence {
		return true
	}
	if urgencyScore >= referralScore {
		return true
	}
	if seriousConditions[CanonicalDisease(diseaseLabel)] {
		return true
	}
	if text != nil {
		if text.Urgency == domain.TextUrgencyEmergency {
			return true
		}
		if text.Severity == domain.SeveritySevere || text.Severity == domain.SeverityEmergency {
			return true
		}
	}
	return false
}

// GenerateRecommendations builds ordered advice: confidence tier, urgency
// tier, disease-specific items and general lifestyle advice.
func GenerateRecommendations(confidence float64, diseaseLabel string, urgencyScore int, text *domain.SymptomAnalysis) []string {
	recommendations := []string{}

	level := ConfidenceLevelFor(confidence)
	if level == domain.ConfidenceLow || level == domain.ConfidenceVeryLow {
		recommendations = append(recommendations,
			"Schedule a comprehensive eye examination with an eye care professional",
			"Consider retaking the photo with better lighting and focus",
		)
	}

	switch {
	case urgencyScore >= 8:
		recommendations = append(recommendations, "Seek immediate medical attention - visit emergency room or urgent care")
	case urgencyScore >= 6:
		recommendations = append(recommendations, "Schedule an urgent appointment with an ophthalmologist within 24-48 hours")
	case urgencyScore >= 4:
		recommendations = append(recommendations, "Schedule an appointment with an eye care professional within 1-2 weeks")
	}

	if specific, ok := diseaseRecommendations[CanonicalDisease(diseaseLabel)]; ok {
		recommendations = append(recommendations, specific...)
	}

	if text == nil || text.Severity != domain.SeverityEmergency {
		recommendations = append(recommendations, lifestyleRecommendations...)
	}

	return recommendations
}

// RecommendSpecialist picks the specialist best suited to a classifier label.
func RecommendSpecialist(diseaseLabel string) domain.Specialist {
	label := strings.ToLower(diseaseLabel)
	switch {
	case strings.Contains(label, "glaucoma"):
		return domain.SpecialistGlaucomaSpecialist
	case strings.Contains(label, "retinopathy"), strings.Contains(label, "retinal"):
		return domain.SpecialistRetinalSpecialist
	default:
		return domain.SpecialistOphthalmologist
	}
}

// RoutingUrgencyFor maps a 1-10 urgency score onto referral urgency.
func RoutingUrgencyFor(urgencyScore int) domain.RoutingUrgency {
	switch {
	case urgencyScore >= 8:
		return domain.RoutingEmergency
	case urgencyScore >= 6:
		return domain.RoutingUrgent
	default:
		return domain.RoutingRoutine
	}
}

// DeriveUrgencyLevel maps a classifier label and confidence onto the
// record-level urgency enum.
func DeriveUrgencyLevel(diseaseLabel string, confidence float64) domain.UrgencyLevel {
	switch {
	case strings.EqualFold(strings.TrimSpace(diseaseLabel), "normal"):
		return domain.UrgencyLow
	case confidence >= 0.95:
		return domain.UrgencyEmergency
	case confidence >= 0.85:
		return domain.UrgencyHigh
	default:
		return domain.UrgencyModerate
	}
}
