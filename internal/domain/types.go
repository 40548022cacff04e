// Package domain contains the core entities of the eye-care diagnosis pipeline:
// symptom text analyses, image classifier results and the combined diagnosis record
// persisted for each patient submission.
package domain

import (
	"strings"
)

// EyeCondition identifies one of the conditions the symptom analyzer can detect
// from free text.
type EyeCondition string

const (
	ConditionDiabeticRetinopathy EyeCondition = "diabetic_retinopathy"
	ConditionGlaucoma            EyeCondition = "glaucoma"
	ConditionMacularDegeneration EyeCondition = "macular_degeneration"
	ConditionCataracts           EyeCondition = "cataracts"
	ConditionConjunctivitis      EyeCondition = "conjunctivitis"
	ConditionDryEye              EyeCondition = "dry_eye"
)

// Severity is the qualitative severity extracted from symptom text.
type Severity string

const (
	SeverityUnknown   Severity = "unknown"
	SeverityMild      Severity = "mild"
	SeverityModerate  Severity = "moderate"
	SeveritySevere    Severity = "severe"
	SeverityEmergency Severity = "emergency"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityUnknown, SeverityMild, SeverityModerate, SeveritySevere, SeverityEmergency:
		return true
	default:
		return false
	}
}

// Score maps the severity onto a 0-4 ordinal feature.
func (s Severity) Score() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	case SeverityEmergency:
		return 4
	default:
		return 0
	}
}

// Duration is the onset pattern extracted from symptom text.
type Duration string

const (
	DurationUnknown  Duration = "unknown"
	DurationAcute    Duration = "acute"
	DurationSubacute Duration = "subacute"
	DurationChronic  Duration = "chronic"
)

// IsValid reports whether d is a known duration.
func (d Duration) IsValid() bool {
	switch d {
	case DurationUnknown, DurationAcute, DurationSubacute, DurationChronic:
		return true
	default:
		return false
	}
}

// Score maps the duration onto a 0-3 ordinal feature.
func (d Duration) Score() int {
	switch d {
	case DurationAcute:
		return 1
	case DurationSubacute:
		return 2
	case DurationChronic:
		return 3
	default:
		return 0
	}
}

// TextUrgency is the urgency derived from symptom text alone.
type TextUrgency string

const (
	TextUrgencyRoutine   TextUrgency = "routine"
	TextUrgencyModerate  TextUrgency = "moderate"
	TextUrgencyUrgent    TextUrgency = "urgent"
	TextUrgencyEmergency TextUrgency = "emergency"
)

// IsValid reports whether u is a known text urgency.
func (u TextUrgency) IsValid() bool {
	switch u {
	case TextUrgencyRoutine, TextUrgencyModerate, TextUrgencyUrgent, TextUrgencyEmergency:
		return true
	default:
		return false
	}
}

// Score maps the urgency onto a 1-4 ordinal feature.
func (u TextUrgency) Score() int {
	switch u {
	case TextUrgencyModerate:
		return 2
	case TextUrgencyUrgent:
		return 3
	case TextUrgencyEmergency:
		return 4
	default:
		return 1
	}
}

// ConfidenceLevel is the banded form of a blended confidence value.
type ConfidenceLevel string

const (
	ConfidenceVeryLow  ConfidenceLevel = "very_low"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceModerate ConfidenceLevel = "moderate"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
)

// UrgencyLevel is the record-level urgency stored on the combined result.
// It is a separate scale from the 1-10 urgency score.
type UrgencyLevel string

const (
	UrgencyLow       UrgencyLevel = "low"
	UrgencyModerate  UrgencyLevel = "moderate"
	UrgencyHigh      UrgencyLevel = "high"
	UrgencyEmergency UrgencyLevel = "emergency"
)

// IsValid reports whether u is a known urgency level.
func (u UrgencyLevel) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyModerate, UrgencyHigh, UrgencyEmergency:
		return true
	default:
		return false
	}
}

// Specialist is the kind of eye-care professional a record can be routed to.
type Specialist string

const (
	SpecialistOphthalmologist    Specialist = "ophthalmologist"
	SpecialistOptometrist        Specialist = "optometrist"
	SpecialistRetinalSpecialist  Specialist = "retinal_specialist"
	SpecialistGlaucomaSpecialist Specialist = "glaucoma_specialist"
)

// IsValid reports whether s is a known specialist.
func (s Specialist) IsValid() bool {
	switch s {
	case SpecialistOphthalmologist, SpecialistOptometrist, SpecialistRetinalSpecialist, SpecialistGlaucomaSpecialist:
		return true
	default:
		return false
	}
}

// RoutingUrgency is the urgency attached to a specialist referral.
type RoutingUrgency string

const (
	RoutingRoutine   RoutingUrgency = "routine"
	RoutingUrgent    RoutingUrgency = "urgent"
	RoutingEmergency RoutingUrgency = "emergency"
)

// IsValid reports whether r is a known routing urgency.
func (r RoutingUrgency) IsValid() bool {
	switch r {
	case RoutingRoutine, RoutingUrgent, RoutingEmergency:
		return true
	default:
		return false
	}
}

// ConsultationStatus tracks a referral through scheduling.
type ConsultationStatus string

const (
	ConsultationPending   ConsultationStatus = "pending"
	ConsultationScheduled ConsultationStatus = "scheduled"
	ConsultationCompleted ConsultationStatus = "completed"
	ConsultationCancelled ConsultationStatus = "cancelled"
)

// IsValid reports whether c is a known consultation status.
func (c ConsultationStatus) IsValid() bool {
	switch c {
	case ConsultationPending, ConsultationScheduled, ConsultationCompleted, ConsultationCancelled:
		return true
	default:
		return false
	}
}

// RecordStatus is the processing status of a diagnosis record.
type RecordStatus string

const (
	StatusProcessing     RecordStatus = "processing"
	StatusCompleted      RecordStatus = "completed"
	StatusFailed         RecordStatus = "failed"
	StatusReviewRequired RecordStatus = "review_required"
)

// IsValid reports whether s is a known record status.
func (s RecordStatus) IsValid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed, StatusReviewRequired:
		return true
	default:
		return false
	}
}

// SymptomDuration is the patient-reported duration bucket.
type SymptomDuration string

const (
	DurationLessThanWeek SymptomDuration = "less_than_week"
	DurationWeekToMonth  SymptomDuration = "week_to_month"
	DurationMonthToYear  SymptomDuration = "month_to_year"
	DurationMoreThanYear SymptomDuration = "more_than_year"
)

// IsValid reports whether d is a known reported duration.
func (d SymptomDuration) IsValid() bool {
	switch d {
	case DurationLessThanWeek, DurationWeekToMonth, DurationMonthToYear, DurationMoreThanYear:
		return true
	default:
		return false
	}
}

// ImageType selects which classifier model family handles an image.
type ImageType string

const (
	ImageTypeFundus ImageType = "fundus"
	ImageTypeOuter  ImageType = "outer"
)

// ParseImageType maps the client-facing image type onto the classifier's.
// "outer_eye" and "outer" select the outer-eye model; anything else is fundus.
func ParseImageType(s string) ImageType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outer_eye", "outer":
		return ImageTypeOuter
	default:
		return ImageTypeFundus
	}
}

// Role is the caller role supplied by the gateway.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller identifies who is acting on a record.
type Caller struct {
	UserID string
	Role   Role
}

// CanAccess reports whether the caller owns the record or is an admin.
func (c Caller) CanAccess(ownerID string) bool {
	return c.Role == RoleAdmin || (c.UserID != "" && c.UserID == ownerID)
}
