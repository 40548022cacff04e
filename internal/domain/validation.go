package domain

import (
	"math"
	"strings"
)

// MaxDescriptionLength bounds the stored symptom description.
const MaxDescriptionLength = 1000

// Validate checks the record against its schema invariants. It returns nil
// when the record may be persisted, otherwise a *RecordValidationError.
func (d *CombinedDiagnosis) Validate() error {
	var errs []*ValidationError
	add := func(field, message string, value any) {
		errs = append(errs, NewValidationError(field, message, value))
	}

	if strings.TrimSpace(d.UserID) == "" {
		add("userId", "is required", d.UserID)
	}
	if d.ImageData.OriginalURL == "" {
		add("imageData.originalUrl", "is required", nil)
	}
	if d.ImageData.StorageID == "" {
		add("imageData.storageId", "is required", nil)
	}
	if d.ImageData.Metadata.Size < 0 {
		add("imageData.metadata.size", "must not be negative", d.ImageData.Metadata.Size)
	}

	if strings.TrimSpace(d.Symptoms.Description) == "" {
		add("symptoms.description", "is required", nil)
	} else if len([]rune(d.Symptoms.Description)) > MaxDescriptionLength {
		add("symptoms.description", "must be at most 1000 characters", len([]rune(d.Symptoms.Description)))
	}
	if d.Symptoms.Duration != nil && !d.Symptoms.Duration.IsValid() {
		add("symptoms.duration", "is not a known duration", *d.Symptoms.Duration)
	}
	if d.Symptoms.Severity != nil && (*d.Symptoms.Severity < 1 || *d.Symptoms.Severity > 10) {
		add("symptoms.severity", "must be between 1 and 10", *d.Symptoms.Severity)
	}

	img := d.Predictions.ImageAnalysis
	if strings.TrimSpace(img.Disease) == "" {
		add("predictions.imageAnalysis.disease", "is required", nil)
	}
	if !unitInterval(img.Confidence) {
		add("predictions.imageAnalysis.confidence", "must be between 0 and 1", img.Confidence)
	}
	for _, sc := range d.Predictions.TextAnalysis.SuggestedConditions {
		if !unitInterval(sc.Score) {
			add("predictions.textAnalysis.suggestedConditions.score", "must be between 0 and 1", sc.Score)
		}
	}

	combined := d.Predictions.CombinedResult
	if d.Status == StatusCompleted {
		if strings.TrimSpace(combined.FinalDiagnosis) == "" {
			add("predictions.combinedResult.finalDiagnosis", "is required", nil)
		}
		if !combined.UrgencyLevel.IsValid() {
			add("predictions.combinedResult.urgencyLevel", "is not a known urgency level", combined.UrgencyLevel)
		}
	}
	if !unitInterval(combined.OverallConfidence) {
		add("predictions.combinedResult.overallConfidence", "must be between 0 and 1", combined.OverallConfidence)
	}

	routing := d.SpecialistRouting
	if routing.RecommendedSpecialist != nil && !routing.RecommendedSpecialist.IsValid() {
		add("specialistRouting.recommendedSpecialist", "is not a known specialist", *routing.RecommendedSpecialist)
	}
	if !routing.Urgency.IsValid() {
		add("specialistRouting.urgency", "is not a known routing urgency", routing.Urgency)
	}
	if !routing.ConsultationStatus.IsValid() {
		add("specialistRouting.consultationStatus", "is not a known consultation status", routing.ConsultationStatus)
	}

	if !d.Status.IsValid() {
		add("status", "is not a known status", d.Status)
	}
	if d.ProcessingTimeMs < 0 {
		add("processingTime", "must not be negative", d.ProcessingTimeMs)
	}
	if d.Feedback != nil {
		errs = append(errs, d.Feedback.validate()...)
	}

	if len(errs) > 0 {
		return &RecordValidationError{Errors: errs}
	}
	return nil
}

// Validate checks a feedback submission.
func (f *Feedback) Validate() error {
	if errs := f.validate(); len(errs) > 0 {
		return &RecordValidationError{Errors: errs}
	}
	return nil
}

func (f *Feedback) validate() []*ValidationError {
	var errs []*ValidationError
	if f.Accuracy < 1 || f.Accuracy > 5 {
		errs = append(errs, NewValidationError("feedback.accuracy", "must be between 1 and 5", f.Accuracy))
	}
	if len([]rune(f.Comments)) > MaxDescriptionLength {
		errs = append(errs, NewValidationError("feedback.comments", "must be at most 1000 characters", nil))
	}
	return errs
}

// Validate checks a routing update.
func (u *RoutingUpdate) Validate() error {
	var errs []*ValidationError
	if u.RecommendedSpecialist != nil && !u.RecommendedSpecialist.IsValid() {
		errs = append(errs, NewValidationError("recommendedSpecialist", "is not a known specialist", *u.RecommendedSpecialist))
	}
	if u.Urgency != nil && !u.Urgency.IsValid() {
		errs = append(errs, NewValidationError("urgency", "is not a known routing urgency", *u.Urgency))
	}
	if u.ConsultationStatus != nil && !u.ConsultationStatus.IsValid() {
		errs = append(errs, NewValidationError("consultationStatus", "is not a known consultation status", *u.ConsultationStatus))
	}
	if len(errs) > 0 {
		return &RecordValidationError{Errors: errs}
	}
	return nil
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
