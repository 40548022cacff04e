package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() *CombinedDiagnosis {
	now := time.Now().UTC()
	return &CombinedDiagnosis{
		ID:     "rec-1",
		UserID: "user-1",
		ImageData: ImageData{
			OriginalURL: "local://eye.jpg",
			StorageID:   "eye",
			Metadata:    ImageMetadata{Format: "image/jpeg", Width: 224, Height: 224, Size: 2048},
		},
		Symptoms: Symptoms{
			Description:        "blurred vision and floaters",
			AdditionalSymptoms: []string{"blurred vision and floaters"},
		},
		Predictions: Predictions{
			ImageAnalysis: ImagePrediction{Disease: "Glaucoma", Confidence: 0.82},
			CombinedResult: CombinedResult{
				FinalDiagnosis:    "Glaucoma",
				OverallConfidence: 0.82,
				UrgencyLevel:      UrgencyModerate,
			},
		},
		SpecialistRouting: DefaultSpecialistRouting(),
		Status:            StatusCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestCombinedDiagnosisValidate_Valid(t *testing.T) {
	assert.NoError(t, validRecord().Validate())
}

func TestCombinedDiagnosisValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *CombinedDiagnosis)
		field  string
	}{
		{"Missing user", func(d *CombinedDiagnosis) { d.UserID = "" }, "userId"},
		{"Missing image URL", func(d *CombinedDiagnosis) { d.ImageData.OriginalURL = "" }, "imageData.originalUrl"},
		{"Long description", func(d *CombinedDiagnosis) { d.Symptoms.Description = strings.Repeat("a", 1001) }, "symptoms.description"},
		{"Severity out of range", func(d *CombinedDiagnosis) { s := 11; d.Symptoms.Severity = &s }, "symptoms.severity"},
		{"Image confidence above one", func(d *CombinedDiagnosis) { d.Predictions.ImageAnalysis.Confidence = 1.2 }, "predictions.imageAnalysis.confidence"},
		{"Overall confidence negative", func(d *CombinedDiagnosis) { d.Predictions.CombinedResult.OverallConfidence = -0.1 }, "predictions.combinedResult.overallConfidence"},
		{"Missing final diagnosis", func(d *CombinedDiagnosis) { d.Predictions.CombinedResult.FinalDiagnosis = "" }, "predictions.combinedResult.finalDiagnosis"},
		{"Unknown urgency level", func(d *CombinedDiagnosis) { d.Predictions.CombinedResult.UrgencyLevel = "" }, "predictions.combinedResult.urgencyLevel"},
		{"Unknown status", func(d *CombinedDiagnosis) { d.Status = "done" }, "status"},
		{"Feedback accuracy", func(d *CombinedDiagnosis) { d.Feedback = &Feedback{Accuracy: 6} }, "feedback.accuracy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := validRecord()
			tt.mutate(record)

			err := record.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed))

			var verr *RecordValidationError
			require.True(t, errors.As(err, &verr))
			fields := make([]string, 0, len(verr.Errors))
			for _, fe := range verr.Errors {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestRoutingUpdateValidate(t *testing.T) {
	bad := Specialist("surgeon")
	assert.Error(t, (&RoutingUpdate{RecommendedSpecialist: &bad}).Validate())

	status := ConsultationScheduled
	assert.NoError(t, (&RoutingUpdate{ConsultationStatus: &status}).Validate())
}

func TestAPIError(t *testing.T) {
	err := NewAPIError(CodeUpstreamProtocol, "Invalid response from AI service", nil, "req-123")

	assert.Equal(t, CodeUpstreamProtocol, err.Code)
	assert.Equal(t, "req-123", err.RequestID)
	assert.False(t, err.Timestamp.IsZero())
	assert.Equal(t, "UPSTREAM_PROTOCOL_ERROR: Invalid response from AI service", err.Error())
}

func TestInvalidUpstreamResponseWrapsProtocolError(t *testing.T) {
	assert.True(t, errors.Is(ErrInvalidUpstreamResponse, ErrUpstreamProtocol))
	assert.False(t, errors.Is(ErrInvalidUpstreamResponse, ErrUpstreamUnavailable))
}
