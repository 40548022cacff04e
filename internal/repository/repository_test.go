package repository

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleRecord(id, userID, diagnosis string, confidence float64, createdAt time.Time) *domain.CombinedDiagnosis {
	severity := 6
	return &domain.CombinedDiagnosis{
		ID:     id,
		UserID: userID,
		ImageData: domain.ImageData{
			OriginalURL: "local://" + id + ".jpg",
			StorageID:   id + ".jpg",
			Metadata:    domain.ImageMetadata{Format: "jpg", Size: 2048},
		},
		Symptoms: domain.Symptoms{
			Description:        "blurry vision, eye pain",
			Severity:           &severity,
			AdditionalSymptoms: []string{"blurry vision", "eye pain"},
		},
		Predictions: domain.Predictions{
			ImageAnalysis: domain.ImagePrediction{
				Disease:    diagnosis,
				Confidence: confidence,
				Details: domain.ImageDetails{
					Probabilities:    []domain.DiseaseProbability{{Disease: diagnosis, Probability: confidence}},
					DetectedFeatures: []string{},
				},
			},
			TextAnalysis: domain.TextPrediction{
				SuggestedConditions: []domain.SuggestedCondition{},
				MatchedKeywords:     []string{},
				RiskFactors:         []string{},
			},
			CombinedResult: domain.CombinedResult{
				FinalDiagnosis:    diagnosis,
				OverallConfidence: confidence,
				UrgencyLevel:      domain.UrgencyModerate,
				Recommendations:   []string{"Consult with an eye care professional for proper diagnosis"},
			},
		},
		SpecialistRouting: domain.DefaultSpecialistRouting(),
		Status:            domain.StatusCompleted,
		ProcessingTimeMs:  120,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
}
