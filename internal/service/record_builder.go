package service

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const (
	defaultImageFormat    = "image/jpeg"
	defaultImageDimension = 224
	defaultDescription    = "Not provided"
	localStorageScheme    = "local://"
	localStorageID        = "local_upload"
	suggestedPredScore    = 1.0
)

// genericRecommendations are attached to every completed record.
var genericRecommendations = []string{
	"Maintain regular eye check-ups.",
	"If symptoms persist or worsen, consult an ophthalmologist.",
}

// BuildInput is everything the record builder needs for one submission.
type BuildInput struct {
	UserID           string
	ImageBuffer      []byte
	SymptomsText     string
	ImageType        domain.ImageType
	Result           *domain.Prediction
	Upload           domain.UploadMeta
	Image            *domain.StoredImage
	ReportedDuration *domain.SymptomDuration
	ReportedSeverity *int
}

// BuildResult is a validated, not yet persisted record plus the text
// analysis it was derived from.
type BuildResult struct {
	Record   *domain.CombinedDiagnosis
	Analysis *domain.SymptomAnalysis
}

// Enrichment is the outcome of running the confidence and referral engines
// over a built record.
type Enrichment struct {
	BlendedConfidence float64                `json:"blended_confidence"`
	ConfidenceLevel   domain.ConfidenceLevel `json:"confidence_level"`
	Explanation       string                 `json:"explanation"`
	UrgencyScore      int                    `json:"urgency_score"`
	NeedsReferral     bool                   `json:"needs_referral"`
}

// RecordBuilder assembles CombinedDiagnosis records from classifier output
// and symptom text.
type RecordBuilder struct {
	logger  *logrus.Logger
	weights ConfidenceWeights
	now     func() time.Time
	newID   func() string
}

// NewRecordBuilder creates a record builder
func NewRecordBuilder(logger *logrus.Logger, weights ConfidenceWeights) *RecordBuilder {
	return &RecordBuilder{
		logger:  logger,
		weights: weights.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// Build validates the classifier result and assembles a completed record.
func (b *RecordBuilder) Build(in *BuildInput) (*BuildResult, error) {
	if len(in.ImageBuffer) == 0 {
		return nil, fmt.Errorf("%w: image buffer is empty", domain.ErrInvalidUpstreamResponse)
	}
	if err := validatePrediction(in.Result); err != nil {
		return nil, err
	}

	result := in.Result
	urgencyLevel := DeriveUrgencyLevel(result.Label, result.Confidence)
	analysis := AnalyzeSymptoms(in.SymptomsText)
	now := b.now()

	record := &domain.CombinedDiagnosis{
		ID:        b.newID(),
		UserID:    in.UserID,
		ImageData: buildImageData(in.Upload, in.Image),
		Symptoms: domain.Symptoms{
			Description:        describeSymptoms(in.SymptomsText),
			Duration:           in.ReportedDuration,
			Severity:           in.ReportedSeverity,
			AdditionalSymptoms: splitSymptoms(in.SymptomsText),
		},
		Predictions: domain.Predictions{
			ImageAnalysis: domain.ImagePrediction{
				ModelVersion: optionalString(result.Type),
				Disease:      result.Label,
				Confidence:   result.Confidence,
				Details: domain.ImageDetails{
					Probabilities:    result.Probabilities(),
					DetectedFeatures: []string{},
				},
			},
			TextAnalysis: buildTextPrediction(in.SymptomsText, analysis, result.SymptomPred),
			CombinedResult: domain.CombinedResult{
				FinalDiagnosis:    result.Label,
				OverallConfidence: result.Confidence,
				UrgencyLevel:      urgencyLevel,
				Recommendations:   append([]string(nil), genericRecommendations...),
			},
		},
		SpecialistRouting: domain.DefaultSpecialistRouting(),
		Status:            domain.StatusCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := record.Validate(); err != nil {
		b.logger.WithFields(logrus.Fields{
			"user_id": in.UserID,
			"error":   err.Error(),
		}).Warn("Assembled record failed validation")
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"record_id":      record.ID,
		"diagnosis":      result.Label,
		"confidence":     result.Confidence,
		"urgency_level":  urgencyLevel,
		"text_condition": len(analysis.DetectedConditions),
	}).Debug("Diagnosis record assembled")

	return &BuildResult{Record: record, Analysis: analysis}, nil
}

// Enrich runs the confidence and referral engines over a built record,
// appends their recommendations and fills specialist routing.
// OverallConfidence keeps the classifier's value.
func (b *RecordBuilder) Enrich(built *BuildResult) *Enrichment {
	record := built.Record
	label := record.Predictions.ImageAnalysis.Disease
	imageConfidence := record.Predictions.ImageAnalysis.Confidence

	blended := CombineConfidence(imageConfidence, built.Analysis, b.weights)
	score := ScoreUrgency(blended, label, built.Analysis)
	referral := NeedsReferral(blended, label, score, built.Analysis)

	record.Predictions.CombinedResult.Recommendations = append(
		record.Predictions.CombinedResult.Recommendations,
		GenerateRecommendations(blended, label, score, built.Analysis)...,
	)

	if referral {
		specialist := RecommendSpecialist(label)
		routedAt := b.now()
		record.SpecialistRouting.IsRoutingRequired = true
		record.SpecialistRouting.RecommendedSpecialist = &specialist
		record.SpecialistRouting.Urgency = RoutingUrgencyFor(score)
		record.SpecialistRouting.RoutingDate = &routedAt
	}

	return &Enrichment{
		BlendedConfidence: blended,
		ConfidenceLevel:   ConfidenceLevelFor(blended),
		Explanation:       ExplainConfidence(blended, imageConfidence, built.Analysis),
		UrgencyScore:      score,
		NeedsReferral:     referral,
	}
}

func validatePrediction(p *domain.Prediction) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: missing result", domain.ErrInvalidUpstreamResponse)
	case !p.OK:
		return fmt.Errorf("%w: ok flag not set", domain.ErrInvalidUpstreamResponse)
	case strings.TrimSpace(p.Label) == "":
		return fmt.Errorf("%w: missing prediction label", domain.ErrInvalidUpstreamResponse)
	case math.IsNaN(p.Confidence) || math.IsInf(p.Confidence, 0):
		return fmt.Errorf("%w: confidence is not a number", domain.ErrInvalidUpstreamResponse)
	}
	return nil
}

func buildImageData(upload domain.UploadMeta, stored *domain.StoredImage) domain.ImageData {
	data := domain.ImageData{
		Metadata: domain.ImageMetadata{
			Format: upload.MimeType,
			Width:  upload.Width,
			Height: upload.Height,
			Size:   upload.Size,
		},
	}
	if data.Metadata.Format == "" {
		data.Metadata.Format = defaultImageFormat
	}
	if data.Metadata.Width <= 0 {
		data.Metadata.Width = defaultImageDimension
	}
	if data.Metadata.Height <= 0 {
		data.Metadata.Height = defaultImageDimension
	}

	if stored != nil && stored.URL != "" {
		data.OriginalURL = stored.URL
		data.StorageID = stored.StorageID
	} else {
		data.OriginalURL = LocalImageURL(upload.Filename)
	}
	if data.StorageID == "" {
		data.StorageID = localStorageIDFor(upload.Filename)
	}
	return data
}

// LocalImageURL is the placeholder reference used when no object storage
// holds the image.
func LocalImageURL(filename string) string {
	if filename == "" {
		filename = localStorageID
	}
	return localStorageScheme + filename
}

func localStorageIDFor(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return localStorageID
	}
	return base
}

func buildTextPrediction(text string, analysis *domain.SymptomAnalysis, symptomPred *string) domain.TextPrediction {
	prediction := domain.TextPrediction{
		SuggestedConditions: []domain.SuggestedCondition{},
		MatchedKeywords:     []string{},
		RiskFactors:         RiskFactors(text),
	}

	seenKeyword := map[string]bool{}
	seenCondition := map[string]bool{}
	for _, dc := range analysis.DetectedConditions {
		prediction.SuggestedConditions = append(prediction.SuggestedConditions, domain.SuggestedCondition{
			Condition: string(dc.Condition),
			Score:     float64(dc.Confidence) / 100,
		})
		seenCondition[string(dc.Condition)] = true
		for _, kw := range dc.MatchedKeywords {
			if !seenKeyword[kw] {
				seenKeyword[kw] = true
				prediction.MatchedKeywords = append(prediction.MatchedKeywords, kw)
			}
		}
	}

	if symptomPred != nil && strings.TrimSpace(*symptomPred) != "" && !seenCondition[CanonicalDisease(*symptomPred)] {
		prediction.SuggestedConditions = append(prediction.SuggestedConditions, domain.SuggestedCondition{
			Condition: *symptomPred,
			Score:     suggestedPredScore,
		})
	}

	return prediction
}

func splitSymptoms(text string) []string {
	parts := []string{}
	for _, part := range strings.Split(text, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func describeSymptoms(text string) string {
	if text = strings.TrimSpace(text); text == "" {
		return defaultDescription
	}
	return text
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
