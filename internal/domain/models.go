package domain

import (
	"strings"
	"time"
)

// DetectedCondition is a condition whose keywords were found in symptom text.
type DetectedCondition struct {
	Condition       EyeCondition `json:"condition"`
	MatchedKeywords []string     `json:"matchedKeywords"`
	Confidence      int          `json:"confidence"` // 0-100
}

// SymptomAnalysis is the structured result of analyzing free-text symptoms.
type SymptomAnalysis struct {
	Keywords           []string            `json:"keywords"`
	DetectedConditions []DetectedCondition `json:"detectedConditions"`
	Severity           Severity            `json:"severity"`
	Duration           Duration            `json:"duration"`
	Urgency            TextUrgency         `json:"urgency"`
	Confidence         int                 `json:"confidence"` // 0-100
}

// NewEmptySymptomAnalysis returns the analysis produced for empty input.
func NewEmptySymptomAnalysis() *SymptomAnalysis {
	return &SymptomAnalysis{
		Keywords:           []string{},
		DetectedConditions: []DetectedCondition{},
		Severity:           SeverityUnknown,
		Duration:           DurationUnknown,
		Urgency:            TextUrgencyRoutine,
		Confidence:         0,
	}
}

// TextConfidence returns the mean detected-condition confidence as a fraction.
// It is 0 when no condition was detected.
func (a *SymptomAnalysis) TextConfidence() float64 {
	if a == nil || len(a.DetectedConditions) == 0 {
		return 0
	}
	total := 0
	for _, c := range a.DetectedConditions {
		total += c.Confidence
	}
	return float64(total) / float64(len(a.DetectedConditions)) / 100
}

// HasConditions reports whether at least one condition was detected.
func (a *SymptomAnalysis) HasConditions() bool {
	return a != nil && len(a.DetectedConditions) > 0
}

// TopCondition returns the highest-confidence detected condition.
func (a *SymptomAnalysis) TopCondition() (DetectedCondition, bool) {
	if !a.HasConditions() {
		return DetectedCondition{}, false
	}
	return a.DetectedConditions[0], true
}

// LabelConfidence is a single classifier label with its score.
type LabelConfidence struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ImageAnalysisResult is the classifier's view of an image.
type ImageAnalysisResult struct {
	Disease         string            `json:"disease"`
	ConfidenceFloat float64           `json:"confidenceFloat"`
	TopPredictions  []LabelConfidence `json:"topPredictions"`
}

// ImageMetadata describes the uploaded image.
type ImageMetadata struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
}

// ImageData locates the stored image for a record.
type ImageData struct {
	OriginalURL  string        `json:"originalUrl"`
	StorageID    string        `json:"storageId"`
	ProcessedURL *string       `json:"processedUrl,omitempty"`
	Metadata     ImageMetadata `json:"metadata"`
}

// Symptoms holds what the patient reported.
type Symptoms struct {
	Description        string           `json:"description"`
	Duration           *SymptomDuration `json:"duration,omitempty"`
	Severity           *int             `json:"severity,omitempty"` // 1-10
	AdditionalSymptoms []string         `json:"additionalSymptoms"`
}

// DiseaseProbability is one classifier label with its probability.
type DiseaseProbability struct {
	Disease     string  `json:"disease"`
	Probability float64 `json:"probability"`
}

// ImageDetails carries the classifier's supporting output.
type ImageDetails struct {
	Probabilities    []DiseaseProbability `json:"probabilities"`
	DetectedFeatures []string             `json:"detectedFeatures"`
}

// ImagePrediction is the image block of a record.
type ImagePrediction struct {
	ModelVersion *string      `json:"modelVersion,omitempty"`
	Disease      string       `json:"disease"`
	Confidence   float64      `json:"confidence"`
	Details      ImageDetails `json:"details"`
}

// SuggestedCondition is a text-derived condition with a 0-1 score.
type SuggestedCondition struct {
	Condition string  `json:"condition"`
	Score     float64 `json:"score"`
}

// TextPrediction is the text block of a record.
type TextPrediction struct {
	SuggestedConditions []SuggestedCondition `json:"suggestedConditions"`
	MatchedKeywords     []string             `json:"matchedKeywords"`
	RiskFactors         []string             `json:"riskFactors"`
}

// CombinedResult is the final diagnosis block of a record.
type CombinedResult struct {
	FinalDiagnosis    string       `json:"finalDiagnosis"`
	OverallConfidence float64      `json:"overallConfidence"`
	UrgencyLevel      UrgencyLevel `json:"urgencyLevel"`
	Recommendations   []string     `json:"recommendations"`
}

// Predictions groups the image, text and combined blocks.
type Predictions struct {
	ImageAnalysis  ImagePrediction `json:"imageAnalysis"`
	TextAnalysis   TextPrediction  `json:"textAnalysis"`
	CombinedResult CombinedResult  `json:"combinedResult"`
}

// SpecialistRouting tracks whether and where a record is referred.
type SpecialistRouting struct {
	IsRoutingRequired     bool               `json:"isRoutingRequired"`
	RecommendedSpecialist *Specialist        `json:"recommendedSpecialist,omitempty"`
	Urgency               RoutingUrgency     `json:"urgency"`
	AssignedSpecialist    *string            `json:"assignedSpecialist,omitempty"`
	RoutingDate           *time.Time         `json:"routingDate,omitempty"`
	ConsultationStatus    ConsultationStatus `json:"consultationStatus"`
}

// DefaultSpecialistRouting returns routing for a record nobody has referred yet.
func DefaultSpecialistRouting() SpecialistRouting {
	return SpecialistRouting{
		IsRoutingRequired:  false,
		Urgency:            RoutingRoutine,
		ConsultationStatus: ConsultationPending,
	}
}

// Feedback is the patient's or clinician's rating of a record.
type Feedback struct {
	Accuracy   int    `json:"accuracy"` // 1-5
	Helpful    bool   `json:"helpful"`
	Comments   string `json:"comments,omitempty"`
	ProvidedBy string `json:"providedBy,omitempty"`
}

// CombinedDiagnosis is the persisted record of one submission.
type CombinedDiagnosis struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	ImageData         ImageData         `json:"imageData"`
	Symptoms          Symptoms          `json:"symptoms"`
	Predictions       Predictions       `json:"predictions"`
	SpecialistRouting SpecialistRouting `json:"specialistRouting"`
	Status            RecordStatus      `json:"status"`
	ProcessingTimeMs  int64             `json:"processingTime"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
	Feedback          *Feedback         `json:"feedback,omitempty"`
	IsArchived        bool              `json:"isArchived"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

var specialistDiagnoses = []string{
	"glaucoma",
	"diabetic_retinopathy",
	"macular_degeneration",
	"retinal_detachment",
}

// ShouldRouteToSpecialist reports whether the record's diagnosis, urgency or
// confidence warrants a specialist even without an explicit referral.
func (d *CombinedDiagnosis) ShouldRouteToSpecialist() bool {
	result := d.Predictions.CombinedResult
	diagnosis := strings.ToLower(strings.ReplaceAll(result.FinalDiagnosis, " ", "_"))
	for _, name := range specialistDiagnoses {
		if strings.Contains(diagnosis, name) {
			return true
		}
	}
	if result.UrgencyLevel == UrgencyHigh || result.UrgencyLevel == UrgencyEmergency {
		return true
	}
	return result.OverallConfidence < 0.7
}

// HistoryQuery filters and pages a user's records.
type HistoryQuery struct {
	Page      int
	Limit     int
	Statuses  []RecordStatus
	Diagnosis string
}

// Offset returns the row offset for the query's page.
func (q HistoryQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// DiagnosisStat aggregates a user's records for one final diagnosis.
type DiagnosisStat struct {
	Diagnosis     string  `json:"diagnosis"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// Analytics summarises a user's records over a timeframe.
type Analytics struct {
	Timeframe   string          `json:"timeframe"`
	Since       time.Time       `json:"since"`
	Total       int             `json:"total"`
	ByDiagnosis []DiagnosisStat `json:"byDiagnosis"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// RoutingUpdate changes the referral state of a record.
type RoutingUpdate struct {
	AssignedSpecialist    *string             `json:"assignedSpecialist,omitempty"`
	RecommendedSpecialist *Specialist         `json:"recommendedSpecialist,omitempty"`
	Urgency               *RoutingUrgency     `json:"urgency,omitempty"`
	ConsultationStatus    *ConsultationStatus `json:"consultationStatus,omitempty"`
}
