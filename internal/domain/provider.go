package domain

// PredictRequest is what the pipeline sends to the image classifier.
type PredictRequest struct {
	ImageBytes   []byte
	Filename     string
	ContentType  string
	ImageType    ImageType
	SymptomsText string
	Relax        bool
}

// Prediction is an accepted classifier result.
type Prediction struct {
	OK            bool              `json:"ok"`
	Label         string            `json:"prediction"`
	Confidence    float64           `json:"confidence"`
	Top3          []LabelConfidence `json:"top3"`
	Type          string            `json:"type"`
	SymptomPred   *string           `json:"symptom_pred,omitempty"`
	SymptomAgrees *bool             `json:"symptom_agrees,omitempty"`
	Heuristics    map[string]any    `json:"heuristics,omitempty"`
	OODScores     map[string]any    `json:"ood_scores,omitempty"`
}

// Probabilities returns the top-3 predictions in classifier order.
func (p *Prediction) Probabilities() []DiseaseProbability {
	probs := make([]DiseaseProbability, 0, len(p.Top3))
	for _, lc := range p.Top3 {
		probs = append(probs, DiseaseProbability{Disease: lc.Label, Probability: lc.Confidence})
	}
	return probs
}

// ImageAnalysis converts the prediction into an ImageAnalysisResult.
func (p *Prediction) ImageAnalysis() ImageAnalysisResult {
	return ImageAnalysisResult{
		Disease:         p.Label,
		ConfidenceFloat: p.Confidence,
		TopPredictions:  p.Top3,
	}
}

// DefaultRejectionReason is used when the classifier rejects without a reason.
const DefaultRejectionReason = "Rejected by model gates"

// Rejection is the classifier declining to analyse an image.
// It is a successful outcome, not an error.
type Rejection struct {
	Reason     string         `json:"reason"`
	Heuristics map[string]any `json:"heuristics,omitempty"`
	OODScores  map[string]any `json:"ood_scores,omitempty"`
}

// ProviderResponse holds exactly one of Rejected or Accepted.
type ProviderResponse struct {
	Rejected *Rejection
	Accepted *Prediction
}

// IsRejected reports whether the classifier rejected the image.
func (r *ProviderResponse) IsRejected() bool {
	return r != nil && r.Rejected != nil
}

// UploadMeta describes an upload after transport-level validation.
type UploadMeta struct {
	Filename string
	MimeType string
	Size     int64
	Width    int
	Height   int
}

// StoredImage is where an uploaded image ended up.
type StoredImage struct {
	URL       string
	StorageID string
}
