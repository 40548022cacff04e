package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/metrics"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	defaultTimeframe    = "30d"
)

var timeframes = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// Submission is one patient upload entering the pipeline.
type Submission struct {
	UserID           string
	Image            []byte
	Upload           domain.UploadMeta
	SymptomsText     string
	ImageType        domain.ImageType
	Relax            bool
	ReportedDuration *domain.SymptomDuration
	ReportedSeverity *int
}

// AnalysisView is the client-facing shape of a completed analysis.
type AnalysisView struct {
	RecordID          string                   `json:"record_id"`
	Prediction        string                   `json:"prediction"`
	ConfidenceFloat   float64                  `json:"confidence_float"`
	TopPredictions    []domain.LabelConfidence `json:"top_predictions"`
	Type              string                   `json:"type"`
	SymptomPred       *string                  `json:"symptom_pred,omitempty"`
	SymptomAgrees     *bool                    `json:"symptom_agrees,omitempty"`
	Heuristics        map[string]any           `json:"heuristics,omitempty"`
	OODScores         map[string]any           `json:"ood_scores,omitempty"`
	ImageURL          string                   `json:"image_url"`
	UrgencyLevel      domain.UrgencyLevel      `json:"urgency_level"`
	Recommendations   []string                 `json:"recommendations"`
	SpecialistRouting domain.SpecialistRouting `json:"specialist_routing"`
	Enrichment        *Enrichment              `json:"enrichment,omitempty"`
	ProcessingTimeMs  int64                    `json:"processing_time_ms"`
	CreatedAt         time.Time                `json:"created_at"`
}

// AnalysisOutcome holds exactly one of Rejected or View.
type AnalysisOutcome struct {
	Rejected *domain.Rejection
	View     *AnalysisView
}

// HistoryPage is one page of a user's records.
type HistoryPage struct {
	Records []*domain.CombinedDiagnosis `json:"records"`
	Page    int                         `json:"page"`
	Limit   int                         `json:"limit"`
	Total   int                         `json:"total"`
	Pages   int                         `json:"pages"`
}

// SymptomReport is the result of a text-only analysis.
type SymptomReport struct {
	Analysis        *domain.SymptomAnalysis `json:"analysis"`
	Features        TextFeatures            `json:"features"`
	Validation      SymptomTextValidation   `json:"validation"`
	Summary         string                  `json:"summary"`
	Confidence      float64                 `json:"confidence"`
	ConfidenceLevel domain.ConfidenceLevel  `json:"confidence_level"`
	UrgencyScore    int                     `json:"urgency_score"`
	NeedsReferral   bool                    `json:"needs_referral"`
	Recommendations []string                `json:"recommendations"`
}

// DiagnosisService runs the diagnosis pipeline and manages stored records.
type DiagnosisService struct {
	logger   *logrus.Logger
	provider domain.ResultProvider
	repo     domain.DiagnosisRepository
	builder  *RecordBuilder
	images   domain.ImageStore
	events   domain.EventPublisher
	cache    domain.AnalyticsCache
	metrics  *metrics.Collector
	enrich   bool
	now      func() time.Time
}

// DiagnosisServiceOption is a functional option for DiagnosisService.
type DiagnosisServiceOption func(*DiagnosisService)

// WithImageStore sets where uploaded images are stored.
func WithImageStore(store domain.ImageStore) DiagnosisServiceOption {
	return func(s *DiagnosisService) { s.images = store }
}

// WithEventPublisher sets the routing event publisher.
func WithEventPublisher(publisher domain.EventPublisher) DiagnosisServiceOption {
	return func(s *DiagnosisService) { s.events = publisher }
}

// WithAnalyticsCache sets the analytics cache.
func WithAnalyticsCache(cache domain.AnalyticsCache) DiagnosisServiceOption {
	return func(s *DiagnosisService) { s.cache = cache }
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector *metrics.Collector) DiagnosisServiceOption {
	return func(s *DiagnosisService) { s.metrics = collector }
}

// WithEnrichment runs the confidence and referral engines on every record.
func WithEnrichment(enabled bool) DiagnosisServiceOption {
	return func(s *DiagnosisService) { s.enrich = enabled }
}

// NewDiagnosisService creates a new diagnosis service
func NewDiagnosisService(
	logger *logrus.Logger,
	provider domain.ResultProvider,
	repo domain.DiagnosisRepository,
	builder *RecordBuilder,
	opts ...DiagnosisServiceOption,
) *DiagnosisService {
	s := &DiagnosisService{
		logger:   logger,
		provider: provider,
		repo:     repo,
		builder:  builder,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze runs one submission through the classifier and persists the
// resulting record. A classifier rejection is returned as an outcome and
// nothing is stored.
func (s *DiagnosisService) Analyze(ctx context.Context, sub *Submission) (*AnalysisOutcome, error) {
	startTime := time.Now()

	if strings.TrimSpace(sub.UserID) == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	if len(sub.Image) == 0 {
		return nil, fmt.Errorf("%w: image is required", domain.ErrInvalidInput)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"user_id":    sub.UserID,
		"image_type": sub.ImageType,
		"image_size": len(sub.Image),
	})
	logger.Info("Starting diagnosis pipeline")

	// Step 1: store the image; failures fall back to a local placeholder
	stored := s.storeImage(ctx, sub)

	// Step 2: classify
	upstreamStart := time.Now()
	resp, err := s.provider.Predict(ctx, &domain.PredictRequest{
		ImageBytes:   sub.Image,
		Filename:     sub.Upload.Filename,
		ContentType:  sub.Upload.MimeType,
		ImageType:    sub.ImageType,
		SymptomsText: sub.SymptomsText,
		Relax:        sub.Relax,
	})
	s.metrics.ObserveUpstream(time.Since(upstreamStart))
	if err != nil {
		s.observeFailure(err, startTime)
		logger.WithError(err).Error("Classifier request failed")
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	if resp == nil {
		resp = &domain.ProviderResponse{}
	}

	if resp.IsRejected() {
		if resp.Rejected.Reason == "" {
			resp.Rejected.Reason = domain.DefaultRejectionReason
		}
		s.metrics.ObserveSubmission(metrics.OutcomeRejected, time.Since(startTime))
		logger.WithField("reason", resp.Rejected.Reason).Info("Classifier rejected image")
		return &AnalysisOutcome{Rejected: resp.Rejected}, nil
	}

	// Step 3: build and optionally enrich
	built, err := s.builder.Build(&BuildInput{
		UserID:           sub.UserID,
		ImageBuffer:      sub.Image,
		SymptomsText:     sub.SymptomsText,
		ImageType:        sub.ImageType,
		Result:           resp.Accepted,
		Upload:           sub.Upload,
		Image:            stored,
		ReportedDuration: sub.ReportedDuration,
		ReportedSeverity: sub.ReportedSeverity,
	})
	if err != nil {
		s.observeFailure(err, startTime)
		return nil, fmt.Errorf("building diagnosis record: %w", err)
	}

	var enrichment *Enrichment
	if s.enrich {
		enrichment = s.builder.Enrich(built)
	}

	record := built.Record
	record.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	// Step 4: persist
	if err := s.repo.Save(ctx, record); err != nil {
		s.observeFailure(err, startTime)
		logger.WithError(err).Error("Failed to save diagnosis record")
		return nil, fmt.Errorf("saving diagnosis record: %w", err)
	}

	// Step 5: side effects that never fail the request
	s.publishRouting(ctx, record)
	s.invalidateAnalytics(ctx, record.UserID)

	result := record.Predictions.CombinedResult
	s.metrics.ObserveSubmission(metrics.OutcomeCompleted, time.Since(startTime))
	s.metrics.ObserveRecord(result.OverallConfidence, string(result.UrgencyLevel), record.SpecialistRouting.IsRoutingRequired)

	logger.WithFields(logrus.Fields{
		"record_id":       record.ID,
		"diagnosis":       result.FinalDiagnosis,
		"confidence":      result.OverallConfidence,
		"urgency_level":   result.UrgencyLevel,
		"processing_time": record.ProcessingTimeMs,
	}).Info("Diagnosis pipeline completed")

	return &AnalysisOutcome{View: newAnalysisView(record, resp.Accepted, enrichment)}, nil
}

// AnalyzeText analyses symptom text without an image.
func (s *DiagnosisService) AnalyzeText(text string) *SymptomReport {
	return BuildSymptomReport(text)
}

// BuildSymptomReport analyses symptom text on its own. The top detected
// condition stands in for the classifier label and the mean text confidence
// for the classifier confidence.
func BuildSymptomReport(text string) *SymptomReport {
	analysis := AnalyzeSymptoms(text)
	confidence := analysis.TextConfidence()

	label := ""
	if top, ok := analysis.TopCondition(); ok {
		label = string(top.Condition)
	}
	score := ScoreUrgency(confidence, label, analysis)

	return &SymptomReport{
		Analysis:        analysis,
		Features:        ExtractTextFeatures(text, analysis),
		Validation:      ValidateSymptomText(text),
		Summary:         SummarizeSymptoms(text),
		Confidence:      confidence,
		ConfidenceLevel: ConfidenceLevelFor(confidence),
		UrgencyScore:    score,
		NeedsReferral:   NeedsReferral(confidence, label, score, analysis),
		Recommendations: GenerateRecommendations(confidence, label, score, analysis),
	}
}

// History returns a page of the user's records, newest first.
func (s *DiagnosisService) History(ctx context.Context, userID string, query domain.HistoryQuery) (*HistoryPage, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 {
		query.Limit = defaultHistoryLimit
	}
	if query.Limit > maxHistoryLimit {
		query.Limit = maxHistoryLimit
	}
	for _, status := range query.Statuses {
		if !status.IsValid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
		}
	}

	records, err := s.repo.FindByUser(ctx, userID, query)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	total, err := s.repo.CountByUser(ctx, userID, query)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	return &HistoryPage{
		Records: records,
		Page:    query.Page,
		Limit:   query.Limit,
		Total:   total,
		Pages:   (total + query.Limit - 1) / query.Limit,
	}, nil
}

// Get returns a record the caller owns, or any record for an admin.
func (s *DiagnosisService) Get(ctx context.Context, caller domain.Caller, id string) (*domain.CombinedDiagnosis, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(record.UserID) {
		return nil, fmt.Errorf("record %s: %w", id, domain.ErrForbidden)
	}
	return record, nil
}

// Delete permanently removes a record.
func (s *DiagnosisService) Delete(ctx context.Context, caller domain.Caller, id string) error {
	record, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	s.invalidateAnalytics(ctx, record.UserID)
	s.logger.WithFields(logrus.Fields{
		"record_id": id,
		"user_id":   caller.UserID,
	}).Info("Diagnosis record deleted")
	return nil
}

// Archive soft-deletes or restores a record.
func (s *DiagnosisService) Archive(ctx context.Context, caller domain.Caller, id string, archived bool) error {
	record, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetArchived(ctx, id, archived); err != nil {
		return fmt.Errorf("archiving record: %w", err)
	}
	s.invalidateAnalytics(ctx, record.UserID)
	return nil
}

// SubmitFeedback attaches the caller's rating to a record.
func (s *DiagnosisService) SubmitFeedback(ctx context.Context, caller domain.Caller, id string, feedback *domain.Feedback) (*domain.CombinedDiagnosis, error) {
	if err := feedback.Validate(); err != nil {
		return nil, err
	}
	record, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if feedback.ProvidedBy == "" {
		feedback.ProvidedBy = caller.UserID
	}
	if err := s.repo.UpdateFeedback(ctx, id, feedback); err != nil {
		return nil, fmt.Errorf("saving feedback: %w", err)
	}
	record.Feedback = feedback
	record.UpdatedAt = s.now()
	return record, nil
}

// UpdateRouting changes the referral state of a record.
func (s *DiagnosisService) UpdateRouting(ctx context.Context, caller domain.Caller, id string, update *domain.RoutingUpdate) (*domain.CombinedDiagnosis, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	record, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	routing := record.SpecialistRouting
	if update.RecommendedSpecialist != nil {
		routing.RecommendedSpecialist = update.RecommendedSpecialist
	}
	if update.AssignedSpecialist != nil {
		routing.AssignedSpecialist = update.AssignedSpecialist
	}
	if update.Urgency != nil {
		routing.Urgency = *update.Urgency
	}
	if update.ConsultationStatus != nil {
		routing.ConsultationStatus = *update.ConsultationStatus
	}
	routing.IsRoutingRequired = true
	if routing.RoutingDate == nil {
		now := s.now()
		routing.RoutingDate = &now
	}

	if err := s.repo.UpdateRouting(ctx, id, routing); err != nil {
		return nil, fmt.Errorf("saving routing: %w", err)
	}
	record.SpecialistRouting = routing
	record.UpdatedAt = s.now()
	return record, nil
}

// Analytics summarises the user's records over a timeframe of 7d, 30d or 90d.
func (s *DiagnosisService) Analytics(ctx context.Context, userID, timeframe string) (*domain.Analytics, error) {
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	window, ok := timeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: unknown timeframe %q", domain.ErrInvalidInput, timeframe)
	}

	if s.cache != nil {
		cached, found, err := s.cache.GetAnalytics(ctx, userID, timeframe)
		if err != nil {
			s.logger.WithError(err).Warn("Analytics cache read failed")
		} else if found {
			return cached, nil
		}
	}

	now := s.now()
	since := now.Add(-window)
	stats, err := s.repo.DiagnosisStats(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("loading analytics: %w", err)
	}

	analytics := &domain.Analytics{
		Timeframe:   timeframe,
		Since:       since,
		ByDiagnosis: stats,
		GeneratedAt: now,
	}
	for _, stat := range stats {
		analytics.Total += stat.Count
	}

	if s.cache != nil {
		if err := s.cache.SetAnalytics(ctx, userID, analytics); err != nil {
			s.logger.WithError(err).Warn("Analytics cache write failed")
		}
	}
	return analytics, nil
}

func (s *DiagnosisService) storeImage(ctx context.Context, sub *Submission) *domain.StoredImage {
	if s.images == nil {
		return nil
	}
	stored, err := s.images.Put(ctx, sub.Upload.Filename, sub.Upload.MimeType, sub.Image)
	if err != nil {
		s.logger.WithError(err).WithField("filename", sub.Upload.Filename).
			Warn("Image upload failed, using local placeholder")
		return nil
	}
	return stored
}

func (s *DiagnosisService) publishRouting(ctx context.Context, record *domain.CombinedDiagnosis) {
	if s.events == nil {
		return
	}
	routing := record.SpecialistRouting
	if !routing.IsRoutingRequired && !record.ShouldRouteToSpecialist() {
		return
	}

	result := record.Predictions.CombinedResult
	event := &domain.RoutingEvent{
		RecordID:              record.ID,
		UserID:                record.UserID,
		FinalDiagnosis:        result.FinalDiagnosis,
		OverallConfidence:     result.OverallConfidence,
		UrgencyLevel:          result.UrgencyLevel,
		RecommendedSpecialist: RecommendSpecialist(result.FinalDiagnosis),
		RoutingUrgency:        routingUrgencyForLevel(result.UrgencyLevel),
		OccurredAt:            s.now(),
	}
	if routing.IsRoutingRequired {
		event.RoutingUrgency = routing.Urgency
		if routing.RecommendedSpecialist != nil {
			event.RecommendedSpecialist = *routing.RecommendedSpecialist
		}
	}

	if err := s.events.PublishRouting(ctx, event); err != nil {
		s.logger.WithError(err).WithField("record_id", record.ID).Warn("Failed to publish routing event")
	}
}

func (s *DiagnosisService) invalidateAnalytics(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate analytics cache")
	}
}

func (s *DiagnosisService) observeFailure(err error, startTime time.Time) {
	outcome := metrics.OutcomeStorageError
	switch {
	case errors.Is(err, domain.ErrUpstreamProtocol):
		outcome = metrics.OutcomeProtocolError
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		outcome = metrics.OutcomeUnavailable
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, domain.ErrInvalidInput):
		outcome = metrics.OutcomeValidationFailed
	}
	s.metrics.ObserveSubmission(outcome, time.Since(startTime))
}

func routingUrgencyForLevel(level domain.UrgencyLevel) domain.RoutingUrgency {
	switch level {
	case domain.UrgencyEmergency:
		return domain.RoutingEmergency
	case domain.UrgencyHigh:
		return domain.RoutingUrgent
	default:
		return domain.RoutingRoutine
	}
}

func newAnalysisView(record *domain.CombinedDiagnosis, p *domain.Prediction, enrichment *Enrichment) *AnalysisView {
	result := record.Predictions.CombinedResult
	img := p.ImageAnalysis()
	return &AnalysisView{
		RecordID:          record.ID,
		Prediction:        img.Disease,
		ConfidenceFloat:   img.ConfidenceFloat,
		TopPredictions:    img.TopPredictions,
		Type:              p.Type,
		SymptomPred:       p.SymptomPred,
		SymptomAgrees:     p.SymptomAgrees,
		Heuristics:        p.Heuristics,
		OODScores:         p.OODScores,
		ImageURL:          record.ImageData.OriginalURL,
		UrgencyLevel:      result.UrgencyLevel,
		Recommendations:   result.Recommendations,
		SpecialistRouting: record.SpecialistRouting,
		Enrichment:        enrichment,
		ProcessingTimeMs:  record.ProcessingTimeMs,
		CreatedAt:         record.CreatedAt,
	}
}
