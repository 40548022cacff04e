package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/metrics"
)

// MockResultProvider is a mock implementation of domain.ResultProvider
type MockResultProvider struct {
	mock.Mock
}

func (m *MockResultProvider) Predict(ctx context.Context, req *domain.PredictRequest) (*domain.ProviderResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProviderResponse), args.Error(1)
}

// MockDiagnosisRepository is a mock implementation of domain.DiagnosisRepository
type MockDiagnosisRepository struct {
	mock.Mock
}

func (m *MockDiagnosisRepository) Save(ctx context.Context, record *domain.CombinedDiagnosis) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockDiagnosisRepository) FindByID(ctx context.Context, id string) (*domain.CombinedDiagnosis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CombinedDiagnosis), args.Error(1)
}

func (m *MockDiagnosisRepository) FindByUser(ctx context.Context, userID string, query domain.HistoryQuery) ([]*domain.CombinedDiagnosis, error) {
	args := m.Called(ctx, userID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CombinedDiagnosis), args.Error(1)
}

func (m *MockDiagnosisRepository) CountByUser(ctx context.Context, userID string, query domain.HistoryQuery) (int, error) {
	args := m.Called(ctx, userID, query)
	return args.Int(0), args.Error(1)
}

func (m *MockDiagnosisRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDiagnosisRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	return m.Called(ctx, id, archived).Error(0)
}

func (m *MockDiagnosisRepository) UpdateFeedback(ctx context.Context, id string, feedback *domain.Feedback) error {
	return m.Called(ctx, id, feedback).Error(0)
}

func (m *MockDiagnosisRepository) UpdateRouting(ctx context.Context, id string, routing domain.SpecialistRouting) error {
	return m.Called(ctx, id, routing).Error(0)
}

func (m *MockDiagnosisRepository) DiagnosisStats(ctx context.Context, userID string, since time.Time) ([]domain.DiagnosisStat, error) {
	args := m.Called(ctx, userID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DiagnosisStat), args.Error(1)
}

func (m *MockDiagnosisRepository) Close() error {
	return m.Called().Error(0)
}

type recordingPublisher struct {
	events []*domain.RoutingEvent
	err    error
}

func (p *recordingPublisher) PublishRouting(_ context.Context, event *domain.RoutingEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type mapCache struct {
	entries     map[string]*domain.Analytics
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]*domain.Analytics{}}
}

func (c *mapCache) GetAnalytics(_ context.Context, userID, timeframe string) (*domain.Analytics, bool, error) {
	a, ok := c.entries[userID+":"+timeframe]
	return a, ok, nil
}

func (c *mapCache) SetAnalytics(_ context.Context, userID string, analytics *domain.Analytics) error {
	c.entries[userID+":"+analytics.Timeframe] = analytics
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userID string) error {
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type failingImageStore struct{}

func (failingImageStore) Put(context.Context, string, string, []byte) (*domain.StoredImage, error) {
	return nil, errors.New("bucket unavailable")
}

func newTestService(provider *MockResultProvider, repo *MockDiagnosisRepository, opts ...DiagnosisServiceOption) *DiagnosisService {
	s := NewDiagnosisService(newTestLogger(), provider, repo, newTestBuilder(), opts...)
	s.now = func() time.Time { return fixedNow }
	return s
}

func testSubmission() *Submission {
	return &Submission{
		UserID:       "user-1",
		Image:        []byte{0xff, 0xd8, 0xff},
		Upload:       domain.UploadMeta{Filename: "left_eye.jpg", MimeType: "image/jpeg", Size: 3},
		SymptomsText: "I have blurred vision and floaters, my vision is getting worse",
		ImageType:    domain.ImageTypeFundus,
	}
}

func TestDiagnosisService_Analyze_Accepted(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	cache := newMapCache()
	collector := metrics.NewCollector()

	agrees := true
	prediction := acceptedPrediction("diabetic_retinopathy", 0.96)
	prediction.SymptomAgrees = &agrees
	provider.On("Predict", mock.Anything, mock.MatchedBy(func(req *domain.PredictRequest) bool {
		return req.Filename == "left_eye.jpg" && req.ImageType == domain.ImageTypeFundus && !req.Relax
	})).Return(&domain.ProviderResponse{Accepted: prediction}, nil)
	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.CombinedDiagnosis")).Return(nil)

	s := newTestService(provider, repo, WithAnalyticsCache(cache), WithMetrics(collector))

	outcome, err := s.Analyze(context.Background(), testSubmission())
	require.NoError(t, err)
	require.Nil(t, outcome.Rejected)
	require.NotNil(t, outcome.View)

	view := outcome.View
	assert.Equal(t, "rec-1", view.RecordID)
	assert.Equal(t, "diabetic_retinopathy", view.Prediction)
	assert.Equal(t, 0.96, view.ConfidenceFloat)
	assert.Equal(t, prediction.Top3, view.TopPredictions)
	assert.Equal(t, domain.UrgencyEmergency, view.UrgencyLevel)
	assert.Equal(t, "local://left_eye.jpg", view.ImageURL)
	assert.Equal(t, genericRecommendations, view.Recommendations)
	assert.Equal(t, &agrees, view.SymptomAgrees)
	assert.Nil(t, view.Enrichment)

	saved := repo.Calls[0].Arguments.Get(1).(*domain.CombinedDiagnosis)
	assert.Equal(t, domain.StatusCompleted, saved.Status)
	assert.GreaterOrEqual(t, saved.ProcessingTimeMs, int64(0))
	assert.Equal(t, []string{"user-1"}, cache.invalidated)

	provider.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestDiagnosisService_Analyze_Rejected(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	publisher := &recordingPublisher{}

	provider.On("Predict", mock.Anything, mock.Anything).Return(&domain.ProviderResponse{
		Rejected: &domain.Rejection{OODScores: map[string]any{"energy": 12.5}},
	}, nil)

	s := newTestService(provider, repo, WithEventPublisher(publisher))

	outcome, err := s.Analyze(context.Background(), testSubmission())
	require.NoError(t, err)
	require.NotNil(t, outcome.Rejected)
	assert.Nil(t, outcome.View)
	assert.Equal(t, domain.DefaultRejectionReason, outcome.Rejected.Reason)
	assert.Equal(t, 12.5, outcome.Rejected.OODScores["energy"])

	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	assert.Empty(t, publisher.events)
}

func TestDiagnosisService_Analyze_Errors(t *testing.T) {
	tests := []struct {
		name     string
		response *domain.ProviderResponse
		err      error
		wantErr  error
	}{
		{
			name:     "ok false is a protocol error",
			response: &domain.ProviderResponse{Accepted: &domain.Prediction{OK: false, Label: "glaucoma", Confidence: 0.9}},
			wantErr:  domain.ErrUpstreamProtocol,
		},
		{
			name:     "empty response is a protocol error",
			response: &domain.ProviderResponse{},
			wantErr:  domain.ErrUpstreamProtocol,
		},
		{
			name:    "transport failure",
			err:     domain.ErrUpstreamUnavailable,
			wantErr: domain.ErrUpstreamUnavailable,
		},
		{
			name:     "out of range confidence fails validation",
			response: &domain.ProviderResponse{Accepted: acceptedPrediction("glaucoma", 1.5)},
			wantErr:  domain.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(MockResultProvider)
			repo := new(MockDiagnosisRepository)
			if tt.response != nil {
				provider.On("Predict", mock.Anything, mock.Anything).Return(tt.response, nil)
			} else {
				provider.On("Predict", mock.Anything, mock.Anything).Return(nil, tt.err)
			}

			s := newTestService(provider, repo, WithMetrics(metrics.NewCollector()))

			outcome, err := s.Analyze(context.Background(), testSubmission())
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestDiagnosisService_Analyze_InvalidSubmission(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	s := newTestService(provider, repo)

	sub := testSubmission()
	sub.Image = nil
	_, err := s.Analyze(context.Background(), sub)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	sub = testSubmission()
	sub.UserID = " "
	_, err = s.Analyze(context.Background(), sub)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	provider.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestDiagnosisService_Analyze_DescriptionTooLong(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	provider.On("Predict", mock.Anything, mock.Anything).
		Return(&domain.ProviderResponse{Accepted: acceptedPrediction("glaucoma", 0.8)}, nil)

	s := newTestService(provider, repo)

	sub := testSubmission()
	sub.SymptomsText = strings.Repeat("pressure behind my eyes, ", 45)
	outcome, err := s.Analyze(context.Background(), sub)
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestDiagnosisService_Analyze_SaveFailure(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	provider.On("Predict", mock.Anything, mock.Anything).
		Return(&domain.ProviderResponse{Accepted: acceptedPrediction("cataracts", 0.8)}, nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	s := newTestService(provider, repo)

	_, err := s.Analyze(context.Background(), testSubmission())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving diagnosis record")
}

func TestDiagnosisService_Analyze_EnrichmentAndRouting(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	publisher := &recordingPublisher{err: errors.New("broker down")}

	provider.On("Predict", mock.Anything, mock.Anything).
		Return(&domain.ProviderResponse{Accepted: acceptedPrediction("glaucoma", 0.55)}, nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	s := newTestService(provider, repo,
		WithEnrichment(true),
		WithEventPublisher(publisher),
		WithImageStore(failingImageStore{}),
	)

	outcome, err := s.Analyze(context.Background(), testSubmission())
	require.NoError(t, err, "publish and upload failures must not fail the request")

	view := outcome.View
	require.NotNil(t, view.Enrichment)
	assert.True(t, view.Enrichment.NeedsReferral)
	assert.True(t, view.SpecialistRouting.IsRoutingRequired)
	assert.Greater(t, len(view.Recommendations), len(genericRecommendations))
	assert.Equal(t, "local://left_eye.jpg", view.ImageURL)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, "rec-1", event.RecordID)
	assert.Equal(t, domain.SpecialistGlaucomaSpecialist, event.RecommendedSpecialist)
	assert.Equal(t, view.SpecialistRouting.Urgency, event.RoutingUrgency)
}

func TestDiagnosisService_Analyze_RoutingWithoutEnrichment(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	publisher := &recordingPublisher{}

	provider.On("Predict", mock.Anything, mock.Anything).
		Return(&domain.ProviderResponse{Accepted: acceptedPrediction("Retinal Detachment", 0.9)}, nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	s := newTestService(provider, repo, WithEventPublisher(publisher))

	_, err := s.Analyze(context.Background(), testSubmission())
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, domain.SpecialistRetinalSpecialist, publisher.events[0].RecommendedSpecialist)
	assert.Equal(t, domain.RoutingUrgent, publisher.events[0].RoutingUrgency)
	assert.Equal(t, domain.UrgencyHigh, publisher.events[0].UrgencyLevel)
}

func TestDiagnosisService_Analyze_NoRoutingForConfidentNormal(t *testing.T) {
	provider := new(MockResultProvider)
	repo := new(MockDiagnosisRepository)
	publisher := &recordingPublisher{}

	provider.On("Predict", mock.Anything, mock.Anything).
		Return(&domain.ProviderResponse{Accepted: acceptedPrediction("normal", 0.98)}, nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	s := newTestService(provider, repo, WithEventPublisher(publisher))

	_, err := s.Analyze(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Empty(t, publisher.events)
}

func storedRecord(id, owner string) *domain.CombinedDiagnosis {
	b := newTestBuilder()
	b.newID = func() string { return id }
	in := buildInput(acceptedPrediction("glaucoma", 0.9))
	in.UserID = owner
	built, err := b.Build(in)
	if err != nil {
		panic(err)
	}
	return built.Record
}

func TestDiagnosisService_Get(t *testing.T) {
	repo := new(MockDiagnosisRepository)
	repo.On("FindByID", mock.Anything, "rec-1").Return(storedRecord("rec-1", "owner"), nil)
	repo.On("FindByID", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	s := newTestService(new(MockResultProvider), repo)
	ctx := context.Background()

	record, err := s.Get(ctx, domain.Caller{UserID: "owner", Role: domain.RoleUser}, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)

	_, err = s.Get(ctx, domain.Caller{UserID: "admin-1", Role: domain.RoleAdmin}, "rec-1")
	assert.NoError(t, err)

	_, err = s.Get(ctx, domain.Caller{UserID: "intruder", Role: domain.RoleUser}, "rec-1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.Get(ctx, domain.Caller{UserID: "owner", Role: domain.RoleUser}, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDiagnosisService_History(t *testing.T) {
	repo := new(MockDiagnosisRepository)
	records := []*domain.CombinedDiagnosis{storedRecord("a", "user-1"), storedRecord("b", "user-1")}
	expected := domain.HistoryQuery{Page: 1, Limit: 100, Statuses: []domain.RecordStatus{domain.StatusCompleted}}
	repo.On("FindByUser", mock.Anything, "user-1", expected).Return(records, nil)
	repo.On("CountByUser", mock.Anything, "user-1", expected).Return(201, nil)

	s := newTestService(new(MockResultProvider), repo)

	page, err := s.History(context.Background(), "user-1", domain.HistoryQuery{
		Page:     0,
		Limit:    500,
		Statuses: []domain.RecordStatus{domain.StatusCompleted},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.Limit)
	assert.Equal(t, 201, page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Len(t, page.Records, 2)

	_, err = s.History(context.Background(), "user-1", domain.HistoryQuery{Statuses: []domain.RecordStatus{"bogus"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDiagnosisService_DeleteAndArchive(t *testing.T) {
	repo := new(MockDiagnosisRepository)
	cache := newMapCache()
	repo.On("FindByID", mock.Anything, "rec-1").Return(storedRecord("rec-1", "owner"), nil)
	repo.On("Delete", mock.Anything, "rec-1").Return(nil)
	repo.On("SetArchived", mock.Anything, "rec-1", true).Return(nil)

	s := newTestService(new(MockResultProvider), repo, WithAnalyticsCache(cache))
	owner := domain.Caller{UserID: "owner", Role: domain.RoleUser}

	require.NoError(t, s.Archive(context.Background(), owner, "rec-1", true))
	require.NoError(t, s.Delete(context.Background(), owner, "rec-1"))
	assert.Equal(t, []string{"owner", "owner"}, cache.invalidated)

	err := s.Delete(context.Background(), domain.Caller{UserID: "other"}, "rec-1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	repo.AssertNumberOfCalls(t, "Delete", 1)
}

func TestDiagnosisService_SubmitFeedback(t *testing.T) {
	repo := new(MockDiagnosisRepository)
	repo.On("FindByID", mock.Anything, "rec-1").Return(storedRecord("rec-1", "owner"), nil)
	repo.On("UpdateFeedback", mock.Anything, "rec-1", mock.AnythingOfType("*domain.Feedback")).Return(nil)

	s := newTestService(new(MockResultProvider), repo)
	owner := domain.Caller{UserID: "owner", Role: domain.RoleUser}

	record, err := s.SubmitFeedback(context.Background(), owner, "rec-1", &domain.Feedback{Accuracy: 4, Helpful: true})
	require.NoError(t, err)
	require.NotNil(t, record.Feedback)
	assert.Equal(t, "owner", record.Feedback.ProvidedBy)
	assert.Equal(t, fixedNow, record.UpdatedAt)

	_, err = s.SubmitFeedback(context.Background(), owner, "rec-1", &domain.Feedback{Accuracy: 6})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	repo.AssertNumberOfCalls(t, "UpdateFeedback", 1)
}

func TestDiagnosisService_UpdateRouting(t *testing.T) {
	repo := new(MockDiagnosisRepository)
	repo.On("FindByID", mock.Anything, "rec-1").Return(storedRecord("rec-1", "owner"), nil)
	repo.On("UpdateRouting", mock.Anything, "rec-1", mock.AnythingOfType("domain.SpecialistRouting")).Return(nil)

	s := newTestService(new(MockResultProvider), repo)
	admin := domain.Caller{UserID: "admin-1", Role: domain.RoleAdmin}

	assigned := "Dr. Osei"
	status := domain.ConsultationScheduled
	record, err := s.UpdateRouting(context.Background(), admin, "rec-1", &domain.RoutingUpdate{
		AssignedSpecialist: &assigned,
		ConsultationStatus: &status,
	})
	require.NoError(t, err)

	routing := record.SpecialistRouting
	assert.True(t, routing.IsRoutingRequired)
	assert.Equal(t, &assigned, routing.AssignedSpecialist)
	assert.Equal(t, domain.ConsultationScheduled, routing.ConsultationStatus)
	require.NotNil(t, routing.RoutingDate)
	assert.Equal(t, fixedNow, *routing.RoutingDate)

	bad := domain.RoutingUrgency("whenever")
	_, err = s.UpdateRouting(context.Background(), admin, "rec-1", &domain.RoutingUpdate{Urgency: &bad})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestDiagnosisService_Analytics(t *testing.T) {
	repo := new(MockDiagnosisRepository)
	cache := newMapCache()
	stats := []domain.DiagnosisStat{
		{Diagnosis: "glaucoma", Count: 3, AvgConfidence: 0.8},
		{Diagnosis: "cataracts", Count: 2, AvgConfidence: 0.7},
	}
	repo.On("DiagnosisStats", mock.Anything, "user-1", fixedNow.Add(-7*24*time.Hour)).Return(stats, nil).Once()

	s := newTestService(new(MockResultProvider), repo, WithAnalyticsCache(cache))

	analytics, err := s.Analytics(context.Background(), "user-1", "7d")
	require.NoError(t, err)
	assert.Equal(t, 5, analytics.Total)
	assert.Equal(t, "7d", analytics.Timeframe)
	assert.Equal(t, stats, analytics.ByDiagnosis)

	cached, err := s.Analytics(context.Background(), "user-1", "7d")
	require.NoError(t, err)
	assert.Same(t, analytics, cached)
	repo.AssertNumberOfCalls(t, "DiagnosisStats", 1)

	_, err = s.Analytics(context.Background(), "user-1", "1y")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDiagnosisService_AnalyticsDefaultTimeframe(t *testing.T) {
	repo := new(MockDiagnosisRepository)
	repo.On("DiagnosisStats", mock.Anything, "user-1", fixedNow.Add(-30*24*time.Hour)).Return([]domain.DiagnosisStat{}, nil)

	s := newTestService(new(MockResultProvider), repo)

	analytics, err := s.Analytics(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, "30d", analytics.Timeframe)
	assert.Zero(t, analytics.Total)
}

func TestBuildSymptomReport(t *testing.T) {
	report := BuildSymptomReport("I have blurred vision and floaters, my vision is getting worse")

	assert.InDelta(t, 0.2, report.Confidence, 1e-9)
	assert.Equal(t, domain.ConfidenceVeryLow, report.ConfidenceLevel)
	assert.True(t, report.NeedsReferral)
	assert.True(t, report.Validation.IsValid)
	assert.Contains(t, report.Summary, "diabetic retinopathy")
	// diabetic_retinopathy 5, low confidence -1, moderate text urgency +1, moderate severity +1
	assert.Equal(t, 6, report.UrgencyScore)
	assert.Contains(t, report.Recommendations, "Monitor blood sugar levels closely")

	assert.Equal(t, 62, report.Features.TextLength)
	assert.Equal(t, len(report.Analysis.Keywords), report.Features.WordCount)
	assert.Equal(t, 2, report.Features.SeverityScore)
	assert.Equal(t, 0, report.Features.DurationScore)
	assert.Equal(t, 2, report.Features.UrgencyScore)

	empty := BuildSymptomReport("")
	assert.Zero(t, empty.Confidence)
	assert.Equal(t, TextFeatures{UrgencyScore: 1}, empty.Features)
	assert.False(t, empty.Validation.IsValid)
}
