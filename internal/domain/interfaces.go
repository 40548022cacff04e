package domain

import (
	"context"
	"time"
)

// ResultProvider is the remote image classifier.
// Implementations return ErrUpstreamProtocol for malformed responses and
// ErrUpstreamUnavailable for transport failures and timeouts.
type ResultProvider interface {
	Predict(ctx context.Context, req *PredictRequest) (*ProviderResponse, error)
}

// DiagnosisRepository defines the interface for diagnosis record persistence
type DiagnosisRepository interface {
	Save(ctx context.Context, record *CombinedDiagnosis) error
	FindByID(ctx context.Context, id string) (*CombinedDiagnosis, error)
	FindByUser(ctx context.Context, userID string, query HistoryQuery) ([]*CombinedDiagnosis, error)
	CountByUser(ctx context.Context, userID string, query HistoryQuery) (int, error)
	Delete(ctx context.Context, id string) error
	SetArchived(ctx context.Context, id string, archived bool) error
	UpdateFeedback(ctx context.Context, id string, feedback *Feedback) error
	UpdateRouting(ctx context.Context, id string, routing SpecialistRouting) error
	DiagnosisStats(ctx context.Context, userID string, since time.Time) ([]DiagnosisStat, error)
	Close() error
}

// ImageStore persists uploaded images
type ImageStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (*StoredImage, error)
}

// EventPublisher announces records that need a specialist
type EventPublisher interface {
	PublishRouting(ctx context.Context, event *RoutingEvent) error
	Close() error
}

// AnalyticsCache caches per-user analytics
type AnalyticsCache interface {
	GetAnalytics(ctx context.Context, userID, timeframe string) (*Analytics, bool, error)
	SetAnalytics(ctx context.Context, userID string, analytics *Analytics) error
	Invalidate(ctx context.Context, userID string) error
}

// RoutingEvent is published when a completed record needs a specialist
type RoutingEvent struct {
	RecordID              string         `json:"record_id"`
	UserID                string         `json:"user_id"`
	FinalDiagnosis        string         `json:"final_diagnosis"`
	OverallConfidence     float64        `json:"overall_confidence"`
	UrgencyLevel          UrgencyLevel   `json:"urgency_level"`
	RecommendedSpecialist Specialist     `json:"recommended_specialist"`
	RoutingUrgency        RoutingUrgency `json:"routing_urgency"`
	OccurredAt            time.Time      `json:"occurred_at"`
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}
