package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const (
	predictPath          = "/api/predict"
	defaultPredictURL    = "http://127.0.0.1:7000"
	defaultTimeout       = 30 * time.Second
	defaultRateLimit     = 5
	defaultBreakerRatio  = 0.6
	defaultBreakerWindow = 30 * time.Second
	defaultBreakerOpen   = 60 * time.Second
	maxResponseBytes     = 1 << 20
)

// PredictClient calls the image classification service over multipart HTTP.
type PredictClient struct {
	endpoint   string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	relax      bool
	logger     *logrus.Logger
}

// predictResponse is the classifier's JSON body. Pointers distinguish
// missing fields from zero values.
type predictResponse struct {
	OK            *bool                    `json:"ok"`
	Rejected      bool                     `json:"rejected"`
	Reason        string                   `json:"reason"`
	Error         string                   `json:"error"`
	Type          string                   `json:"type"`
	Prediction    string                   `json:"prediction"`
	Confidence    *float64                 `json:"confidence"`
	Top3          []domain.LabelConfidence `json:"top3"`
	SymptomPred   *string                  `json:"symptom_pred"`
	SymptomAgrees *bool                    `json:"symptom_agrees"`
	Heuristics    map[string]any           `json:"heuristics"`
	OODScores     map[string]any           `json:"ood_scores"`
}

// NewPredictClient creates a classifier client from configuration
func NewPredictClient(config domain.ClassifierConfig, logger *logrus.Logger) *PredictClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultPredictURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Burst == 0 {
		config.Burst = 1
	}
	if config.BreakerRatio == 0 {
		config.BreakerRatio = defaultBreakerRatio
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = defaultBreakerOpen
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PredictService",
		MaxRequests: 3,
		Interval:    defaultBreakerWindow,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= config.BreakerRatio
		},
		// Only transport-level failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrUpstreamUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &PredictClient{
		endpoint: strings.TrimSuffix(config.BaseURL, "/") + predictPath,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		breaker:   breaker,
		relax:     config.Relax,
		logger:    logger,
	}
}

// Predict sends one image to the classifier. Transport failures, timeouts,
// non-2xx statuses and an open breaker return ErrUpstreamUnavailable;
// a body that is neither a rejection nor a well-formed prediction returns
// ErrUpstreamProtocol.
func (c *PredictClient) Predict(ctx context.Context, req *domain.PredictRequest) (*domain.ProviderResponse, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait failed: %v", domain.ErrUpstreamUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: predict service circuit breaker open", domain.ErrUpstreamUnavailable)
		}
		return nil, err
	}

	return result.(*domain.ProviderResponse), nil
}

// State reports the circuit breaker state for health checks.
func (c *PredictClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *PredictClient) post(ctx context.Context, req *domain.PredictRequest) (*domain.ProviderResponse, error) {
	body, contentType, err := c.encodeForm(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrUpstreamUnavailable, err)
	}

	c.logger.WithFields(logrus.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
		"image_type":  req.ImageType,
	}).Debug("Predict service responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: predict service returned status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	return decodePredictResponse(raw)
}

func (c *PredictClient) encodeForm(req *domain.PredictRequest) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	filename := req.Filename
	if filename == "" {
		filename = "upload.jpg"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if req.ContentType != "" {
		header.Set("Content-Type", req.ContentType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.ImageBytes); err != nil {
		return nil, "", err
	}

	imageType := req.ImageType
	if imageType == "" {
		imageType = domain.ImageTypeFundus
	}
	if err := writer.WriteField("image_type", string(imageType)); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("symptoms", req.SymptomsText); err != nil {
		return nil, "", err
	}
	if req.Relax || c.relax {
		if err := writer.WriteField("relax", "1"); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func decodePredictResponse(raw []byte) (*domain.ProviderResponse, error) {
	var body predictResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON: %v", domain.ErrInvalidUpstreamResponse, err)
	}

	if body.Rejected {
		return &domain.ProviderResponse{Rejected: &domain.Rejection{
			Reason:     body.Reason,
			Heuristics: body.Heuristics,
			OODScores:  body.OODScores,
		}}, nil
	}

	switch {
	case body.OK == nil || !*body.OK:
		if body.Error != "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidUpstreamResponse, body.Error)
		}
		return nil, fmt.Errorf("%w: ok flag not set", domain.ErrInvalidUpstreamResponse)
	case strings.TrimSpace(body.Prediction) == "":
		return nil, fmt.Errorf("%w: missing prediction label", domain.ErrInvalidUpstreamResponse)
	case body.Confidence == nil:
		return nil, fmt.Errorf("%w: missing confidence", domain.ErrInvalidUpstreamResponse)
	}

	top3 := body.Top3
	if top3 == nil {
		top3 = []domain.LabelConfidence{}
	}

	return &domain.ProviderResponse{Accepted: &domain.Prediction{
		OK:            true,
		Label:         body.Prediction,
		Confidence:    *body.Confidence,
		Top3:          top3,
		Type:          body.Type,
		SymptomPred:   body.SymptomPred,
		SymptomAgrees: body.SymptomAgrees,
		Heuristics:    body.Heuristics,
		OODScores:     body.OODScores,
	}}, nil
}
