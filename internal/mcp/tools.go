package mcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/service"
)

const (
	toolAnalyzeSymptoms    = "analyze_symptoms"
	toolCombineConfidence  = "combine_confidence"
	toolAssessUrgency      = "assess_urgency"
	toolDeriveUrgencyLevel = "derive_urgency_level"
)

// AnalyzeSymptomsParams defines parameters for the analyze_symptoms tool
type AnalyzeSymptomsParams struct {
	Symptoms string `json:"symptoms" jsonschema:"free-text description of the patient's eye symptoms"`
}

// CombineConfidenceParams defines parameters for the combine_confidence tool
type CombineConfidenceParams struct {
	ImageConfidence float64 `json:"image_confidence" jsonschema:"classifier confidence between 0 and 1"`
	Symptoms        string  `json:"symptoms,omitempty" jsonschema:"optional symptom text to blend in"`
}

// CombineConfidenceResult defines the result of the combine_confidence tool
type CombineConfidenceResult struct {
	Confidence      float64                `json:"confidence"`
	ConfidenceLevel domain.ConfidenceLevel `json:"confidence_level"`
	Consistency     float64                `json:"consistency"`
	Explanation     string                 `json:"explanation"`
}

// AssessUrgencyParams defines parameters for the assess_urgency tool
type AssessUrgencyParams struct {
	Diagnosis  string  `json:"diagnosis" jsonschema:"classifier label such as glaucoma or diabetic_retinopathy"`
	Confidence float64 `json:"confidence" jsonschema:"diagnosis confidence between 0 and 1"`
	Symptoms   string  `json:"symptoms,omitempty" jsonschema:"optional symptom text"`
}

// AssessUrgencyResult defines the result of the assess_urgency tool
type AssessUrgencyResult struct {
	UrgencyScore          int                   `json:"urgency_score"`
	NeedsReferral         bool                  `json:"needs_referral"`
	RecommendedSpecialist domain.Specialist     `json:"recommended_specialist"`
	RoutingUrgency        domain.RoutingUrgency `json:"routing_urgency"`
	Recommendations       []string              `json:"recommendations"`
}

// DeriveUrgencyLevelParams defines parameters for the derive_urgency_level tool
type DeriveUrgencyLevelParams struct {
	Diagnosis  string  `json:"diagnosis" jsonschema:"classifier label"`
	Confidence float64 `json:"confidence" jsonschema:"classifier confidence between 0 and 1"`
}

// DeriveUrgencyLevelResult defines the result of the derive_urgency_level tool
type DeriveUrgencyLevelResult struct {
	UrgencyLevel domain.UrgencyLevel `json:"urgency_level"`
}

var errMissingParam = errors.New("missing required parameter")

func (s *Server) handleAnalyzeSymptoms(ctx context.Context, req *mcp.CallToolRequest, params AnalyzeSymptomsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", toolAnalyzeSymptoms).Info("Tool invoked")

	if strings.TrimSpace(params.Symptoms) == "" {
		return errorResult(fmt.Errorf("%w: symptoms", errMissingParam)), nil, nil
	}

	report := service.BuildSymptomReport(params.Symptoms)
	return textResult(fmt.Sprintf("%s (confidence %.0f%%, urgency %d/10)",
		report.Summary, report.Confidence*100, report.UrgencyScore)), report, nil
}

func (s *Server) handleCombineConfidence(ctx context.Context, req *mcp.CallToolRequest, params CombineConfidenceParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", toolCombineConfidence).Info("Tool invoked")

	if !validConfidence(params.ImageConfidence) {
		return errorResult(fmt.Errorf("image_confidence must be between 0 and 1, got %v", params.ImageConfidence)), nil, nil
	}

	analysis := service.AnalyzeSymptoms(params.Symptoms)
	combined := service.CombineConfidence(params.ImageConfidence, analysis, s.weights)
	result := CombineConfidenceResult{
		Confidence:      combined,
		ConfidenceLevel: service.ConfidenceLevelFor(combined),
		Consistency:     service.ConsistencyScore(params.ImageConfidence, analysis),
		Explanation:     service.ExplainConfidence(combined, params.ImageConfidence, analysis),
	}
	return textResult(fmt.Sprintf("Combined confidence %.3f (%s)", result.Confidence, result.ConfidenceLevel)), result, nil
}

func (s *Server) handleAssessUrgency(ctx context.Context, req *mcp.CallToolRequest, params AssessUrgencyParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", toolAssessUrgency).Info("Tool invoked")

	if strings.TrimSpace(params.Diagnosis) == "" {
		return errorResult(fmt.Errorf("%w: diagnosis", errMissingParam)), nil, nil
	}
	if !validConfidence(params.Confidence) {
		return errorResult(fmt.Errorf("confidence must be between 0 and 1, got %v", params.Confidence)), nil, nil
	}

	var analysis *domain.SymptomAnalysis
	if strings.TrimSpace(params.Symptoms) != "" {
		analysis = service.AnalyzeSymptoms(params.Symptoms)
	}

	score := service.ScoreUrgency(params.Confidence, params.Diagnosis, analysis)
	result := AssessUrgencyResult{
		UrgencyScore:          score,
		NeedsReferral:         service.NeedsReferral(params.Confidence, params.Diagnosis, score, analysis),
		RecommendedSpecialist: service.RecommendSpecialist(params.Diagnosis),
		RoutingUrgency:        service.RoutingUrgencyFor(score),
		Recommendations:       service.GenerateRecommendations(params.Confidence, params.Diagnosis, score, analysis),
	}

	text := fmt.Sprintf("Urgency %d/10 for %s", score, params.Diagnosis)
	if result.NeedsReferral {
		text += fmt.Sprintf("; refer to %s (%s)", result.RecommendedSpecialist, result.RoutingUrgency)
	}
	return textResult(text), result, nil
}

func (s *Server) handleDeriveUrgencyLevel(ctx context.Context, req *mcp.CallToolRequest, params DeriveUrgencyLevelParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", toolDeriveUrgencyLevel).Info("Tool invoked")

	if strings.TrimSpace(params.Diagnosis) == "" {
		return errorResult(fmt.Errorf("%w: diagnosis", errMissingParam)), nil, nil
	}
	if !validConfidence(params.Confidence) {
		return errorResult(fmt.Errorf("confidence must be between 0 and 1, got %v", params.Confidence)), nil, nil
	}

	result := DeriveUrgencyLevelResult{UrgencyLevel: service.DeriveUrgencyLevel(params.Diagnosis, params.Confidence)}
	return textResult(fmt.Sprintf("Urgency level: %s", result.UrgencyLevel)), result, nil
}

func validConfidence(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult reports a tool-level failure to the client without failing
// the protocol exchange.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}
}
