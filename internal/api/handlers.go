package api

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/middleware"
	"github.com/sympfindx-diagnosis-server/internal/service"
)

const defaultMaxUploadBytes = 10 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

type archiveRequest struct {
	Archived *bool `json:"archived"`
}

type symptomsRequest struct {
	Symptoms string `json:"symptoms" binding:"required"`
}

func (s *Server) caller(c *gin.Context) domain.Caller {
	caller, _ := middleware.GetCaller(c)
	return caller
}

// handleAnalyze accepts a multipart upload and runs the diagnosis pipeline
func (s *Server) handleAnalyze(c *gin.Context) {
	maxBytes := s.config.Server.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	// Leave room for the text fields around the file part.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+(1<<20))

	sub, err := s.readSubmission(c, maxBytes)
	if err != nil {
		s.respondError(c, err)
		return
	}

	outcome, err := s.service.Analyze(c.Request.Context(), sub)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if outcome.Rejected != nil {
		respondData(c, http.StatusOK, gin.H{
			"rejected":   true,
			"reason":     outcome.Rejected.Reason,
			"heuristics": outcome.Rejected.Heuristics,
			"ood_scores": outcome.Rejected.OODScores,
		})
		return
	}
	respondData(c, http.StatusCreated, outcome.View)
}

func (s *Server) readSubmission(c *gin.Context, maxBytes int64) (*service.Submission, error) {
	header, err := c.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("%w: image file is required", domain.ErrInvalidInput)
	}
	if header.Size > maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrInvalidInput, maxBytes)
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image: %v", domain.ErrInvalidInput, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image: %v", domain.ErrInvalidInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", domain.ErrInvalidInput)
	}

	mimeType := http.DetectContentType(data)
	if !allowedImageTypes[mimeType] {
		mimeType = strings.ToLower(header.Header.Get("Content-Type"))
	}
	if !allowedImageTypes[mimeType] {
		return nil, fmt.Errorf("%w: unsupported image type %q", domain.ErrInvalidInput, mimeType)
	}

	upload := domain.UploadMeta{
		Filename: header.Filename,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		upload.Width, upload.Height = cfg.Width, cfg.Height
	}

	sub := &service.Submission{
		UserID:       s.caller(c).UserID,
		Image:        data,
		Upload:       upload,
		SymptomsText: c.PostForm("symptoms"),
		ImageType:    domain.ParseImageType(c.PostForm("image_type")),
	}

	if relax := c.PostForm("relax"); relax != "" {
		sub.Relax, _ = strconv.ParseBool(relax)
	}
	if raw := c.PostForm("duration"); raw != "" {
		duration := domain.SymptomDuration(raw)
		if !duration.IsValid() {
			return nil, fmt.Errorf("%w: unknown duration %q", domain.ErrInvalidInput, raw)
		}
		sub.ReportedDuration = &duration
	}
	if raw := c.PostForm("severity"); raw != "" {
		severity, err := strconv.Atoi(raw)
		if err != nil || severity < 1 || severity > 10 {
			return nil, fmt.Errorf("%w: severity must be an integer between 1 and 10", domain.ErrInvalidInput)
		}
		sub.ReportedSeverity = &severity
	}
	return sub, nil
}

// handleHistory lists the caller's records
func (s *Server) handleHistory(c *gin.Context) {
	query := domain.HistoryQuery{
		Page:      queryInt(c, "page"),
		Limit:     queryInt(c, "limit"),
		Diagnosis: c.Query("diagnosis"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				query.Statuses = append(query.Statuses, domain.RecordStatus(status))
			}
		}
	}

	page, err := s.service.History(c.Request.Context(), s.caller(c).UserID, query)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, page)
}

// handleAnalytics summarises the caller's records
func (s *Server) handleAnalytics(c *gin.Context) {
	analytics, err := s.service.Analytics(c.Request.Context(), s.caller(c).UserID, c.Query("timeframe"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, analytics)
}

func (s *Server) handleGetPrediction(c *gin.Context) {
	record, err := s.service.Get(c.Request.Context(), s.caller(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, record)
}

func (s *Server) handleDeletePrediction(c *gin.Context) {
	if err := s.service.Delete(c.Request.Context(), s.caller(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": c.Param("id"), "deleted": true})
}

// handleArchivePrediction archives a record; {"archived": false} restores it
func (s *Server) handleArchivePrediction(c *gin.Context) {
	var req archiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondError(c, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
			return
		}
	}
	archived := true
	if req.Archived != nil {
		archived = *req.Archived
	}

	if err := s.service.Archive(c.Request.Context(), s.caller(c), c.Param("id"), archived); err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": c.Param("id"), "archived": archived})
}

func (s *Server) handleFeedback(c *gin.Context) {
	var feedback domain.Feedback
	if err := c.ShouldBindJSON(&feedback); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	record, err := s.service.SubmitFeedback(c.Request.Context(), s.caller(c), c.Param("id"), &feedback)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, record)
}

func (s *Server) handleRouting(c *gin.Context) {
	var update domain.RoutingUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	record, err := s.service.UpdateRouting(c.Request.Context(), s.caller(c), c.Param("id"), &update)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, record)
}

// handleAnalyzeSymptoms analyses symptom text without an image
func (s *Server) handleAnalyzeSymptoms(c *gin.Context) {
	var req symptomsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: symptoms are required", domain.ErrInvalidInput))
		return
	}
	respondData(c, http.StatusOK, s.service.AnalyzeText(req.Symptoms))
}

// queryInt returns 0 for a missing or malformed parameter so the service
// applies its default.
func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}
