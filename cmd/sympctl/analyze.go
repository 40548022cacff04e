package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sympfindx-diagnosis-server/internal/config"
	"github.com/sympfindx-diagnosis-server/internal/domain"
	"github.com/sympfindx-diagnosis-server/internal/logging"
	"github.com/sympfindx-diagnosis-server/internal/repository"
	"github.com/sympfindx-diagnosis-server/internal/service"
	"github.com/sympfindx-diagnosis-server/pkg/external"
)

type analyzeOptions struct {
	imagePath string
	imageType string
	userID    string
	relax     bool
	severity  int
	duration  string
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <symptoms>",
		Short: "Analyse symptom text, optionally with an eye image",
		Long: "Without --image the symptom text is analysed offline. With --image the image is sent\n" +
			"to the classifier and the resulting record is stored in the local SQLite database.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 1 {
				text = args[0]
			}
			if opts.imagePath == "" {
				if strings.TrimSpace(text) == "" {
					return fmt.Errorf("symptom text is required without --image")
				}
				return render(cmd.OutOrStdout(), root.output, service.BuildSymptomReport(text), reportText)
			}
			return runImageAnalysis(cmd, root, opts, text)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.imagePath, "image", "", "eye image to classify (jpeg or png)")
	f.StringVar(&opts.imageType, "image-type", "fundus", "image type (fundus, outer_eye)")
	f.StringVar(&opts.userID, "user", "local", "user id recorded on the diagnosis")
	f.BoolVar(&opts.relax, "relax", false, "relax the classifier's out-of-distribution gates")
	f.IntVar(&opts.severity, "severity", 0, "reported severity from 1 to 10")
	f.StringVar(&opts.duration, "duration", "", "reported duration (less_than_week, week_to_month, month_to_year, more_than_year)")
	return cmd
}

func runImageAnalysis(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions, text string) error {
	data, err := os.ReadFile(opts.imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	sub := &service.Submission{
		UserID:       opts.userID,
		Image:        data,
		SymptomsText: text,
		ImageType:    domain.ParseImageType(opts.imageType),
		Upload: domain.UploadMeta{
			Filename: filepath.Base(opts.imagePath),
			MimeType: http.DetectContentType(data),
			Size:     int64(len(data)),
		},
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		sub.Upload.Width, sub.Upload.Height = cfg.Width, cfg.Height
	}
	if opts.severity != 0 {
		if opts.severity < 1 || opts.severity > 10 {
			return fmt.Errorf("--severity must be between 1 and 10")
		}
		sub.ReportedSeverity = &opts.severity
	}
	if opts.duration != "" {
		duration := domain.SymptomDuration(opts.duration)
		if !duration.IsValid() {
			return fmt.Errorf("unknown --duration %q", opts.duration)
		}
		sub.ReportedDuration = &duration
	}

	cfg := config.LoadLiteConfig()
	sub.Relax = opts.relax || cfg.Relax
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logger := logging.New(cfg.LoggingConfig())
	logger.SetOutput(cmd.ErrOrStderr())

	repo, err := repository.NewSQLiteRepository(cfg.DiagnosisDBPath(), logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc := service.NewDiagnosisService(
		logger,
		external.NewPredictClient(cfg.ClassifierConfig(), logger),
		repo,
		service.NewRecordBuilder(logger, service.DefaultConfidenceWeights()),
		service.WithEnrichment(cfg.EnrichRecommendations),
	)

	outcome, err := svc.Analyze(cmd.Context(), sub)
	if err != nil {
		return err
	}
	if outcome.Rejected != nil {
		return render(cmd.OutOrStdout(), root.output, outcome.Rejected, rejectionText)
	}
	return render(cmd.OutOrStdout(), root.output, outcome.View, viewText)
}

func render[T any](w io.Writer, format string, v T, text func(io.Writer, T)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text(w, v)
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func reportText(w io.Writer, r *service.SymptomReport) {
	fmt.Fprintf(w, "Summary:     %s\n", r.Summary)
	fmt.Fprintf(w, "Severity:    %s\n", r.Analysis.Severity)
	fmt.Fprintf(w, "Duration:    %s\n", r.Analysis.Duration)
	fmt.Fprintf(w, "Urgency:     %d/10\n", r.UrgencyScore)
	fmt.Fprintf(w, "Features:    severity=%d duration=%d urgency=%d words=%d\n",
		r.Features.SeverityScore, r.Features.DurationScore, r.Features.UrgencyScore, r.Features.WordCount)
	fmt.Fprintf(w, "Confidence:  %.2f (%s)\n", r.Confidence, r.ConfidenceLevel)
	fmt.Fprintf(w, "Referral:    %t\n", r.NeedsReferral)
	for _, c := range r.Analysis.DetectedConditions {
		fmt.Fprintf(w, "Condition:   %s (%d%%)\n", c.Condition, c.Confidence)
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(w, "  - %s\n", rec)
	}
}

func rejectionText(w io.Writer, r *domain.Rejection) {
	fmt.Fprintf(w, "Rejected: %s\n", r.Reason)
}

func viewText(w io.Writer, v *service.AnalysisView) {
	fmt.Fprintf(w, "Record:      %s\n", v.RecordID)
	fmt.Fprintf(w, "Prediction:  %s (%.2f)\n", v.Prediction, v.ConfidenceFloat)
	fmt.Fprintf(w, "Urgency:     %s\n", v.UrgencyLevel)
	if v.SpecialistRouting.IsRoutingRequired && v.SpecialistRouting.RecommendedSpecialist != nil {
		fmt.Fprintf(w, "Refer to:    %s (%s)\n", *v.SpecialistRouting.RecommendedSpecialist, v.SpecialistRouting.Urgency)
	}
	for _, rec := range v.Recommendations {
		fmt.Fprintf(w, "  - %s\n", rec)
	}
}
