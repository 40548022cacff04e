package service

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

// conditionKeywords pairs a condition with its curated keyword list.
type conditionKeywords struct {
	condition domain.EyeCondition
	keywords  []string
}

// Tables are iterated in declaration order. Ties in condition confidence keep
// this order and the severity/duration buckets rely on it (last match wins).
var eyeConditionKeywords = []conditionKeywords{
	{domain.ConditionDiabeticRetinopathy, []string{
		"blurred vision", "floaters", "dark spots", "vision loss", "difficulty seeing at night",
		"fluctuating vision", "empty areas in vision", "diabetes", "diabetic", "blood sugar",
	}},
	{domain.ConditionGlaucoma, []string{
		"peripheral vision loss", "tunnel vision", "eye pain", "headache", "nausea",
		"halos around lights", "eye pressure", "gradual vision loss", "blind spots",
	}},
	{domain.ConditionMacularDegeneration, []string{
		"central vision loss", "straight lines appear wavy", "difficulty reading",
		"blurred central vision", "color perception changes", "age related", "elderly",
	}},
	{domain.ConditionCataracts, []string{
		"cloudy vision", "glare sensitivity", "double vision", "difficulty night driving",
		"colors appear faded", "frequent prescription changes", "halos around lights",
	}},
	{domain.ConditionConjunctivitis, []string{
		"red eyes", "itchy eyes", "watery eyes", "discharge", "pink eye",
		"burning sensation", "foreign body sensation", "swollen eyelids",
	}},
	{domain.ConditionDryEye, []string{
		"dry eyes", "scratchy feeling", "burning eyes", "excessive tearing", "tired eyes",
		"difficulty wearing contact lenses", "light sensitivity",
	}},
}

var severityBuckets = []struct {
	severity domain.Severity
	keywords []string
}{
	{domain.SeverityMild, []string{"slight", "minor", "little", "occasional", "sometimes", "mild"}},
	{domain.SeverityModerate, []string{"noticeable", "frequent", "regular", "moderate", "getting worse"}},
	{domain.SeveritySevere, []string{"severe", "intense", "constant", "very", "extreme", "unbearable", "significant"}},
	{domain.SeverityEmergency, []string{"sudden", "acute", "immediate", "emergency", "urgent", "rapid", "dramatic"}},
}

var durationBuckets = []struct {
	duration domain.Duration
	keywords []string
}{
	{domain.DurationAcute, []string{"sudden", "today", "yesterday", "hours", "just started"}},
	{domain.DurationSubacute, []string{"few days", "this week", "recently", "past week"}},
	{domain.DurationChronic, []string{"weeks", "months", "years", "long time", "chronic", "ongoing"}},
}

var stopWords = toSet(
	"the", "and", "for", "are", "but", "not", "you", "all", "can", "had", "her", "was", "one",
	"our", "out", "day", "get", "has", "him", "his", "how", "its", "new", "now", "old", "see",
	"two", "who", "boy", "did", "have", "been", "from", "they", "know", "want", "good", "much",
	"some", "time", "very", "when", "come", "here", "just", "like", "long", "make", "many",
	"over", "such", "take", "than", "them", "well", "were",
)

var riskFactorTerms = []string{"diabetes", "diabetic", "blood sugar", "age related", "elderly"}

var eyeTerms = []string{"eye", "vision", "sight", "see", "look", "visual", "ocular"}

var (
	punctuationPattern = regexp.MustCompile(`[^\w\s]`)
	numberPattern      = regexp.MustCompile(`\b\d+\b`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

const (
	minSymptomTextLength = 10
	maxSymptomTextLength = 1000
	summaryExcerptLength = 100
)

// NormalizeText lower-cases text, replaces punctuation with spaces, collapses
// whitespace and then drops standalone numbers. A dropped number leaves its
// surrounding spaces, so "few 3 days" becomes "few  days".
func NormalizeText(text string) string {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = punctuationPattern.ReplaceAllString(cleaned, " ")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = numberPattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// ExtractKeywords returns the non-stop-word tokens longer than two characters.
func ExtractKeywords(normalized string) []string {
	keywords := []string{}
	for _, word := range strings.Fields(normalized) {
		if len(word) > 2 && !stopWords[word] {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// AnalyzeSymptoms turns free-text symptoms into a structured analysis.
// Empty input yields an analysis with unknown fields and empty sequences.
func AnalyzeSymptoms(rawText string) *domain.SymptomAnalysis {
	if strings.TrimSpace(rawText) == "" {
		return domain.NewEmptySymptomAnalysis()
	}

	text := NormalizeText(rawText)
	analysis := domain.NewEmptySymptomAnalysis()
	analysis.Keywords = ExtractKeywords(text)
	analysis.DetectedConditions = detectConditions(text)
	analysis.Severity = detectSeverity(text)
	analysis.Duration = detectDuration(text)
	analysis.Urgency = deriveTextUrgency(analysis.Severity, analysis.Duration)

	if len(analysis.DetectedConditions) > 0 {
		total := 0
		for _, c := range analysis.DetectedConditions {
			total += c.Confidence
		}
		analysis.Confidence = roundInt(float64(total) / float64(len(analysis.DetectedConditions)))
	}

	return analysis
}

func detectConditions(text string) []domain.DetectedCondition {
	detected := []domain.DetectedCondition{}
	for _, entry := range eyeConditionKeywords {
		matched := matchingTerms(text, entry.keywords)
		if len(matched) == 0 {
			continue
		}
		detected = append(detected, domain.DetectedCondition{
			Condition:       entry.condition,
			MatchedKeywords: matched,
			Confidence:      roundInt(float64(len(matched)) / float64(len(entry.keywords)) * 100),
		})
	}

	sort.SliceStable(detected, func(i, j int) bool {
		return detected[i].Confidence > detected[j].Confidence
	})
	return detected
}

func detectSeverity(text string) domain.Severity {
	severity := domain.SeverityUnknown
	for _, bucket := range severityBuckets {
		if containsAny(text, bucket.keywords) {
			severity = bucket.severity
		}
	}
	return severity
}

func detectDuration(text string) domain.Duration {
	duration := domain.DurationUnknown
	for _, bucket := range durationBuckets {
		if containsAny(text, bucket.keywords) {
			duration = bucket.duration
		}
	}
	return duration
}

func deriveTextUrgency(severity domain.Severity, duration domain.Duration) domain.TextUrgency {
	switch {
	case severity == domain.SeverityEmergency || duration == domain.DurationAcute:
		return domain.TextUrgencyEmergency
	case severity == domain.SeveritySevere:
		return domain.TextUrgencyUrgent
	case severity == domain.SeverityModerate:
		return domain.TextUrgencyModerate
	default:
		return domain.TextUrgencyRoutine
	}
}

// TextFeatures are the numeric features of a symptom description.
type TextFeatures struct {
	TextLength    int `json:"textLength"`
	WordCount     int `json:"wordCount"`
	SeverityScore int `json:"severityScore"`
	DurationScore int `json:"durationScore"`
	UrgencyScore  int `json:"urgencyScore"`
}

// ExtractTextFeatures scores an analysis of rawText on the ordinal scales.
func ExtractTextFeatures(rawText string, analysis *domain.SymptomAnalysis) TextFeatures {
	return TextFeatures{
		TextLength:    utf8.RuneCountInString(rawText),
		WordCount:     len(analysis.Keywords),
		SeverityScore: analysis.Severity.Score(),
		DurationScore: analysis.Duration.Score(),
		UrgencyScore:  analysis.Urgency.Score(),
	}
}

// RiskFactors returns the known risk-factor terms present in the text.
func RiskFactors(rawText string) []string {
	return matchingTerms(NormalizeText(rawText), riskFactorTerms)
}

// SymptomTextValidation reports whether a symptom description is usable.
type SymptomTextValidation struct {
	IsValid     bool     `json:"isValid"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// ValidateSymptomText checks length and content of a symptom description.
func ValidateSymptomText(text string) SymptomTextValidation {
	result := SymptomTextValidation{Issues: []string{}, Suggestions: []string{}}

	if strings.TrimSpace(text) == "" {
		result.Issues = append(result.Issues, "Symptom description is required")
		return result
	}

	cleaned := NormalizeText(text)
	if len(cleaned) < minSymptomTextLength {
		result.Issues = append(result.Issues, "Symptom description is too short (minimum 10 characters)")
	}
	if len(cleaned) > maxSymptomTextLength {
		result.Issues = append(result.Issues, "Symptom description is too long (maximum 1000 characters)")
	}

	if len(ExtractKeywords(cleaned)) < 3 {
		result.Suggestions = append(result.Suggestions, "Try to provide more specific details about your symptoms")
	}
	if !containsAny(cleaned, eyeTerms) {
		result.Suggestions = append(result.Suggestions, "Please focus on eye-related symptoms for accurate analysis")
	}

	result.IsValid = len(result.Issues) == 0
	return result
}

// SummarizeSymptoms renders a patient-report summary of a symptom description.
func SummarizeSymptoms(description string) string {
	analysis := AnalyzeSymptoms(description)

	excerpt := description
	if runes := []rune(description); len(runes) > summaryExcerptLength {
		excerpt = string(runes[:summaryExcerptLength])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient reports: %s...", excerpt)
	if top, ok := analysis.TopCondition(); ok {
		fmt.Fprintf(&b, " Symptoms suggest possible %s (confidence: %d%%).", humanize(string(top.Condition)), top.Confidence)
	}
	if analysis.Severity != domain.SeverityUnknown {
		fmt.Fprintf(&b, " Severity: %s.", analysis.Severity)
	}
	if analysis.Duration != domain.DurationUnknown {
		fmt.Fprintf(&b, " Duration: %s.", analysis.Duration)
	}
	if analysis.Urgency != domain.TextUrgencyRoutine {
		fmt.Fprintf(&b, " Urgency level: %s.", analysis.Urgency)
	}
	return b.String()
}

func matchingTerms(text string, terms []string) []string {
	matched := []string{}
	for _, term := range terms {
		if strings.Contains(text, term) {
			matched = append(matched, term)
		}
	}
	return matched
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func humanize(label string) string {
	return strings.ReplaceAll(label, "_", " ")
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
