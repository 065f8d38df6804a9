package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"
	"chatwiki/internal/repository"

	"go.uber.org/zap"
)

const (
	maxCategories   = 8
	maxTitleRunes   = 120
	maxSummaryRunes = 2000
)

// Generator is a text-analysis backend: system instruction and prompt in,
// raw model text out. Implementations wrap their transport failures with
// failure.ErrAnalysisUnavailable where they can tell.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// refusalPhrases mark a model declining the request instead of answering.
var refusalPhrases = []string{
	"не могу помочь",
	"не могу обработать",
	"предоставьте содержимое",
	"cannot help",
	"can't help",
	"cannot process",
	"i'm sorry",
	"as an ai",
}

// titleReplacer removes characters MediaWiki does not allow in page titles.
var titleReplacer = strings.NewReplacer(
	"#", "", "<", "", ">", "", "[", "", "]", "", "|", "", "{", "", "}", "", "_", " ",
)

const analysisSystemInstruction = `You turn chat messages into knowledge-base articles for a wiki.
For every message decide what subject it is about and summarize what it says about that subject.

Rules:
- Answer with ONE JSON object and nothing else: no Markdown, no comments before or after it.
- "title": a short encyclopedic page title (2-6 words) in the language of the message.
- "topic": the canonical name of the subject; messages about the same subject must get the same topic.
- "summary": 1-3 sentences of the knowledge the message contributes.
- "categories": 1-5 broad category names.
- "confidence": a number from 0 to 1, how sure you are that the message carries knowledge worth keeping (greetings, jokes and small talk are close to 0).`

// AnalysisService is the parse-or-reject boundary around the text-analysis
// backend: either a complete AnalysisResult comes out, or an error wrapping
// failure.ErrAnalysisRejected / failure.ErrAnalysisUnavailable.
type AnalysisService struct {
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
}

func NewAnalysisService(generator Generator, timeout time.Duration, logger *zap.Logger) *AnalysisService {
	return &AnalysisService{
		generator: generator,
		timeout:   timeout,
		logger:    logger,
	}
}

func (s *AnalysisService) Analyze(ctx context.Context, unit *models.AnalyzableUnit) (*models.AnalysisResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	content, err := s.generator.Generate(ctx, analysisSystemInstruction, buildAnalysisPrompt(unit))
	if err != nil {
		if failure.Known(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", failure.ErrAnalysisUnavailable, err)
	}

	result, err := ParseAnalysis(content)
	if err != nil {
		s.logger.Info("Analysis output rejected",
			zap.String("unit_id", unit.UnitID),
			zap.Error(err),
			zap.String("response", truncateRunes(content, 500)),
		)
		return nil, err
	}

	s.logger.Debug("Analysis completed",
		zap.String("unit_id", unit.UnitID),
		zap.String("topic_key", result.TopicKey),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func buildAnalysisPrompt(unit *models.AnalyzableUnit) string {
	return fmt.Sprintf(`Content kind: %s

Message:
%s

Return JSON in exactly this format:
{
  "title": "page title",
  "topic": "canonical subject",
  "summary": "what the message says about the subject",
  "categories": ["category"],
  "confidence": 0.0
}`, unit.Kind, unit.Payload)
}

type analysisResponse struct {
	Title      string   `json:"title"`
	Topic      string   `json:"topic"`
	Summary    string   `json:"summary"`
	Categories []string `json:"categories"`
	Confidence *float64 `json:"confidence"`
}

// ParseAnalysis validates raw model output against the analysis schema.
func ParseAnalysis(content string) (*models.AnalysisResult, error) {
	content = strings.TrimSpace(content)

	jsonStart := strings.Index(content, "{")
	jsonEnd := strings.LastIndex(content, "}")
	if jsonStart == -1 || jsonEnd < jsonStart {
		lower := strings.ToLower(content)
		for _, phrase := range refusalPhrases {
			if strings.Contains(lower, phrase) {
				return nil, fmt.Errorf("%w: model declined: %s", failure.ErrAnalysisRejected, truncateRunes(content, 200))
			}
		}
		return nil, fmt.Errorf("%w: no JSON object in response", failure.ErrAnalysisRejected)
	}

	jsonStr := content[jsonStart : jsonEnd+1]

	var resp analysisResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		// Try again without Markdown fences
		jsonStr = strings.TrimSpace(jsonStr)
		jsonStr = strings.TrimPrefix(jsonStr, "```json")
		jsonStr = strings.TrimPrefix(jsonStr, "```")
		jsonStr = strings.TrimSuffix(jsonStr, "```")
		if err := json.Unmarshal([]byte(strings.TrimSpace(jsonStr)), &resp); err != nil {
			return nil, fmt.Errorf("%w: malformed JSON: %v", failure.ErrAnalysisRejected, err)
		}
	}

	title := SanitizeTitle(resp.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title", failure.ErrAnalysisRejected)
	}

	summary := truncateRunes(cleanText(resp.Summary), maxSummaryRunes)
	if summary == "" {
		return nil, fmt.Errorf("%w: missing summary", failure.ErrAnalysisRejected)
	}

	if resp.Categories == nil {
		return nil, fmt.Errorf("%w: missing categories", failure.ErrAnalysisRejected)
	}

	if resp.Confidence == nil {
		return nil, fmt.Errorf("%w: missing confidence", failure.ErrAnalysisRejected)
	}
	if c := *resp.Confidence; c < 0 || c > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", failure.ErrAnalysisRejected, c)
	}

	topic := resp.Topic
	if strings.TrimSpace(topic) == "" {
		topic = title
	}
	topicKey := NormalizeTopicKey(topic)
	if topicKey == "" {
		return nil, fmt.Errorf("%w: topic %q normalizes to nothing", failure.ErrAnalysisRejected, topic)
	}

	return &models.AnalysisResult{
		Summary:        summary,
		SuggestedTitle: title,
		Categories:     normalizeCategories(resp.Categories),
		TopicKey:       topicKey,
		Confidence:     *resp.Confidence,
	}, nil
}

// SanitizeTitle turns a suggested title into a valid MediaWiki page title.
func SanitizeTitle(title string) string {
	title = collapseSpaces(titleReplacer.Replace(cleanText(title)))
	title = strings.Trim(title, " .:/")
	return truncateRunes(title, maxTitleRunes)
}

func normalizeCategories(categories []string) []string {
	cleaned := make([]string, 0, len(categories))
	for _, c := range categories {
		c = cleanText(c)
		c = strings.TrimPrefix(c, "Category:")
		c = strings.TrimPrefix(c, "Категория:")
		c = collapseSpaces(titleReplacer.Replace(c))
		if c != "" {
			cleaned = append(cleaned, truncateRunes(c, maxTitleRunes))
		}
	}

	cleaned = repository.NormalizeCategories(cleaned)
	if len(cleaned) > maxCategories {
		cleaned = cleaned[:maxCategories]
	}
	return cleaned
}
