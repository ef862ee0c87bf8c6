package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/llm"
	"github.com/pulseboard/creator-engine/pkg/models"
)

// Categories the category stage may assign. The closed set keeps the rollup's
// content distribution comparable across profiles.
var ContentCategories = []string{
	"lifestyle", "fitness", "beauty", "fashion", "food",
	"travel", "gaming", "music", "education", "comedy", "other",
}

// ============================================================================
// LLM-backed per-post classification stages
// ============================================================================

// categoryStage classifies each post's content category with a confidence.
type categoryStage struct {
	client llm.Client
}

// NewCategoryStage creates the category classification stage.
func NewCategoryStage(client llm.Client) Stage {
	return &categoryStage{client: client}
}

func (s *categoryStage) Kind() models.StageKind { return models.StageCategory }

func (s *categoryStage) Analyze(ctx context.Context, input *Input) (*models.StageResult, error) {
	system := fmt.Sprintf(
		"You classify social media posts into exactly one of these categories: %s. "+
			"Respond with JSON: {\"posts\": [{\"external_id\": string, \"category\": string, \"confidence\": number}]}. "+
			"Confidence is 0.0-1.0.",
		strings.Join(ContentCategories, ", "))

	type entry struct {
		ExternalID string  `json:"external_id"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	var parsed struct {
		Posts []entry `json:"posts"`
	}
	if err := runClassification(ctx, s.client, s.Kind(), input, system, &parsed); err != nil {
		return nil, err
	}

	result := &models.StageResult{
		Kind:  models.StageCategory,
		Posts: make(map[uuid.UUID]*models.PostStageOutput, len(parsed.Posts)),
	}
	byExternalID := indexPosts(input.Posts)
	for _, e := range parsed.Posts {
		postID, ok := byExternalID[e.ExternalID]
		if !ok {
			continue
		}
		category := normalizeCategory(e.Category)
		confidence := clamp01(e.Confidence)
		raw, _ := json.Marshal(e)
		result.Posts[postID] = &models.PostStageOutput{
			Category:           &category,
			CategoryConfidence: &confidence,
			Raw:                raw,
		}
	}
	return result, nil
}

// sentimentStage scores each post's caption sentiment in [-1, 1].
type sentimentStage struct {
	client llm.Client
}

// NewSentimentStage creates the sentiment analysis stage.
func NewSentimentStage(client llm.Client) Stage {
	return &sentimentStage{client: client}
}

func (s *sentimentStage) Kind() models.StageKind { return models.StageSentiment }

func (s *sentimentStage) Analyze(ctx context.Context, input *Input) (*models.StageResult, error) {
	system := "You analyze the sentiment of social media posts. " +
		"Respond with JSON: {\"posts\": [{\"external_id\": string, \"sentiment\": \"positive\"|\"neutral\"|\"negative\", \"score\": number}]}. " +
		"Score is -1.0 (most negative) to 1.0 (most positive)."

	type entry struct {
		ExternalID string  `json:"external_id"`
		Sentiment  string  `json:"sentiment"`
		Score      float64 `json:"score"`
	}
	var parsed struct {
		Posts []entry `json:"posts"`
	}
	if err := runClassification(ctx, s.client, s.Kind(), input, system, &parsed); err != nil {
		return nil, err
	}

	result := &models.StageResult{
		Kind:  models.StageSentiment,
		Posts: make(map[uuid.UUID]*models.PostStageOutput, len(parsed.Posts)),
	}
	byExternalID := indexPosts(input.Posts)
	for _, e := range parsed.Posts {
		postID, ok := byExternalID[e.ExternalID]
		if !ok {
			continue
		}
		sentiment := normalizeSentiment(e.Sentiment, e.Score)
		score := clampSigned(e.Score)
		result.Posts[postID] = &models.PostStageOutput{
			Sentiment:      &sentiment,
			SentimentScore: &score,
		}
	}
	return result, nil
}

// languageStage detects each post caption's language.
type languageStage struct {
	client llm.Client
}

// NewLanguageStage creates the language detection stage.
func NewLanguageStage(client llm.Client) Stage {
	return &languageStage{client: client}
}

func (s *languageStage) Kind() models.StageKind { return models.StageLanguage }

func (s *languageStage) Analyze(ctx context.Context, input *Input) (*models.StageResult, error) {
	system := "You detect the language of social media post captions. " +
		"Respond with JSON: {\"posts\": [{\"external_id\": string, \"language\": string}]} " +
		"where language is an ISO 639-1 code like \"en\" or \"pt\"."

	type entry struct {
		ExternalID string `json:"external_id"`
		Language   string `json:"language"`
	}
	var parsed struct {
		Posts []entry `json:"posts"`
	}
	if err := runClassification(ctx, s.client, s.Kind(), input, system, &parsed); err != nil {
		return nil, err
	}

	result := &models.StageResult{
		Kind:  models.StageLanguage,
		Posts: make(map[uuid.UUID]*models.PostStageOutput, len(parsed.Posts)),
	}
	byExternalID := indexPosts(input.Posts)
	for _, e := range parsed.Posts {
		postID, ok := byExternalID[e.ExternalID]
		if !ok || e.Language == "" {
			continue
		}
		lang := strings.ToLower(e.Language)
		result.Posts[postID] = &models.PostStageOutput{
			LanguageCode: &lang,
		}
	}
	return result, nil
}

// ============================================================================
// Shared helpers
// ============================================================================

// runClassification sends one batched prompt covering every post and decodes
// the JSON reply into out. A reply that fails to decode is permanent: the
// same prompt produced it and would again.
func runClassification(ctx context.Context, client llm.Client, kind models.StageKind, input *Input, system string, out any) error {
	if len(input.Posts) == 0 {
		return nil
	}

	prompt := buildPostPrompt(input.Posts)
	content, err := client.CompleteJSON(ctx, system, prompt)
	if err != nil {
		return fmt.Errorf("%s stage: %w", kind, err)
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return apperrors.Permanent(fmt.Errorf("%s stage: decode llm reply: %w", kind, err))
	}
	return nil
}

// buildPostPrompt lists posts as a JSON array of {external_id, caption}.
func buildPostPrompt(posts []PostInput) string {
	type promptPost struct {
		ExternalID string `json:"external_id"`
		Caption    string `json:"caption"`
	}
	items := make([]promptPost, 0, len(posts))
	for _, p := range posts {
		items = append(items, promptPost{ExternalID: p.Data.ExternalID, Caption: p.Data.Caption})
	}
	raw, _ := json.Marshal(items)
	return "Analyze these posts:\n" + string(raw)
}

func indexPosts(posts []PostInput) map[string]uuid.UUID {
	byExternalID := make(map[string]uuid.UUID, len(posts))
	for _, p := range posts {
		byExternalID[p.Data.ExternalID] = p.ID
	}
	return byExternalID
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	for _, c := range ContentCategories {
		if c == category {
			return c
		}
	}
	return "other"
}

func normalizeSentiment(sentiment string, score float64) string {
	switch strings.ToLower(strings.TrimSpace(sentiment)) {
	case "positive", "neutral", "negative":
		return strings.ToLower(strings.TrimSpace(sentiment))
	}
	// Fall back to the score when the label is off-vocabulary.
	switch {
	case score > 0.2:
		return "positive"
	case score < -0.2:
		return "negative"
	default:
		return "neutral"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
