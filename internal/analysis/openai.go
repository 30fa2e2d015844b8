// Package analysis scores articles that arrive without an escalation value.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/source"
)

const (
	DefaultTimeout   = 30 * time.Second
	maxPromptSummary = 2000
)

const systemPrompt = `You rate conflict news on an escalation scale from 0 to 10.
0 means no violence or threat. 3 means protests, arrests or isolated clashes. 5 means sustained armed
clashes or shelling with casualties. 8 means large-scale strikes on cities or mass-casualty attacks.
10 means open interstate war or use of weapons of mass destruction.
Reply with a JSON object {"escalation": <number>} and nothing else.`

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIScorer asks a chat completion model for an escalation score.
type OpenAIScorer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewOpenAIScorer(cfg Config, logger zerolog.Logger) (*OpenAIScorer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.BaseURL = base
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &OpenAIScorer{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   modelName,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (s *OpenAIScorer) ScoreEscalation(ctx context.Context, a model.Article) (float64, error) {
	title := strings.TrimSpace(a.Title)
	summary, _ := source.TruncateText(a.Summary, maxPromptSummary)
	if title == "" && summary == "" {
		return 0, fmt.Errorf("article has no text to score")
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Title: %s\n", title)
	if summary != "" {
		fmt.Fprintf(&prompt, "Summary: %s\n", summary)
	}
	if loc := strings.TrimSpace(strings.Join(nonEmpty(a.City, a.Region, a.Country), ", ")); loc != "" {
		fmt.Fprintf(&prompt, "Location: %s\n", loc)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
		MaxTokens:      20,
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return 0, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("no response from OpenAI")
	}

	score, err := ParseScore(resp.Choices[0].Message.Content)
	if err != nil {
		return 0, err
	}
	s.logger.Debug().Str("title", title).Float64("escalation", score).Int("tokens", resp.Usage.TotalTokens).Msg("escalation scored")
	return score, nil
}

// ParseScore reads {"escalation": n} or, failing that, the first number in the reply. The result is
// clamped to the escalation range.
func ParseScore(reply string) (float64, error) {
	trimmed := strings.TrimSpace(reply)
	var body struct {
		Escalation *float64 `json:"escalation"`
	}
	if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Escalation != nil {
		return model.ClampEscalation(*body.Escalation), nil
	}

	match := numberPattern.FindString(trimmed)
	if match == "" {
		return 0, fmt.Errorf("no escalation score in reply %q", trimmed)
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("parse escalation score %q: %w", match, err)
	}
	return model.ClampEscalation(value), nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
