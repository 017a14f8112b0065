package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/internal/prompts"
	"github.com/voicebothq/voicebot-service/pkg/logger"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient talks to the Gemini generateContent REST API
type GeminiClient struct {
	BaseURL string
	Model   string
	APIKey  string
	Client  *http.Client
	Timeout time.Duration
}

func NewGeminiClient(apiKey, model string, timeout time.Duration) *GeminiClient {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &GeminiClient{
		BaseURL: defaultGeminiBaseURL,
		Model:   model,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout: timeout,
		},
		Timeout: timeout,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// generate sends one generateContent request and returns the first candidate text
func (g *GeminiClient) generate(ctx context.Context, system, prompt string, cfg geminiGenerationConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	reqBody := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: cfg,
	}
	if system != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.BaseURL, g.Model, g.APIKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.ErrBackboneTimeout
		}
		return "", fmt.Errorf("%w: %v", domain.ErrBackboneFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		logger.Base().Error("gemini request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return "", fmt.Errorf("%w: status %d", domain.ErrBackboneFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackboneFailure, err)
	}

	var response geminiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackboneFailure, err)
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidate", domain.ErrBackboneFailure)
	}
	return strings.TrimSpace(response.Candidates[0].Content.Parts[0].Text), nil
}

func (g *GeminiClient) GenerateReply(ctx context.Context, rc *prompts.ReplyContext) (string, error) {
	text, err := g.generate(ctx, rc.SystemInstruction(), prompts.BuildReplyPrompt(rc), geminiGenerationConfig{
		Temperature:     0.7,
		MaxOutputTokens: 256,
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (g *GeminiClient) ClassifyCall(ctx context.Context, transcript, businessName, businessType string) (*Classification, error) {
	text, err := g.generate(ctx,
		prompts.ClassifySystemInstruction(businessName, businessType),
		prompts.BuildClassifyPrompt(transcript, businessName, businessType),
		geminiGenerationConfig{Temperature: 0.2, ResponseMimeType: "application/json"})
	if err != nil {
		return nil, err
	}

	var result Classification
	if err := json.Unmarshal([]byte(stripFences(text)), &result); err != nil {
		return nil, fmt.Errorf("%w: bad classification payload: %v", domain.ErrBackboneFailure, err)
	}
	return &result, nil
}

func (g *GeminiClient) ExtractOnboardingFields(ctx context.Context, question domain.OnboardingQuestion, answer string) (map[string]interface{}, error) {
	text, err := g.generate(ctx, "Return valid JSON only.",
		prompts.BuildExtractPrompt(question, answer),
		geminiGenerationConfig{Temperature: 0.2, ResponseMimeType: "application/json"})
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if err := json.Unmarshal([]byte(stripFences(text)), &fields); err != nil {
		return nil, fmt.Errorf("%w: bad extraction payload: %v", domain.ErrBackboneFailure, err)
	}
	return fields, nil
}

func (g *GeminiClient) BuildAgentConfig(ctx context.Context, businessName, businessType string, answers map[string]interface{}) (*AgentConfig, error) {
	text, err := g.generate(ctx, "Return valid JSON only.",
		prompts.BuildAgentConfigPrompt(businessName, businessType, answers),
		geminiGenerationConfig{Temperature: 0.4, ResponseMimeType: "application/json"})
	if err != nil {
		return nil, err
	}

	var cfg AgentConfig
	if err := json.Unmarshal([]byte(stripFences(text)), &cfg); err != nil {
		return nil, fmt.Errorf("%w: bad agent config payload: %v", domain.ErrBackboneFailure, err)
	}
	return &cfg, nil
}

func (g *GeminiClient) OnboardingQuestions(ctx context.Context, businessName, businessType string) ([]domain.OnboardingQuestion, error) {
	prompt := fmt.Sprintf(`Write a phone onboarding interview for setting up an AI receptionist.
Business: %s (%s)
Return a JSON array of up to 8 objects: {"id":1,"question":"...","field_name":"...","required":true}.
Cover hours, services, greeting, common questions, transfer number, and restrictions.`,
		businessName, businessType)

	text, err := g.generate(ctx, "Return valid JSON only.", prompt,
		geminiGenerationConfig{Temperature: 0.4, ResponseMimeType: "application/json"})
	if err != nil {
		return nil, err
	}

	var questions []domain.OnboardingQuestion
	if err := json.Unmarshal([]byte(stripFences(text)), &questions); err != nil || len(questions) == 0 {
		return nil, fmt.Errorf("%w: bad question payload", domain.ErrBackboneFailure)
	}
	return questions, nil
}

// stripFences tolerates models that wrap JSON in markdown code fences
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
