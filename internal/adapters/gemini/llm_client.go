package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mikey/llm-mail-triage/internal/adapters/llm"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
)

// GeminiClient is an implementation of the ClassifierBackend interface using Google Gemini
type GeminiClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"

	return &GeminiClient{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Classify asks the model to triage one email
func (c *GeminiClient) Classify(ctx context.Context, pc *core.PromptContext) (*core.Classification, error) {
	pc.Message.Snippet = c.textProcessor.ProcessText(pc.Message.Snippet, c.maxBodySize)
	prompt := llm.BuildPrompt(pc)

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, mapError(err)
	}

	c.logger.Debug("Gemini classification call completed",
		zap.String("model", c.modelName),
		zap.Duration("duration", time.Since(start)))

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &core.PermanentError{Reason: "empty response from Gemini"}
	}

	responseText := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])

	return llm.ParseResponse(responseText, c.modelName)
}

// mapError translates Google API failures into the pipeline's error taxonomy.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &core.RateLimitError{Err: err}
		case apiErr.Code >= 500:
			return &core.TransientError{Op: "gemini generate content", Err: err}
		default:
			return &core.PermanentError{
				Reason: fmt.Sprintf("Gemini request rejected with status %d", apiErr.Code),
				Err:    err,
			}
		}
	}
	return &core.TransientError{Op: "gemini generate content", Err: err}
}
