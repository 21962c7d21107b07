package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/adapters/llm"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
)

// OpenAIClient is an implementation of the ClassifierBackend interface using OpenAI
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	return &OpenAIClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Classify asks the model to triage one email
func (c *OpenAIClient) Classify(ctx context.Context, pc *core.PromptContext) (*core.Classification, error) {
	pc.Message.Snippet = c.textProcessor.ProcessText(pc.Message.Snippet, c.maxBodySize)
	prompt := llm.BuildPrompt(pc)

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: llm.SystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	c.logger.Debug("OpenAI classification call completed",
		zap.String("model", c.modelName),
		zap.Duration("duration", time.Since(start)))

	if len(resp.Choices) == 0 {
		return nil, &core.PermanentError{Reason: "empty response from OpenAI"}
	}

	return llm.ParseResponse(resp.Choices[0].Message.Content, c.modelName)
}

// mapError translates transport failures into the pipeline's error taxonomy.
func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &core.RateLimitError{Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &core.TransientError{Op: "openai chat completion", Err: err}
		default:
			return &core.PermanentError{
				Reason: fmt.Sprintf("OpenAI request rejected with status %d", apiErr.HTTPStatusCode),
				Err:    err,
			}
		}
	}
	// Timeouts, connection resets and other transport errors.
	return &core.TransientError{Op: "openai chat completion", Err: err}
}
