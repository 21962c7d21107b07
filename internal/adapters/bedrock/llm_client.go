package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/adapters/llm"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
)

// BedrockClient is an implementation of the ClassifierBackend interface using Amazon Bedrock
type BedrockClient struct {
	client        *bedrockruntime.Client
	modelID       string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewBedrockClient creates a new Bedrock client
func NewBedrockClient(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *BedrockClient {
	return &BedrockClient{
		client:        client,
		modelID:       modelID,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func (c *BedrockClient) isAnthropicModel() bool {
	return strings.Contains(c.modelID, "anthropic")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (c *BedrockClient) isAmazonTitanModel() bool {
	return strings.Contains(c.modelID, "titan")
}

// Classify asks the model to triage one email
func (c *BedrockClient) Classify(ctx context.Context, pc *core.PromptContext) (*core.Classification, error) {
	pc.Message.Snippet = c.textProcessor.ProcessText(pc.Message.Snippet, c.maxBodySize)
	prompt := llm.BuildPrompt(pc)

	var payload []byte
	var err error

	if c.isAnthropicModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        c.maxTokens,
			"temperature":       c.temperature,
			"top_p":             c.topP,
			"system":            llm.SystemPrompt(),
			"messages": []map[string]interface{}{
				{"role": "user", "content": prompt},
			},
		})
	} else if c.isAmazonTitanModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	} else {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	start := time.Now()
	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, mapError(err)
	}

	c.logger.Debug("Bedrock classification call completed",
		zap.String("model_id", c.modelID),
		zap.Duration("duration", time.Since(start)))

	responseText, err := c.extractText(resp.Body)
	if err != nil {
		return nil, err
	}

	return llm.ParseResponse(responseText, c.modelID)
}

// extractText pulls the generated text out of the model-specific envelope.
func (c *BedrockClient) extractText(body []byte) (string, error) {
	if c.isAnthropicModel() {
		var claudeResp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", &core.PermanentError{Reason: "failed to unmarshal Claude response", Err: err}
		}
		if len(claudeResp.Content) == 0 {
			return "", &core.PermanentError{Reason: "empty response from Claude model"}
		}
		return claudeResp.Content[0].Text, nil
	}

	if c.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", &core.PermanentError{Reason: "failed to unmarshal Titan response", Err: err}
		}
		if len(titanResp.Results) == 0 {
			return "", &core.PermanentError{Reason: "empty response from Titan model"}
		}
		return titanResp.Results[0].OutputText, nil
	}

	var genericResp struct {
		Completion string `json:"completion"`
		OutputText string `json:"output_text"`
	}
	if err := json.Unmarshal(body, &genericResp); err != nil {
		return "", &core.PermanentError{Reason: "failed to unmarshal model response", Err: err}
	}
	if genericResp.Completion != "" {
		return genericResp.Completion, nil
	}
	if genericResp.OutputText != "" {
		return genericResp.OutputText, nil
	}
	return "", &core.PermanentError{Reason: "unrecognized Bedrock response format"}
}

// mapError translates AWS failures into the pipeline's error taxonomy.
func mapError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return &core.RateLimitError{Err: err}
		case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException", "ModelNotReadyException":
			return &core.TransientError{Op: "bedrock invoke model", Err: err}
		default:
			return &core.PermanentError{
				Reason: fmt.Sprintf("Bedrock rejected the request: %s", apiErr.ErrorCode()),
				Err:    err,
			}
		}
	}
	return &core.TransientError{Op: "bedrock invoke model", Err: err}
}
