package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"
)

const anthropicVersion = "bedrock-2023-05-31"

// BedrockClient is an implementation of the LLMClient interface using Amazon Bedrock
type BedrockClient struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewBedrockClient creates a new Bedrock client
func NewBedrockClient(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *BedrockClient {
	return &BedrockClient{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// Name identifies the provider and model
func (c *BedrockClient) Name() string {
	return "bedrock:" + c.modelID
}

// Complete invokes the model with a payload in the model family's format
func (c *BedrockClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload, err := buildPayload(c.modelID, systemPrompt, userPrompt, c.maxTokens, c.temperature, c.topP)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to invoke Bedrock model: %w", err))
	}

	text, err := parseReply(c.modelID, resp.Body)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Bedrock completion",
		zap.String("model_id", c.modelID),
		zap.Int("reply_size", len(text)))

	return text, nil
}

func buildPayload(modelID, systemPrompt, userPrompt string, maxTokens int, temperature, topP float32) ([]byte, error) {
	switch {
	case isClaudeMessagesModel(modelID):
		return json.Marshal(map[string]interface{}{
			"anthropic_version": anthropicVersion,
			"system":            systemPrompt,
			"messages": []map[string]interface{}{
				{"role": "user", "content": userPrompt},
			},
			"max_tokens":  maxTokens,
			"temperature": temperature,
			"top_p":       topP,
		})
	case isAnthropicModel(modelID):
		// Legacy text completions need the Human/Assistant framing
		return json.Marshal(map[string]interface{}{
			"prompt":               fmt.Sprintf("\n\nHuman: %s\n\n%s\n\nAssistant:", systemPrompt, userPrompt),
			"max_tokens_to_sample": maxTokens,
			"temperature":          temperature,
			"top_p":                topP,
		})
	case isAmazonTitanModel(modelID):
		return json.Marshal(map[string]interface{}{
			"inputText": systemPrompt + "\n\n" + userPrompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
				"topP":          topP,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"prompt":      systemPrompt + "\n\n" + userPrompt,
			"max_tokens":  maxTokens,
			"temperature": temperature,
			"top_p":       topP,
		})
	}
}

func parseReply(modelID string, body []byte) (string, error) {
	switch {
	case isClaudeMessagesModel(modelID):
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		var b strings.Builder
		for _, c := range resp.Content {
			if c.Type == "text" {
				b.WriteString(c.Text)
			}
		}
		if b.Len() == 0 {
			return "", fmt.Errorf("empty response from Claude model")
		}
		return b.String(), nil
	case isAnthropicModel(modelID):
		var resp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return resp.Completion, nil
	case isAmazonTitanModel(modelID):
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return resp.Results[0].OutputText, nil
	default:
		var resp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		switch {
		case resp.Output != "":
			return resp.Output, nil
		case resp.Text != "":
			return resp.Text, nil
		case resp.Response != "":
			return resp.Response, nil
		default:
			return string(body), nil
		}
	}
}

// classify marks throttling and transient service failures as retryable
func classify(err error) error {
	var throttled *types.ThrottlingException
	var internal *types.InternalServerException
	if errors.As(err, &throttled) || errors.As(err, &internal) {
		return &core.RetryableError{Err: err}
	}
	return err
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func isAnthropicModel(modelID string) bool {
	return strings.Contains(modelID, "anthropic.claude")
}

// isClaudeMessagesModel reports Claude generations that only accept the messages API
func isClaudeMessagesModel(modelID string) bool {
	return isAnthropicModel(modelID) &&
		!strings.Contains(modelID, "claude-v2") &&
		!strings.Contains(modelID, "claude-instant")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func isAmazonTitanModel(modelID string) bool {
	return strings.HasPrefix(modelID, "amazon.titan")
}
