package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"analyst/internal/types"
)

// openAIClient implements types.LLMClient over the chat-completions API,
// which also covers OpenAI-compatible gateways via a custom base URL.
type openAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func newOpenAIClient(cfg Config) *openAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &openAIClient{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Complete sends a bare prompt.
func (c *openAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteTurn sends the conversation with tool definitions and returns
// free text and/or proposed tool calls.
func (c *openAIClient) CompleteTurn(ctx context.Context, systemPrompt string, turns []types.Turn, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, turn := range turns {
		msg, err := turnToMessage(turn)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	oaTools := make([]openai.Tool, len(tools))
	for i, t := range tools {
		oaTools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		Tools:     oaTools,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]
	out := &types.LLMToolResponse{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: types.UsageMetadata{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			return nil, fmt.Errorf("failed to parse arguments for tool %s: %w", tc.Function.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	return out, nil
}

// turnToMessage converts one conversation turn to the wire shape.
func turnToMessage(turn types.Turn) (openai.ChatCompletionMessage, error) {
	switch turn.Role {
	case "user":
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: turn.Content,
		}, nil

	case "assistant":
		msg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: turn.Content,
		}
		for _, call := range turn.ToolCalls {
			args, err := json.Marshal(call.Input)
			if err != nil {
				return msg, fmt.Errorf("failed to marshal arguments for tool %s: %w", call.Name, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		return msg, nil

	case "tool":
		if turn.Result == nil {
			return openai.ChatCompletionMessage{}, fmt.Errorf("tool turn without a result")
		}
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    turn.Result.Content,
			ToolCallID: turn.Result.CallID,
		}, nil

	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("unknown turn role: %s", turn.Role)
	}
}
