package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"analyst/internal/types"
)

const anthropicVersion = "2023-06-01"

// anthropicClient implements types.LLMClient against the Anthropic
// Messages API over raw HTTP.
type anthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func newAnthropicClient(cfg Config) *anthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &anthropicClient{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// anthropicMessage carries a role plus either a plain string or a slice
// of content blocks.
type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// anthropicContentBlock covers "text", "tool_use" and "tool_result" blocks.
type anthropicContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a bare prompt.
func (c *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteTurn(ctx, "", []types.Turn{types.UserTurn(prompt)}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CompleteTurn sends the conversation with tool definitions.
func (c *anthropicClient) CompleteTurn(ctx context.Context, systemPrompt string, turns []types.Turn, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	messages, err := turnsToMessages(turns)
	if err != nil {
		return nil, err
	}

	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  messages,
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	// Retry transient failures with exponential backoff.
	const maxRetries = 3
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, retryable, err := c.doRequest(ctx, reqBody)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *anthropicClient) doRequest(ctx context.Context, reqBody anthropicRequest) (*types.LLMToolResponse, bool, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, false, fmt.Errorf("API error: %s", apiResp.Error.Message)
	}

	out := &types.LLMToolResponse{
		StopReason: apiResp.StopReason,
		Usage: types.UsageMetadata{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	out.Text = strings.TrimSpace(text.String())
	return out, false, nil
}

// turnsToMessages converts conversation turns to API messages. Tool result
// turns become user-role tool_result blocks answering the preceding
// assistant tool_use blocks.
func turnsToMessages(turns []types.Turn) ([]anthropicMessage, error) {
	messages := make([]anthropicMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case "user":
			messages = append(messages, anthropicMessage{Role: "user", Content: turn.Content})

		case "assistant":
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, anthropicMessage{Role: "assistant", Content: turn.Content})
				continue
			}
			blocks := make([]anthropicContentBlock, 0, len(turn.ToolCalls)+1)
			if turn.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Input,
				})
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: blocks})

		case "tool":
			if turn.Result == nil {
				return nil, fmt.Errorf("tool turn without a result")
			}
			block := anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: turn.Result.CallID,
				Content:   turn.Result.Content,
				IsError:   turn.Result.IsError,
			}
			// Consecutive tool results must share one user message.
			if n := len(messages); n > 0 && messages[n-1].Role == "user" {
				if blocks, ok := messages[n-1].Content.([]anthropicContentBlock); ok {
					messages[n-1].Content = append(blocks, block)
					continue
				}
			}
			messages = append(messages, anthropicMessage{Role: "user", Content: []anthropicContentBlock{block}})

		default:
			return nil, fmt.Errorf("unknown turn role: %s", turn.Role)
		}
	}
	return messages, nil
}
