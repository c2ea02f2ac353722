// Package types holds the shared contract types that cross package
// boundaries: tool definitions, tool calls and results, conversation turns,
// and the LLM client interface.
package types

import (
	"context"
)

// ToolKind classifies a tool by where its result goes.
type ToolKind string

const (
	// KindInternal tools return their result to the model only; the turn
	// continues.
	KindInternal ToolKind = "internal"

	// KindOutput tools produce the user-visible answer; a successful call
	// terminates the turn.
	KindOutput ToolKind = "output"
)

// ToolDefinition describes a tool the LLM can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Kind        ToolKind               `json:"kind"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the LLM.
// Each call is consumed exactly once.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Visibility controls who sees a tool result.
type Visibility string

const (
	// VisibilityModel results are appended to the conversation for the
	// model but never rendered as an answer.
	VisibilityModel Visibility = "model-only"

	// VisibilityUser results are rendered to the user and appended to the
	// conversation.
	VisibilityUser Visibility = "user-and-model"
)

// ToolResult is the immutable outcome of executing one ToolCall.
type ToolResult struct {
	CallID     string     `json:"call_id"`
	IsError    bool       `json:"is_error"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
}

// Turn is one entry in the conversation history.
//
// Role "user" and "assistant" turns carry Content; assistant turns may also
// carry ToolCalls. Role "tool" turns carry a ToolResult answering a prior
// call.
type Turn struct {
	Role      string      `json:"role"` // "user", "assistant", "tool"
	Content   string      `json:"content"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: "user", Content: content}
}

// AssistantTurn builds an assistant turn with optional tool calls.
func AssistantTurn(content string, calls []ToolCall) Turn {
	return Turn{Role: "assistant", Content: content, ToolCalls: calls}
}

// ResultTurn builds a tool turn answering one call.
func ResultTurn(res ToolResult) Turn {
	return Turn{Role: "tool", Result: &res}
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from another response.
func (u *UsageMetadata) Add(other UsageMetadata) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// LLMToolResponse contains both text response and tool calls from the LLM.
type LLMToolResponse struct {
	Text       string        `json:"text"`
	ToolCalls  []ToolCall    `json:"tool_calls"`
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", etc.
	Usage      UsageMetadata `json:"usage"`
}

// LLMClient defines the interface for LLM providers. The dispatch loop
// treats the provider as an opaque black box with no internal state: the
// full conversation is passed on every call.
type LLMClient interface {
	// Complete sends a bare prompt and returns the text completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteTurn sends the system prompt, the conversation so far, and
	// the registered tool definitions, returning free text and/or
	// proposed tool calls.
	CompleteTurn(ctx context.Context, systemPrompt string, turns []Turn, tools []ToolDefinition) (*LLMToolResponse, error)
}
