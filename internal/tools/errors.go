package tools

import "fmt"

// ArgumentError reports a tool call whose arguments failed validation.
// It is recoverable: the dispatch loop feeds the message back to the
// model as a model-only result and the model may retry.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}
