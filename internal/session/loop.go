// Package session runs the dispatch loop: one user question in, at most
// one user-visible output out. Internal tools may run any number of
// times in between; output tools end the turn on their first success.
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"analyst/internal/retrieval"
	"analyst/internal/tools"
	"analyst/internal/types"
)

// OutcomeKind classifies how a turn ended.
type OutcomeKind string

const (
	OutcomeAnswer      OutcomeKind = "answer"      // verified value from submit_result
	OutcomeObservation OutcomeKind = "observation" // qualitative finding
	OutcomeArtifact    OutcomeKind = "artifact"    // rendered HTML file
	OutcomeMessage     OutcomeKind = "message"     // reply without a computed value
	OutcomeReasoning   OutcomeKind = "reasoning"   // model ended with plain text, no output tool
	OutcomeExhausted   OutcomeKind = "exhausted"   // tool round budget ran out
)

// Outcome is the terminal state of one processed question.
type Outcome struct {
	Kind         OutcomeKind
	Display      string // what the user sees
	ArtifactPath string // set for artifacts
	Rounds       int
	Usage        types.UsageMetadata
	Trace        []tools.Result // every executed tool call, in order
}

// Config bounds the loop.
type Config struct {
	MaxToolRounds int
}

// Loop drives one question through retrieval, the model, and tools.
type Loop struct {
	client     types.LLMClient
	dispatcher *tools.Dispatcher
	retriever  *retrieval.Retriever
	maxRounds  int
	log        *zap.Logger
}

// New creates a loop. retriever may be nil when no memory store is
// available; the loop then runs without retrieved context.
func New(client types.LLMClient, dispatcher *tools.Dispatcher, retriever *retrieval.Retriever, cfg Config, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 16
	}
	return &Loop{
		client:     client,
		dispatcher: dispatcher,
		retriever:  retriever,
		maxRounds:  maxRounds,
		log:        log.Named("session"),
	}
}

// Process answers one question. Model and transport failures are fatal
// and returned as errors; everything recoverable is fed back to the
// model inside the loop.
func (l *Loop) Process(ctx context.Context, question string) (*Outcome, error) {
	var rc *retrieval.RankedContext
	if l.retriever != nil {
		rc = l.retriever.Retrieve(ctx, question)
	}
	var notesText string
	if nf := l.dispatcher.Notes(); nf != nil {
		var err error
		if notesText, err = nf.Read(); err != nil {
			l.log.Warn("failed to read working notes", zap.Error(err))
		}
	}
	systemPrompt := buildSystemPrompt(rc, notesText)

	turns := []types.Turn{types.UserTurn(question)}
	outcome := &Outcome{}

	for round := 0; round < l.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome.Rounds = round + 1

		resp, err := l.client.CompleteTurn(ctx, systemPrompt, turns, l.dispatcher.Registry().Definitions())
		if err != nil {
			return nil, fmt.Errorf("model request failed: %w", err)
		}
		outcome.Usage.Add(resp.Usage)

		turns = append(turns, types.AssistantTurn(resp.Text, resp.ToolCalls))

		// Plain text with no tool calls ends the turn. The text is
		// reasoning, not data: rule 4 of the prompt keeps values out
		// of it, and nothing here was verified by execution.
		if len(resp.ToolCalls) == 0 {
			outcome.Kind = OutcomeReasoning
			outcome.Display = resp.Text
			return outcome, nil
		}

		var terminal *tools.Result
		for _, call := range resp.ToolCalls {
			// After a successful output, remaining calls are not
			// executed. They still get results so the conversation
			// stays well-formed.
			if terminal != nil {
				turns = append(turns, types.ResultTurn(types.ToolResult{
					CallID:     call.ID,
					Content:    "skipped: an output was already produced this turn",
					Visibility: types.VisibilityModel,
				}))
				continue
			}

			res := l.dispatcher.Dispatch(ctx, question, call)
			outcome.Trace = append(outcome.Trace, res)
			turns = append(turns, types.ResultTurn(res.ToolResult()))

			if res.Terminal {
				terminal = &res
			}
		}

		if terminal != nil {
			l.finish(outcome, terminal)
			return outcome, nil
		}
	}

	l.log.Warn("tool round budget exhausted", zap.Int("rounds", l.maxRounds))
	outcome.Kind = OutcomeExhausted
	outcome.Display = fmt.Sprintf("Stopped after %d tool rounds without reaching an answer. Try a narrower question.", l.maxRounds)
	return outcome, nil
}

func (l *Loop) finish(outcome *Outcome, res *tools.Result) {
	switch res.Call.Name {
	case tools.ToolSubmitResult:
		outcome.Kind = OutcomeAnswer
	case tools.ToolSubmitObservation:
		outcome.Kind = OutcomeObservation
	case tools.ToolRenderArtifact:
		outcome.Kind = OutcomeArtifact
		if res.Outcome != nil {
			outcome.ArtifactPath = res.Outcome.ArtifactPath
		}
	case tools.ToolSendMessage:
		outcome.Kind = OutcomeMessage
	default:
		outcome.Kind = OutcomeMessage
	}
	outcome.Display = res.Display
}
