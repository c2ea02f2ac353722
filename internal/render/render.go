// Package render formats session outcomes for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"analyst/internal/session"
	"analyst/internal/tools"
)

var (
	answerStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	traceStyle   = lipgloss.NewStyle().Faint(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	summaryStyle = lipgloss.NewStyle().Faint(true)
)

// Renderer writes outcomes to a terminal.
type Renderer struct {
	out       io.Writer
	markdown  *glamour.TermRenderer
	showTrace bool
}

// New creates a renderer. Markdown rendering degrades to plain text when
// the terminal renderer cannot be built.
func New(out io.Writer, showTrace bool) *Renderer {
	md, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &Renderer{out: out, markdown: md, showTrace: showTrace}
}

// Outcome renders one processed question.
//
// Answers and artifact paths are written exactly as produced; only
// observations, messages and reasoning go through markdown styling.
func (r *Renderer) Outcome(o *session.Outcome) {
	if r.showTrace {
		r.trace(o.Trace)
	}

	switch o.Kind {
	case session.OutcomeAnswer:
		fmt.Fprintln(r.out, labelStyle.Render("Answer"))
		fmt.Fprintln(r.out, answerStyle.Render(o.Display))
	case session.OutcomeObservation:
		fmt.Fprintln(r.out, labelStyle.Render("Observation"))
		fmt.Fprintln(r.out, r.renderMarkdown(o.Display))
	case session.OutcomeArtifact:
		fmt.Fprintln(r.out, labelStyle.Render("Artifact"))
		fmt.Fprintln(r.out, o.Display)
	case session.OutcomeReasoning, session.OutcomeMessage:
		fmt.Fprintln(r.out, r.renderMarkdown(o.Display))
	case session.OutcomeExhausted:
		fmt.Fprintln(r.out, errStyle.Render(o.Display))
	default:
		fmt.Fprintln(r.out, o.Display)
	}

	fmt.Fprintln(r.out, summaryStyle.Render(fmt.Sprintf(
		"%d round(s), %d tokens", o.Rounds, o.Usage.TotalTokens)))
}

// trace prints one dimmed line per executed tool call.
func (r *Renderer) trace(results []tools.Result) {
	for _, res := range results {
		status := "ok"
		if res.IsError {
			status = "error"
		}
		fmt.Fprintln(r.out, traceStyle.Render(fmt.Sprintf("  %s %s", res.Call.Name, status)))
	}
	if len(results) > 0 {
		fmt.Fprintln(r.out)
	}
}

func (r *Renderer) renderMarkdown(text string) string {
	if r.markdown == nil {
		return text
	}
	rendered, err := r.markdown.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

// Error renders a fatal failure.
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.out, errStyle.Render("Error: "+err.Error()))
}
