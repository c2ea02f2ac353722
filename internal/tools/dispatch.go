package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"analyst/internal/memory"
	"analyst/internal/notes"
	"analyst/internal/sandbox"
	"analyst/internal/types"
	"analyst/internal/warehouse"
)

// previewRows caps how many rows of an exploratory query the model sees.
const previewRows = 50

// Deps carries the subsystems tool handlers act on.
type Deps struct {
	Warehouse *warehouse.DB
	Sandbox   *sandbox.Executor
	Memory    *memory.Store
	Notes     *notes.File
	Log       *zap.Logger
}

// Result is the outcome of dispatching one tool call.
//
// Terminal marks a successful output tool: the turn ends and Display
// holds what the user sees. Failed output tools are never terminal; their
// error goes back to the model like any internal failure.
type Result struct {
	Call       types.ToolCall
	Kind       types.ToolKind
	Terminal   bool
	IsError    bool
	Visibility types.Visibility
	Content    string // fed back to the model
	Display    string // rendered to the user, byte-identical to the verified value
	Outcome    *sandbox.ExecutionOutcome
}

// ToolResult converts the dispatch result into the conversation shape.
func (r Result) ToolResult() types.ToolResult {
	return types.ToolResult{
		CallID:     r.Call.ID,
		IsError:    r.IsError,
		Content:    r.Content,
		Visibility: r.Visibility,
	}
}

// Dispatcher validates and executes tool calls.
type Dispatcher struct {
	registry *Registry
	deps     Deps
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher over the given registry and deps.
func NewDispatcher(registry *Registry, deps Deps) *Dispatcher {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{registry: registry, deps: deps, log: log.Named("tools")}
}

// Registry returns the dispatcher's tool registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Notes returns the working notes file, or nil when none is wired.
func (d *Dispatcher) Notes() *notes.File { return d.deps.Notes }

// Dispatch runs one tool call. question is the user question driving the
// turn; successful outputs are indexed against it for later retrieval.
func (d *Dispatcher) Dispatch(ctx context.Context, question string, call types.ToolCall) Result {
	kind, err := d.registry.Kind(call.Name)
	if err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}

	res := d.execute(ctx, question, call, kind)
	d.log.Debug("tool dispatched",
		zap.String("tool", call.Name),
		zap.Bool("error", res.IsError),
		zap.Bool("terminal", res.Terminal))
	return res
}

func (d *Dispatcher) execute(ctx context.Context, question string, call types.ToolCall, kind types.ToolKind) Result {
	switch call.Name {
	case ToolRunSQL:
		return d.runSQL(ctx, call)
	case ToolRunTransform:
		return d.runTransform(ctx, call)
	case ToolInspectSchema:
		return d.inspectSchema(ctx, call)
	case ToolReadNotes:
		return d.readNotes(call)
	case ToolUpdateNotes:
		return d.updateNotes(call)
	case ToolSubmitResult:
		return d.submitResult(ctx, question, call)
	case ToolSubmitObservation:
		return d.submitObservation(ctx, call)
	case ToolRenderArtifact:
		return d.renderArtifact(ctx, question, call)
	case ToolSendMessage:
		return d.sendMessage(call)
	default:
		return d.errorResult(call, kind, &ArgumentError{Tool: call.Name, Reason: "unknown tool"})
	}
}

func (d *Dispatcher) runSQL(ctx context.Context, call types.ToolCall) Result {
	var args RunSQLArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}
	if strings.TrimSpace(args.SQL) == "" {
		return d.errorResult(call, types.KindInternal, &ArgumentError{Tool: call.Name, Reason: "sql must be non-empty"})
	}

	table, err := d.deps.Warehouse.Query(ctx, args.SQL)
	if err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}
	return d.internalResult(call, formatPreview(table))
}

func (d *Dispatcher) runTransform(ctx context.Context, call types.ToolCall) Result {
	var args RunTransformArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}
	if strings.TrimSpace(args.Function) == "" {
		return d.errorResult(call, types.KindInternal, &ArgumentError{Tool: call.Name, Reason: "function must be non-empty"})
	}

	outcome := d.deps.Sandbox.Execute(ctx, sortedBindings(args.Inputs), args.Function)
	res := Result{
		Call:       call,
		Kind:       types.KindInternal,
		Visibility: types.VisibilityModel,
		Outcome:    &outcome,
	}
	if !outcome.OK() {
		res.IsError = true
		res.Content = fmt.Sprintf("%s: %s", outcome.Status, outcome.ErrorMessage)
		return res
	}
	res.Content = outcome.ResultText
	return res
}

func (d *Dispatcher) inspectSchema(ctx context.Context, call types.ToolCall) Result {
	var args InspectSchemaArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}

	if args.Table == "" {
		infos, err := d.deps.Warehouse.Tables(ctx)
		if err != nil {
			return d.errorResult(call, types.KindInternal, err)
		}
		if len(infos) == 0 {
			return d.internalResult(call, "The warehouse has no tables.")
		}
		var b strings.Builder
		b.WriteString("Tables:\n")
		for _, info := range infos {
			fmt.Fprintf(&b, "- %s (%s)\n", info.Name, info.Type)
		}
		return d.internalResult(call, b.String())
	}

	cols, err := d.deps.Warehouse.Columns(ctx, args.Table)
	if err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s:\n", args.Table)
	for _, col := range cols {
		null := "NOT NULL"
		if col.Nullable {
			null = "NULL"
		}
		fmt.Fprintf(&b, "- %s %s %s\n", col.Name, col.Type, null)
	}
	if sample, err := d.deps.Warehouse.SampleRows(ctx, args.Table, 5); err == nil && sample.RowCount() > 0 {
		b.WriteString("\nSample rows:\n")
		b.WriteString(formatPreview(sample))
	}
	return d.internalResult(call, b.String())
}

func (d *Dispatcher) readNotes(call types.ToolCall) Result {
	var args ReadNotesArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}
	content, err := d.deps.Notes.Read()
	if err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}
	if content == "" {
		content = "(no notes yet)"
	}
	return d.internalResult(call, content)
}

func (d *Dispatcher) updateNotes(call types.ToolCall) Result {
	var args UpdateNotesArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindInternal, err)
	}
	if err := d.deps.Notes.UpdateSection(args.Section, args.Content); err != nil {
		return d.errorResult(call, types.KindInternal, &ArgumentError{Tool: call.Name, Reason: err.Error()})
	}
	return d.internalResult(call, fmt.Sprintf("Updated notes section %q.", args.Section))
}

func (d *Dispatcher) submitResult(ctx context.Context, question string, call types.ToolCall) Result {
	var args SubmitResultArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindOutput, err)
	}
	if err := validateBindings(call.Name, args.Inputs); err != nil {
		return d.errorResult(call, types.KindOutput, err)
	}
	if strings.TrimSpace(args.Function) == "" {
		return d.errorResult(call, types.KindOutput, &ArgumentError{Tool: call.Name, Reason: "function must be non-empty"})
	}

	outcome := d.deps.Sandbox.Execute(ctx, sortedBindings(args.Inputs), args.Function)
	if !outcome.OK() {
		return d.outcomeError(call, &outcome)
	}

	d.indexQuery(ctx, question, outcome.Bindings, outcome.ResultText)

	return Result{
		Call:       call,
		Kind:       types.KindOutput,
		Terminal:   true,
		Visibility: types.VisibilityUser,
		Content:    outcome.ResultText,
		Display:    outcome.ResultText,
		Outcome:    &outcome,
	}
}

func (d *Dispatcher) submitObservation(ctx context.Context, call types.ToolCall) Result {
	var args SubmitObservationArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindOutput, err)
	}
	if strings.TrimSpace(args.Observation) == "" {
		return d.errorResult(call, types.KindOutput, &ArgumentError{Tool: call.Name, Reason: "observation must be non-empty"})
	}

	if err := d.deps.Memory.IndexObservation(ctx, args.Observation, args.Topic); err != nil {
		d.log.Warn("failed to index observation", zap.Error(err))
	}

	return Result{
		Call:       call,
		Kind:       types.KindOutput,
		Terminal:   true,
		Visibility: types.VisibilityUser,
		Content:    args.Observation,
		Display:    args.Observation,
	}
}

func (d *Dispatcher) renderArtifact(ctx context.Context, question string, call types.ToolCall) Result {
	var args RenderArtifactArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindOutput, err)
	}
	if err := validateBindings(call.Name, args.Inputs); err != nil {
		return d.errorResult(call, types.KindOutput, err)
	}
	if strings.TrimSpace(args.Code) == "" {
		return d.errorResult(call, types.KindOutput, &ArgumentError{Tool: call.Name, Reason: "code must be non-empty"})
	}
	if strings.TrimSpace(args.Filename) == "" {
		return d.errorResult(call, types.KindOutput, &ArgumentError{Tool: call.Name, Reason: "filename must be non-empty"})
	}

	outcome := d.deps.Sandbox.ExecuteArtifact(ctx, sortedBindings(args.Inputs), args.Code, args.Filename)
	if !outcome.OK() {
		return d.outcomeError(call, &outcome)
	}

	d.indexQuery(ctx, question, outcome.Bindings, "artifact: "+outcome.ArtifactPath)

	display := fmt.Sprintf("Artifact written to %s", outcome.ArtifactPath)
	return Result{
		Call:       call,
		Kind:       types.KindOutput,
		Terminal:   true,
		Visibility: types.VisibilityUser,
		Content:    display,
		Display:    display,
		Outcome:    &outcome,
	}
}

func (d *Dispatcher) sendMessage(call types.ToolCall) Result {
	var args SendMessageArgs
	if err := d.registry.Decode(call, &args); err != nil {
		return d.errorResult(call, types.KindOutput, err)
	}
	if strings.TrimSpace(args.Message) == "" {
		return d.errorResult(call, types.KindOutput, &ArgumentError{Tool: call.Name, Reason: "message must be non-empty"})
	}
	return Result{
		Call:       call,
		Kind:       types.KindOutput,
		Terminal:   true,
		Visibility: types.VisibilityUser,
		Content:    args.Message,
		Display:    args.Message,
	}
}

// indexQuery records a successful output's queries for future retrieval.
// Indexing failures never affect the turn.
func (d *Dispatcher) indexQuery(ctx context.Context, question string, bindings []sandbox.QueryBinding, summary string) {
	if err := d.deps.Memory.IndexQuery(ctx, question, combinedSQL(bindings), summary); err != nil {
		d.log.Warn("failed to index query", zap.Error(err))
	}
}

func (d *Dispatcher) internalResult(call types.ToolCall, content string) Result {
	return Result{
		Call:       call,
		Kind:       types.KindInternal,
		Visibility: types.VisibilityModel,
		Content:    content,
	}
}

func (d *Dispatcher) errorResult(call types.ToolCall, kind types.ToolKind, err error) Result {
	return Result{
		Call:       call,
		Kind:       kind,
		IsError:    true,
		Visibility: types.VisibilityModel,
		Content:    err.Error(),
	}
}

// outcomeError converts a failed execution into a model-only result the
// model can recover from. The turn does not end.
func (d *Dispatcher) outcomeError(call types.ToolCall, outcome *sandbox.ExecutionOutcome) Result {
	return Result{
		Call:       call,
		Kind:       types.KindOutput,
		IsError:    true,
		Visibility: types.VisibilityModel,
		Content:    fmt.Sprintf("%s: %s", outcome.Status, outcome.ErrorMessage),
		Outcome:    outcome,
	}
}

// combinedSQL joins bindings into one annotated script for indexing.
func combinedSQL(bindings []sandbox.QueryBinding) string {
	var b strings.Builder
	for i, binding := range bindings {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "-- %s\n%s", binding.Alias, strings.TrimSpace(binding.SQL))
	}
	return b.String()
}

// formatPreview renders a query result as aligned text, capped at
// previewRows rows.
func formatPreview(t *warehouse.Table) string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, " | "))
	b.WriteString("\n")

	shown := t.Rows
	if len(shown) > previewRows {
		shown = shown[:previewRows]
	}
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	if len(t.Rows) > previewRows {
		fmt.Fprintf(&b, "(%d rows total, showing first %d)\n", len(t.Rows), previewRows)
	} else {
		fmt.Fprintf(&b, "(%d rows)\n", len(t.Rows))
	}
	return b.String()
}
