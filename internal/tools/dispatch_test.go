package tools

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"analyst/internal/memory"
	"analyst/internal/notes"
	"analyst/internal/sandbox"
	"analyst/internal/types"
	"analyst/internal/warehouse"
)

type flatEngine struct{}

func (flatEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (e flatEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (flatEngine) Dimensions() int { return 3 }
func (flatEngine) Name() string    { return "flat" }

type fixture struct {
	dispatcher *Dispatcher
	memory     *memory.Store
	notes      *notes.File
	artifacts  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	whPath := filepath.Join(dir, "warehouse.db")
	db, err := sql.Open("sqlite", whPath)
	if err != nil {
		t.Fatalf("failed to create fixture db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE fct_orders (order_id INTEGER PRIMARY KEY, total REAL)`,
		`INSERT INTO fct_orders VALUES (1, 100.0), (2, 250.5)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture statement failed: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close fixture db: %v", err)
	}

	wh, err := warehouse.Open(whPath, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("warehouse.Open failed: %v", err)
	}
	t.Cleanup(func() { wh.Close() })

	store, err := memory.Open(filepath.Join(dir, "memory.db"), flatEngine{}, nil)
	if err != nil {
		t.Fatalf("memory.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	artifacts := filepath.Join(dir, "artifacts")
	notesFile := notes.NewFile(filepath.Join(dir, "notes.md"))
	executor := sandbox.New(wh, 10*time.Second, artifacts, nil)

	return &fixture{
		dispatcher: NewDispatcher(registry, Deps{
			Warehouse: wh,
			Sandbox:   executor,
			Memory:    store,
			Notes:     notesFile,
		}),
		memory:    store,
		notes:     notesFile,
		artifacts: artifacts,
	}
}

func call(name string, input map[string]interface{}) types.ToolCall {
	return types.ToolCall{ID: "call-1", Name: name, Input: input}
}

func TestRegistryDefinitions(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	defs := registry.Definitions()
	if len(defs) != 9 {
		t.Fatalf("expected 9 tools, got %d", len(defs))
	}

	outputs := 0
	for _, def := range defs {
		if def.InputSchema == nil {
			t.Errorf("tool %s has no input schema", def.Name)
		}
		if def.Kind == types.KindOutput {
			outputs++
		}
	}
	if outputs != 4 {
		t.Errorf("expected 4 output tools, got %d", outputs)
	}

	if kind, err := registry.Kind(ToolSubmitResult); err != nil || kind != types.KindOutput {
		t.Errorf("submit_result should be an output tool, got %v %v", kind, err)
	}
	if _, err := registry.Kind("no_such_tool"); err == nil {
		t.Error("expected an error for an unknown tool")
	}
}

func TestDecodeRejectsWrongTypes(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	var args RunSQLArgs
	err = registry.Decode(call(ToolRunSQL, map[string]interface{}{"sql": 42}), &args)
	if err == nil {
		t.Fatal("expected a validation error for a non-string sql")
	}
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected *ArgumentError, got %T", err)
	}
}

func TestDispatchRunSQL(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call(ToolRunSQL, map[string]interface{}{
		"sql": "SELECT total FROM fct_orders ORDER BY order_id",
	}))

	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if res.Terminal {
		t.Error("internal tools must never be terminal")
	}
	if res.Visibility != types.VisibilityModel {
		t.Error("exploratory results must stay model-only")
	}
	if !strings.Contains(res.Content, "250.5") {
		t.Errorf("expected the preview to contain rows, got %q", res.Content)
	}
}

func TestDispatchRunSQLError(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call(ToolRunSQL, map[string]interface{}{
		"sql": "SELECT nope FROM fct_orders",
	}))

	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if res.Terminal {
		t.Error("failed calls must never be terminal")
	}
}

func TestDispatchSubmitResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, "what is the total revenue?", call(ToolSubmitResult, map[string]interface{}{
		"inputs": map[string]interface{}{"orders": "SELECT total FROM fct_orders"},
		"function": `func Run(tables map[string][]map[string]interface{}) (interface{}, error) {
	sum := 0.0
	for _, row := range tables["orders"] {
		if v, ok := row["total"].(float64); ok {
			sum += v
		}
	}
	return sum, nil
}`,
	}))

	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !res.Terminal {
		t.Fatal("a successful submit_result must end the turn")
	}
	if res.Visibility != types.VisibilityUser {
		t.Error("the answer must be user-visible")
	}
	if res.Display != "350.5" {
		t.Errorf("expected display '350.5', got %q", res.Display)
	}
	if res.Display != res.Content {
		t.Error("the model and the user must see the identical value")
	}

	// The successful query is recorded for future retrieval.
	if n := f.memory.Count(memory.CollectionQuery); n != 1 {
		t.Errorf("expected 1 indexed query, got %d", n)
	}
}

func TestDispatchSubmitResultQueryError(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call(ToolSubmitResult, map[string]interface{}{
		"inputs":   map[string]interface{}{"orders": "SELECT nope FROM fct_orders"},
		"function": `func Run(tables map[string][]map[string]interface{}) (interface{}, error) { return 0, nil }`,
	}))

	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if res.Terminal {
		t.Error("a failed output must not end the turn")
	}
	if res.Visibility != types.VisibilityModel {
		t.Error("failures are fed back to the model only")
	}
	if !strings.Contains(res.Content, "query_error") {
		t.Errorf("expected a query_error status in the content, got %q", res.Content)
	}

	// Nothing is indexed and nothing reaches the user.
	if n := f.memory.Count(memory.CollectionQuery); n != 0 {
		t.Errorf("failed outputs must not be indexed, got %d records", n)
	}
	if res.Display != "" {
		t.Error("failed outputs must not produce a display value")
	}
}

func TestDispatchSubmitResultRequiresInputs(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call(ToolSubmitResult, map[string]interface{}{
		"inputs":   map[string]interface{}{},
		"function": `func Run(tables map[string][]map[string]interface{}) (interface{}, error) { return 0, nil }`,
	}))

	if !res.IsError {
		t.Fatal("expected a validation error for empty inputs")
	}
	if !strings.Contains(res.Content, "at least one input") {
		t.Errorf("unexpected message: %q", res.Content)
	}
}

func TestDispatchSubmitObservation(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call(ToolSubmitObservation, map[string]interface{}{
		"observation": "Orders cluster in December.",
		"topic":       "seasonality",
	}))

	if res.IsError || !res.Terminal {
		t.Fatalf("expected a terminal success, got error=%v terminal=%v", res.IsError, res.Terminal)
	}
	if res.Display != "Orders cluster in December." {
		t.Errorf("unexpected display: %q", res.Display)
	}
	if n := f.memory.Count(memory.CollectionObservation); n != 1 {
		t.Errorf("expected the observation to be indexed, got %d", n)
	}
}

func TestDispatchRenderArtifact(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "chart", call(ToolRenderArtifact, map[string]interface{}{
		"inputs":   map[string]interface{}{"orders": "SELECT total FROM fct_orders"},
		"code":     "<html><head><title>t</title></head><body><div id=\"chart\"></div></body></html>",
		"filename": "chart.html",
	}))

	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !res.Terminal {
		t.Fatal("a successful render_artifact must end the turn")
	}

	path := filepath.Join(f.artifacts, "chart.html")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if !strings.Contains(string(data), "window.DATA") {
		t.Error("expected query data injected into the artifact")
	}
	if !strings.Contains(string(data), "250.5") {
		t.Error("expected the bound rows inside window.DATA")
	}
}

func TestDispatchRenderArtifactQueryError(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "chart", call(ToolRenderArtifact, map[string]interface{}{
		"inputs":   map[string]interface{}{"orders": "SELECT nope FROM fct_orders"},
		"code":     "<html></html>",
		"filename": "chart.html",
	}))

	if !res.IsError || res.Terminal {
		t.Fatal("a failed artifact must be a non-terminal error")
	}
	if _, err := os.Stat(filepath.Join(f.artifacts, "chart.html")); !os.IsNotExist(err) {
		t.Error("no artifact file may exist after a failure")
	}
}

func TestDispatchSendMessage(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call(ToolSendMessage, map[string]interface{}{
		"message": "Which year do you mean?",
	}))

	if res.IsError || !res.Terminal {
		t.Fatalf("expected a terminal success, got error=%v terminal=%v", res.IsError, res.Terminal)
	}
	if res.Display != "Which year do you mean?" {
		t.Errorf("unexpected display: %q", res.Display)
	}
}

func TestDispatchNotesRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, "q", call(ToolUpdateNotes, map[string]interface{}{
		"section": "key_tables",
		"content": "fct_orders holds one row per order.",
	}))
	if res.IsError {
		t.Fatalf("update_notes failed: %s", res.Content)
	}

	res = f.dispatcher.Dispatch(ctx, "q", call(ToolReadNotes, map[string]interface{}{}))
	if res.IsError {
		t.Fatalf("read_notes failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "fct_orders holds one row per order.") {
		t.Errorf("notes content missing, got %q", res.Content)
	}
}

func TestDispatchUpdateNotesRejectsUnknownSection(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call(ToolUpdateNotes, map[string]interface{}{
		"section": "scratch",
		"content": "x",
	}))
	if !res.IsError {
		t.Fatal("expected an error for an unknown section")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), "q", call("launch_rockets", nil))
	if !res.IsError {
		t.Fatal("expected an error for an unknown tool")
	}
	if res.Terminal {
		t.Error("unknown tools must not be terminal")
	}
}

func TestDispatchInspectSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, "q", call(ToolInspectSchema, map[string]interface{}{}))
	if res.IsError {
		t.Fatalf("inspect_schema failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "fct_orders") {
		t.Errorf("expected the table listing, got %q", res.Content)
	}

	res = f.dispatcher.Dispatch(ctx, "q", call(ToolInspectSchema, map[string]interface{}{
		"table": "fct_orders",
	}))
	if res.IsError {
		t.Fatalf("inspect_schema failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "total") {
		t.Errorf("expected column details, got %q", res.Content)
	}
}
