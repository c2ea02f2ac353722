// Package tools defines the analyst's tool surface: internal tools the
// model may call freely to explore, and output tools that end a turn by
// producing something the user sees. Schemas are reflected from the
// argument structs and every call is validated before it runs.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"analyst/internal/sandbox"
	"analyst/internal/types"
)

// Tool names.
const (
	ToolRunSQL            = "run_sql"
	ToolRunTransform      = "run_transform"
	ToolInspectSchema     = "inspect_schema"
	ToolReadNotes         = "read_notes"
	ToolUpdateNotes       = "update_notes"
	ToolSubmitResult      = "submit_result"
	ToolSubmitObservation = "submit_observation"
	ToolRenderArtifact    = "render_artifact"
	ToolSendMessage       = "send_message"
)

// RunSQLArgs runs one exploratory query. Results stay model-only.
type RunSQLArgs struct {
	SQL string `json:"sql" description:"SQL SELECT statement to run against the warehouse"`
}

// RunTransformArgs runs bindings plus a transform for exploration.
type RunTransformArgs struct {
	Inputs   map[string]string `json:"inputs" description:"Named SQL queries; each alias becomes a table available to the transform"`
	Function string            `json:"function" description:"Go source defining func Run(tables map[string][]map[string]interface{}) (interface{}, error)"`
}

// InspectSchemaArgs describes the warehouse layout.
type InspectSchemaArgs struct {
	Table string `json:"table,omitempty" description:"Optional table name; omit to list all tables"`
}

// ReadNotesArgs reads the working notes document.
type ReadNotesArgs struct{}

// UpdateNotesArgs rewrites one section of the notes document.
type UpdateNotesArgs struct {
	Section string `json:"section" description:"Section to replace: overview, key_tables, relationships, common_patterns, or notes"`
	Content string `json:"content" description:"New markdown body for the section"`
}

// SubmitResultArgs produces the final answer for the user. The answer is
// whatever the function returns when run over the query results; free
// text never becomes the answer.
type SubmitResultArgs struct {
	Inputs      map[string]string `json:"inputs" description:"Named SQL queries feeding the answer"`
	Function    string            `json:"function" description:"Go source defining func Run(tables map[string][]map[string]interface{}) (interface{}, error); its return value is the answer"`
	Explanation string            `json:"explanation,omitempty" description:"Short note on how the answer was derived"`
}

// SubmitObservationArgs records a qualitative finding for the user and
// for future retrieval.
type SubmitObservationArgs struct {
	Observation string `json:"observation" description:"The finding, in plain language"`
	Topic       string `json:"topic,omitempty" description:"Optional topic label for retrieval"`
}

// RenderArtifactArgs writes a self-contained HTML artifact whose data is
// injected from query results.
type RenderArtifactArgs struct {
	Inputs      map[string]string `json:"inputs" description:"Named SQL queries; results are injected as window.DATA"`
	Code        string            `json:"code" description:"Complete HTML document reading its data from window.DATA"`
	Filename    string            `json:"filename" description:"Output file name, e.g. revenue.html"`
	Explanation string            `json:"explanation,omitempty" description:"Short note on what the artifact shows"`
}

// SendMessageArgs replies without producing a verified value, e.g. to ask
// a clarifying question or report that the answer is not derivable.
type SendMessageArgs struct {
	Message string `json:"message" description:"The message to show the user"`
}

// Registry holds the tool definitions and their compiled validators.
type Registry struct {
	defs       []types.ToolDefinition
	kinds      map[string]types.ToolKind
	validators map[string]*jsonschema.Resolved
}

type toolSpec struct {
	name        string
	kind        types.ToolKind
	description string
	build       func() (map[string]interface{}, *jsonschema.Resolved, error)
}

// NewRegistry builds the fixed tool set.
func NewRegistry() (*Registry, error) {
	specs := []toolSpec{
		{ToolRunSQL, types.KindInternal,
			"Run a SQL query against the warehouse and see up to 50 rows of the result. Use this to explore before answering.",
			schemaFor[RunSQLArgs]},
		{ToolRunTransform, types.KindInternal,
			"Run named SQL queries and a Go transform over their results, and see the transform's return value. Use this to test a computation before submitting it.",
			schemaFor[RunTransformArgs]},
		{ToolInspectSchema, types.KindInternal,
			"List warehouse tables, or the columns and sample rows of one table.",
			schemaFor[InspectSchemaArgs]},
		{ToolReadNotes, types.KindInternal,
			"Read the working notes about this warehouse.",
			schemaFor[ReadNotesArgs]},
		{ToolUpdateNotes, types.KindInternal,
			"Replace one section of the working notes.",
			schemaFor[UpdateNotesArgs]},
		{ToolSubmitResult, types.KindOutput,
			"Submit the final answer. The answer is computed by running your queries and transform; only the transform's return value is shown to the user.",
			schemaFor[SubmitResultArgs]},
		{ToolSubmitObservation, types.KindOutput,
			"Report a qualitative finding that is not a single computed value.",
			schemaFor[SubmitObservationArgs]},
		{ToolRenderArtifact, types.KindOutput,
			"Produce an HTML artifact (chart, report) fed by query results injected as window.DATA.",
			schemaFor[RenderArtifactArgs]},
		{ToolSendMessage, types.KindOutput,
			"Reply to the user without a computed value, e.g. to ask for clarification or explain why the question cannot be answered from the warehouse.",
			schemaFor[SendMessageArgs]},
	}

	r := &Registry{
		kinds:      make(map[string]types.ToolKind, len(specs)),
		validators: make(map[string]*jsonschema.Resolved, len(specs)),
	}
	for _, spec := range specs {
		schemaMap, resolved, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("failed to build schema for %s: %w", spec.name, err)
		}
		r.defs = append(r.defs, types.ToolDefinition{
			Name:        spec.name,
			Kind:        spec.kind,
			Description: spec.description,
			InputSchema: schemaMap,
		})
		r.kinds[spec.name] = spec.kind
		r.validators[spec.name] = resolved
	}
	return r, nil
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []types.ToolDefinition {
	return r.defs
}

// Kind returns the tool's kind, or an error for unknown names.
func (r *Registry) Kind(name string) (types.ToolKind, error) {
	kind, ok := r.kinds[name]
	if !ok {
		return "", &ArgumentError{Tool: name, Reason: "unknown tool"}
	}
	return kind, nil
}

// Decode validates a call's input against the tool's schema and
// unmarshals it into args. Validation failures come back as
// *ArgumentError.
func (r *Registry) Decode(call types.ToolCall, args interface{}) error {
	resolved, ok := r.validators[call.Name]
	if !ok {
		return &ArgumentError{Tool: call.Name, Reason: "unknown tool"}
	}

	input := call.Input
	if input == nil {
		input = map[string]interface{}{}
	}
	if err := resolved.Validate(input); err != nil {
		return &ArgumentError{Tool: call.Name, Reason: err.Error()}
	}

	data, err := json.Marshal(input)
	if err != nil {
		return &ArgumentError{Tool: call.Name, Reason: err.Error()}
	}
	if err := json.Unmarshal(data, args); err != nil {
		return &ArgumentError{Tool: call.Name, Reason: err.Error()}
	}
	return nil
}

// sortedBindings converts the inputs map to bindings in deterministic
// alias order.
func sortedBindings(inputs map[string]string) []sandbox.QueryBinding {
	aliases := make([]string, 0, len(inputs))
	for alias := range inputs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	bindings := make([]sandbox.QueryBinding, len(aliases))
	for i, alias := range aliases {
		bindings[i] = sandbox.QueryBinding{Alias: alias, SQL: inputs[alias]}
	}
	return bindings
}

// validateBindings enforces the output gate's input requirements.
func validateBindings(tool string, inputs map[string]string) error {
	if len(inputs) == 0 {
		return &ArgumentError{Tool: tool, Reason: "at least one input query is required"}
	}
	for alias, sql := range inputs {
		if strings.TrimSpace(alias) == "" {
			return &ArgumentError{Tool: tool, Reason: "input aliases must be non-empty"}
		}
		if strings.TrimSpace(sql) == "" {
			return &ArgumentError{Tool: tool, Reason: fmt.Sprintf("input %q has an empty query", alias)}
		}
	}
	return nil
}
