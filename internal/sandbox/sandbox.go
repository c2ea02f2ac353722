// Package sandbox executes output computations: named SQL bindings are run
// against the warehouse, their results bound as tables into a restricted
// Go interpreter, and a transform computes the final value.
//
// The interpreter is yaegi with an import whitelist. Instead of shelling
// out or embedding a general-purpose evaluator, transforms are plain Go
// functions interpreted at runtime: no network, no filesystem, no process
// spawning, and a hard wall-clock timeout. A transform that breaks the
// rules fails its own execution, never the host.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"analyst/internal/warehouse"
)

// QueryBinding names a SQL statement whose result becomes a table inside
// the transform's scope.
type QueryBinding struct {
	Alias string
	SQL   string
}

// Status classifies the terminal state of one execution.
type Status string

const (
	StatusOK             Status = "ok"
	StatusQueryError     Status = "query_error"
	StatusTransformError Status = "transform_error"
)

// ExecutionOutcome is the terminal value of one Execute call. A failed
// outcome never carries a partial result.
type ExecutionOutcome struct {
	Status       Status
	Result       interface{}
	ResultText   string
	ErrorMessage string
	FailedAlias  string // set for query errors
	Bindings     []QueryBinding
	ArtifactPath string // set by ExecuteArtifact on success
}

// OK reports whether the execution succeeded.
func (o *ExecutionOutcome) OK() bool { return o.Status == StatusOK }

// The transform contract: a Go function receiving each binding's rows as
// []map[string]interface{} keyed by alias.
const runSignature = "func Run(tables map[string][]map[string]interface{}) (interface{}, error)"

// Executor runs bindings plus a transform under a timeout.
type Executor struct {
	wh          *warehouse.DB
	timeout     time.Duration
	artifactDir string
	allowed     map[string]bool
	log         *zap.Logger
}

// New creates an executor over the given warehouse.
func New(wh *warehouse.DB, timeout time.Duration, artifactDir string, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		wh:          wh,
		timeout:     timeout,
		artifactDir: artifactDir,
		log:         log.Named("sandbox"),
		allowed: map[string]bool{
			"bytes":         true,
			"encoding/json": true,
			"errors":        true,
			"fmt":           true,
			"math":          true,
			"regexp":        true,
			"sort":          true,
			"strconv":       true,
			"strings":       true,
			"time":          true,
			"unicode":       true,

			// Blocked by omission: os, os/exec, net, net/http, io,
			// io/ioutil, syscall, unsafe, plugin, reflect, runtime.
		},
	}
}

// Execute runs each binding's query in order, then evaluates the transform
// over the bound tables. Any query failure short-circuits with
// StatusQueryError and the transform is never invoked.
func (e *Executor) Execute(ctx context.Context, bindings []QueryBinding, transform string) ExecutionOutcome {
	outcome := ExecutionOutcome{Bindings: bindings}

	tables, failed, err := e.runBindings(ctx, bindings)
	if err != nil {
		outcome.Status = StatusQueryError
		outcome.FailedAlias = failed
		outcome.ErrorMessage = fmt.Sprintf("query %q failed: %v", failed, err)
		return outcome
	}

	value, err := e.evalTransform(ctx, transform, tables)
	if err != nil {
		outcome.Status = StatusTransformError
		outcome.ErrorMessage = err.Error()
		return outcome
	}

	outcome.Status = StatusOK
	outcome.Result = value
	outcome.ResultText = FormatValue(value)
	return outcome
}

// runBindings executes every binding, returning the bound tables or the
// alias of the first failure.
func (e *Executor) runBindings(ctx context.Context, bindings []QueryBinding) (map[string][]map[string]interface{}, string, error) {
	tables := make(map[string][]map[string]interface{}, len(bindings))
	for _, b := range bindings {
		t, err := e.wh.Query(ctx, b.SQL)
		if err != nil {
			return nil, b.Alias, err
		}
		tables[b.Alias] = t.RowMaps()
	}
	return tables, "", nil
}

// evalTransform interprets the transform and calls its Run function. The
// interpreter runs in its own goroutine so a runaway transform hits the
// timeout instead of hanging the loop.
func (e *Executor) evalTransform(ctx context.Context, code string, tables map[string][]map[string]interface{}) (interface{}, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("transform is empty; it must define %s", runSignature)
	}
	if err := e.validateImports(code); err != nil {
		return nil, err
	}

	pkgName, full := wrapCode(code)
	if !strings.Contains(full, "func Run(") {
		return nil, fmt.Errorf("transform must define %s", runSignature)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type evalResult struct {
		value interface{}
		err   error
	}
	resultChan := make(chan evalResult, 1)

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- evalResult{err: fmt.Errorf("transform panic: %v\n%s", r, clipStack(debug.Stack()))}
			}
		}()

		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			resultChan <- evalResult{err: fmt.Errorf("failed to load interpreter stdlib: %w", err)}
			return
		}

		if _, err := i.Eval(full); err != nil {
			resultChan <- evalResult{err: fmt.Errorf("transform did not compile: %v", err)}
			return
		}

		v, err := i.Eval(pkgName + ".Run")
		if err != nil {
			resultChan <- evalResult{err: fmt.Errorf("transform must define %s: %v", runSignature, err)}
			return
		}

		run, ok := v.Interface().(func(map[string][]map[string]interface{}) (interface{}, error))
		if !ok {
			resultChan <- evalResult{err: fmt.Errorf("Run has the wrong signature (expected %s)", runSignature)}
			return
		}

		value, err := run(tables)
		resultChan <- evalResult{value: value, err: err}
	}()

	select {
	case r := <-resultChan:
		e.log.Debug("transform evaluated",
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("ok", r.err == nil))
		if r.err != nil {
			return nil, fmt.Errorf("transform failed: %w", r.err)
		}
		return r.value, nil
	case <-ctx.Done():
		// The interpreter goroutine is abandoned; its eventual result
		// lands in the buffered channel and is discarded.
		return nil, fmt.Errorf("transform timed out after %v", e.timeout)
	}
}

// validateImports rejects any import outside the whitelist before the code
// reaches the interpreter.
func (e *Executor) validateImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := strings.Trim(trimmed, `_ "`); pkg != "" {
				imports = append(imports, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.TrimPrefix(trimmed, "import ")
			pkg = strings.Trim(pkg, `_ "`)
			imports = append(imports, pkg)
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !e.allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %s (allowed: %s)",
			strings.Join(forbidden, ", "), strings.Join(e.allowedList(), ", "))
	}
	return nil
}

func (e *Executor) allowedList() []string {
	out := make([]string, 0, len(e.allowed))
	for pkg := range e.allowed {
		out = append(out, pkg)
	}
	sort.Strings(out) // stable error messages
	return out
}

var packageClause = regexp.MustCompile(`(?m)^\s*package\s+(\w+)`)

// wrapCode ensures the transform has a package clause and reports the
// package name whose Run symbol gets called.
func wrapCode(code string) (string, string) {
	if m := packageClause.FindStringSubmatch(code); m != nil {
		return m[1], code
	}
	return "transform", "package transform\n\n" + code
}

// FormatValue renders a transform result as the canonical user-visible
// text. This string is what gets displayed; nothing downstream reformats
// numbers.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "(no result)"
	case string:
		return val
	case float64, float32, int, int64, int32, bool:
		return fmt.Sprintf("%v", val)
	default:
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

func clipStack(stack []byte) string {
	const max = 2000
	if len(stack) <= max {
		return string(stack)
	}
	return string(stack[:max]) + "\n...(truncated)"
}
