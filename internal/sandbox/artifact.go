package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExecuteArtifact runs the bindings and renders an HTML artifact with the
// query results injected as window.DATA. The artifact participates in the
// same success gate as a numeric result: a failed write is a transform
// error and nothing is shown to the user.
func (e *Executor) ExecuteArtifact(ctx context.Context, bindings []QueryBinding, html, filename string) ExecutionOutcome {
	outcome := ExecutionOutcome{Bindings: bindings}

	tables, failed, err := e.runBindings(ctx, bindings)
	if err != nil {
		outcome.Status = StatusQueryError
		outcome.FailedAlias = failed
		outcome.ErrorMessage = fmt.Sprintf("query %q failed: %v", failed, err)
		return outcome
	}

	if strings.TrimSpace(html) == "" {
		outcome.Status = StatusTransformError
		outcome.ErrorMessage = "artifact code is empty"
		return outcome
	}

	rendered, err := injectData(html, tables)
	if err != nil {
		outcome.Status = StatusTransformError
		outcome.ErrorMessage = fmt.Sprintf("failed to inject data: %v", err)
		return outcome
	}

	if err := os.MkdirAll(e.artifactDir, 0755); err != nil {
		outcome.Status = StatusTransformError
		outcome.ErrorMessage = fmt.Sprintf("failed to create artifact directory: %v", err)
		return outcome
	}

	// The model supplies the filename; keep writes inside the artifact dir.
	path := filepath.Join(e.artifactDir, filepath.Base(filename))
	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		outcome.Status = StatusTransformError
		outcome.ErrorMessage = fmt.Sprintf("failed to write artifact: %v", err)
		return outcome
	}

	outcome.Status = StatusOK
	outcome.ArtifactPath = path
	outcome.Result = fmt.Sprintf("Artifact written to %s (%d bytes)", path, len(rendered))
	outcome.ResultText = outcome.Result.(string)
	return outcome
}

// injectData embeds the bound tables as a window.DATA script. The model
// writes visualization code against window.DATA.<alias>; the system, not
// the model, supplies the real rows.
func injectData(html string, tables map[string][]map[string]interface{}) (string, error) {
	data, err := json.Marshal(tables)
	if err != nil {
		return "", err
	}
	script := fmt.Sprintf("<script>window.DATA = %s;</script>", string(data))

	for _, anchor := range []string{"</head>", "<body>"} {
		if idx := strings.Index(html, anchor); idx >= 0 {
			if anchor == "</head>" {
				return html[:idx] + script + html[idx:], nil
			}
			end := idx + len(anchor)
			return html[:end] + script + html[end:], nil
		}
	}
	// No recognizable structure; prepend so the data is defined before
	// any inline script runs.
	return script + html, nil
}
