package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/result"
)

// Format selects the encoding of a written report.
type Format string

const (
	// FormatText renders the result tree and a summary for terminals.
	FormatText Format = "text"

	// FormatJSON encodes the report as indented JSON.
	FormatJSON Format = "json"

	// FormatYAML encodes the report as YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat converts a flag value into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported report format: %s", s)
	}
}

// Summary counts the result nodes of a run per state.
type Summary struct {
	Nodes      int `json:"nodes" yaml:"nodes"`
	Successful int `json:"successful" yaml:"successful"`
	Failed     int `json:"failed" yaml:"failed"`
	Errored    int `json:"errored" yaml:"errored"`
	Executing  int `json:"executing,omitempty" yaml:"executing,omitempty"`
}

// Summarize counts the nodes of a result tree.
func Summarize(tree result.Snapshot) Summary {
	counts := tree.Count()
	s := Summary{
		Successful: counts[result.StateSuccess],
		Failed:     counts[result.StateFailure],
		Errored:    counts[result.StateError],
		Executing:  counts[result.StateExecuting],
	}
	s.Nodes = s.Successful + s.Failed + s.Errored + s.Executing
	return s
}

// RunInfo is the serialized form of a run record.
type RunInfo struct {
	ID           string           `json:"id" yaml:"id"`
	Operation    string           `json:"operation" yaml:"operation"`
	Environment  string           `json:"environment,omitempty" yaml:"environment,omitempty"`
	Resource     string           `json:"resource" yaml:"resource"`
	Document     string           `json:"document" yaml:"document"`
	DocumentKind string           `json:"document_kind" yaml:"document_kind"`
	Status       engine.RunStatus `json:"status" yaml:"status"`
	State        result.State     `json:"state,omitempty" yaml:"state,omitempty"`
	StartedAt    time.Time        `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Duration     string           `json:"duration" yaml:"duration"`
	Error        string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report bundles a run with its result tree.
type Report struct {
	Run     RunInfo          `json:"run" yaml:"run"`
	Summary *Summary         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Result  *result.Snapshot `json:"result,omitempty" yaml:"result,omitempty"`
}

// New builds a report. The tree may be nil for runs that never produced one.
func New(run *engine.Run, tree *result.Snapshot) *Report {
	rep := &Report{
		Run: RunInfo{
			ID:           run.ID,
			Operation:    string(run.Operation),
			Environment:  run.Environment,
			Resource:     run.Resource,
			Document:     run.Document,
			DocumentKind: run.DocumentKind,
			Status:       run.Status,
			State:        run.State,
			StartedAt:    run.StartedAt,
			CompletedAt:  run.CompletedAt,
			Duration:     run.Duration().Round(time.Millisecond).String(),
			Error:        run.Error,
		},
		Result: tree,
	}
	if tree != nil {
		summary := Summarize(*tree)
		rep.Summary = &summary
	}
	return rep
}

// Write encodes the report in the given format.
func Write(w io.Writer, rep *Report, format Format, opts Options) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	case FormatText, "":
		_, err := io.WriteString(w, RenderText(rep, opts))
		return err
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}
