package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/result"
)

// Options controls text rendering.
type Options struct {
	// Color enables ANSI colors.
	Color bool

	// AllMessages prints every message of every node. By default only the
	// comparison and error messages of unsuccessful nodes are printed.
	AllMessages bool
}

// detailKeys are printed for unsuccessful nodes.
var detailKeys = []string{
	result.KeyExpected,
	result.KeyActual,
	result.KeyReason,
	result.KeyErrorMessage,
}

// RenderText renders the run header, result tree and summary.
func RenderText(rep *Report, opts Options) string {
	var b strings.Builder

	run := rep.Run
	fmt.Fprintf(&b, "Run:       %s\n", run.ID)
	fmt.Fprintf(&b, "Operation: %s\n", run.Operation)
	if run.Environment != "" {
		fmt.Fprintf(&b, "Env:       %s\n", run.Environment)
	}
	fmt.Fprintf(&b, "Resource:  %s\n", run.Resource)
	fmt.Fprintf(&b, "Document:  %s (%s)\n", run.Document, run.DocumentKind)
	fmt.Fprintf(&b, "Status:    %s\n", colorStatus(run.Status, opts.Color))
	fmt.Fprintf(&b, "Duration:  %s\n", run.Duration)
	if run.Error != "" {
		fmt.Fprintf(&b, "Error:     %s\n", run.Error)
	}

	if rep.Result != nil {
		b.WriteString("\n")
		b.WriteString(RenderTree(*rep.Result, opts))
		b.WriteString("\n")
	}

	if rep.Summary != nil {
		s := rep.Summary
		fmt.Fprintf(&b, "\n%d nodes: %d successful, %d failed, %d errored\n",
			s.Nodes, s.Successful, s.Failed, s.Errored)
	}
	return b.String()
}

// RenderTree renders a result tree as a connected list.
func RenderTree(tree result.Snapshot, opts Options) string {
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedRounded)
	appendNode(l, tree, opts)
	return l.Render()
}

func appendNode(l list.Writer, node result.Snapshot, opts Options) {
	l.AppendItem(nodeLabel(node, opts))
	if len(node.Children) == 0 {
		return
	}
	l.Indent()
	for _, child := range node.Children {
		appendNode(l, child, opts)
	}
	l.UnIndent()
}

func nodeLabel(node result.Snapshot, opts Options) string {
	label := fmt.Sprintf("%s [%s]", node.Description, colorState(node.State, opts.Color))

	var details []string
	switch {
	case opts.AllMessages:
		for _, m := range node.Messages {
			details = append(details, fmt.Sprintf("%s=%s", m.Key, m.Value))
		}
	case node.State == result.StateFailure || node.State == result.StateError:
		for _, key := range detailKeys {
			if v, ok := node.Message(key); ok {
				details = append(details, fmt.Sprintf("%s=%s", key, v))
			}
		}
	}
	if len(details) > 0 {
		label += " " + strings.Join(details, " ")
	}
	return label
}

// RenderRuns renders a table of runs, newest first as given.
func RenderRuns(runs []*engine.Run, opts Options) string {
	if len(runs) == 0 {
		return "No runs found\n"
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "OPERATION", "ENV", "RESOURCE", "DOCUMENT", "STATUS", "STARTED", "DURATION"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			run.Operation,
			run.Environment,
			run.Resource,
			run.Document,
			colorStatus(run.Status, opts.Color),
			run.StartedAt.Local().Format(time.DateTime),
			run.Duration().Round(time.Millisecond).String(),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(runs)})
	return t.Render() + "\n"
}

func colorState(state result.State, enabled bool) string {
	if !enabled {
		return string(state)
	}
	switch state {
	case result.StateSuccess:
		return text.FgGreen.Sprint(state)
	case result.StateFailure:
		return text.FgRed.Sprint(state)
	case result.StateError:
		return text.FgHiRed.Sprint(state)
	default:
		return text.FgYellow.Sprint(state)
	}
}

func colorStatus(status engine.RunStatus, enabled bool) string {
	if !enabled {
		return string(status)
	}
	switch status {
	case engine.RunStatusSucceeded:
		return text.FgGreen.Sprint(status)
	case engine.RunStatusFailed, engine.RunStatusErrored:
		return text.FgRed.Sprint(status)
	case engine.RunStatusCancelled:
		return text.FgHiBlack.Sprint(status)
	default:
		return text.FgYellow.Sprint(status)
	}
}
