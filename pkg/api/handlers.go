package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/report"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/stores"
	"github.com/athrane/pineapple-sub012/pkg/workspace"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Class   string                 `json:"class,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RunList is the body of GET /runs.
type RunList struct {
	Runs  []*engine.Run `json:"runs"`
	Count int           `json:"count"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.HealthCheck(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createRun handles POST /runs. With ?wait=true the response is sent once
// the run has completed.
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var sel workspace.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeError(w, http.StatusBadRequest, &ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err), Code: engine.ErrCodeValidation})
		return
	}
	if err := s.validate.Struct(sel); err != nil {
		writeError(w, http.StatusUnprocessableEntity, &ErrorResponse{Error: err.Error(), Code: engine.ErrCodeValidation})
		return
	}

	req, err := s.resolver.Request(r.Context(), sel)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	run, err := s.runner.Start(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.logger.Info().
		Str("run_id", run.ID).
		Str("operation", string(run.Operation)).
		Str("environment", run.Environment).
		Str("resource", run.Resource).
		Msg("Accepted run")

	w.Header().Set("Location", "/runs/"+run.ID)
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		s.respondWhenDone(w, r, run.ID, http.StatusCreated)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// listRuns handles GET /runs?status=&resource=&limit=&offset=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stores.RunFilter{
		Status:   engine.RunStatus(q.Get("status")),
		Resource: q.Get("resource"),
	}
	if filter.Status != "" {
		if err := filter.Status.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, &ErrorResponse{Error: err.Error(), Code: engine.ErrCodeValidation})
			return
		}
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, &ErrorResponse{Error: "invalid limit", Code: engine.ErrCodeValidation})
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, &ErrorResponse{Error: "invalid offset", Code: engine.ErrCodeValidation})
		return
	}

	var runs []*engine.Run
	if s.store != nil {
		runs, err = s.store.ListRuns(r.Context(), filter)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
	} else {
		runs = filterRuns(s.runner.Runs(), filter)
	}
	if runs == nil {
		runs = []*engine.Run{}
	}
	writeJSON(w, http.StatusOK, RunList{Runs: runs, Count: len(runs)})
}

// getRun handles GET /runs/{id}?format=json|yaml|text.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeReport(w, r, http.StatusOK, rep)
}

// waitRun handles GET /runs/{id}/wait?timeout=30s.
func (s *Server) waitRun(w http.ResponseWriter, r *http.Request) {
	s.respondWhenDone(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (s *Server) respondWhenDone(w http.ResponseWriter, r *http.Request, id string, status int) {
	timeout := s.waitTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, &ErrorResponse{Error: "invalid timeout", Code: engine.ErrCodeValidation})
			return
		}
		timeout = min(d, s.waitTimeout)
	}

	if run, ok := s.runner.Get(id); ok {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		select {
		case <-run.Done():
		case <-ctx.Done():
			writeError(w, http.StatusRequestTimeout, &ErrorResponse{
				Error: fmt.Sprintf("run %s still running", id),
				Code:  "TIMEOUT",
			})
			return
		}
	}

	rep, err := s.report(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeReport(w, r, status, rep)
}

// report builds the report of a run, preferring the live run of this
// process over the stored record.
func (s *Server) report(ctx context.Context, id string) (*report.Report, error) {
	if run, ok := s.runner.Get(id); ok {
		var tree *result.Snapshot
		if run.Result != nil {
			snap := run.Result.Snapshot()
			tree = &snap
		}
		return report.New(run, tree), nil
	}

	if s.store == nil {
		return nil, notFound(id)
	}
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, err
	}
	tree, err := s.store.GetResultTree(ctx, id)
	if err != nil && !errors.Is(err, stores.ErrNotFound) {
		return nil, err
	}
	return report.New(run, tree), nil
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, status int, rep *report.Report) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, &ErrorResponse{Error: err.Error(), Code: engine.ErrCodeValidation})
		return
	}
	if format == report.FormatText && r.URL.Query().Get("format") == "" {
		format = report.FormatJSON
	}

	switch format {
	case report.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	case report.FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if err := report.Write(w, rep, format, report.Options{}); err != nil {
		s.logger.Error().Err(err).Str("run_id", rep.Run.ID).Msg("Failed to write report")
	}
}

// writeEngineError maps an error to a status code by its engine code.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	resp := &ErrorResponse{Error: err.Error()}

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		resp.Code = ee.Code
		resp.Class = string(ee.Class)
		resp.Details = ee.Details
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrPolicyViolation):
		status = http.StatusForbidden
	case errors.Is(err, stores.ErrNotFound):
		status = http.StatusNotFound
		resp.Code = engine.ErrCodeNotFound
	case resp.Code == engine.ErrCodeNotFound:
		status = http.StatusNotFound
	case resp.Code == engine.ErrCodeValidation, resp.Code == engine.ErrCodeUnsupportedDocument:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeError(w, status, resp)
}

func notFound(id string) error {
	return engine.NewPermanentError(fmt.Sprintf("run %s not found", id), nil).WithCode(engine.ErrCodeNotFound)
}

func filterRuns(runs []*engine.Run, filter stores.RunFilter) []*engine.Run {
	out := make([]*engine.Run, 0, len(runs))
	for _, run := range runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Resource != "" && run.Resource != filter.Resource {
			continue
		}
		out = append(out, run)
	}
	if filter.Offset >= len(out) {
		return out[:0]
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid value %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp *ErrorResponse) {
	writeJSON(w, status, resp)
}
