package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/policy"
	"github.com/athrane/pineapple-sub012/pkg/report"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/session/mbean"
	"github.com/athrane/pineapple-sub012/pkg/stores"
	"github.com/athrane/pineapple-sub012/pkg/workspace"
)

const matchingDomain = `
domain: {
	name:                "base_domain"
	"admin-server-name": "AdminServer"
}
`

const driftedDomain = `
domain: {
	name:                "base_domain"
	"admin-server-name": "ManagedServer1"
}
`

const developmentDomain = `
domain: {
	name:                      "base_domain"
	"production-mode-enabled": false
}
`

type testEnv struct {
	server *httptest.Server
	runner *engine.Runner
	store  *stores.SQLiteStore
}

func setup(t *testing.T, withStore bool) *testEnv {
	t.Helper()

	snapshot, err := filepath.Abs(filepath.Join("..", "session", "mbean", "testdata", "domain.yaml"))
	require.NoError(t, err)

	dir := t.TempDir()
	environments := fmt.Sprintf(`
environments: {
	dev: resources: domain: {kind: "mbean", url: %q}
	prod: resources: domain: {kind: "mbean", url: %q}
}
`, "file://"+filepath.ToSlash(snapshot), "file://"+filepath.ToSlash(snapshot))

	files := map[string]string{
		config.EnvironmentFile: environments,
		"matching.cue":         matchingDomain,
		"drifted.cue":          driftedDomain,
		"development.cue":      developmentDomain,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	policies, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	factories := session.NewFactories()
	factories.Register(mbean.Kind, mbean.Factory)

	env := &testEnv{}
	runnerOpts := []engine.RunnerOption{engine.WithPolicyChecker(policies)}
	var serverOpts []Option
	if withStore {
		env.store, err = stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
		require.NoError(t, err)
		ctx := context.Background()
		require.NoError(t, env.store.Init(ctx))
		require.NoError(t, env.store.Migrate(ctx))
		t.Cleanup(func() { env.store.Close() })

		runnerOpts = append(runnerOpts, engine.WithStore(env.store))
		serverOpts = append(serverOpts, WithRunReader(env.store))
	}

	env.runner = engine.NewRunner(factories, runnerOpts...)
	srv := NewServer(env.runner, workspace.New(dir, "", zerolog.Nop()), serverOpts...)
	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) post(t *testing.T, path string, sel workspace.Selection) *http.Response {
	t.Helper()
	body, err := json.Marshal(sel)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func selection(env, document string) workspace.Selection {
	return workspace.Selection{
		Operation:   engine.OperationTest,
		Environment: env,
		Resource:    "domain",
		Document:    document,
	}
}

func TestHealth(t *testing.T) {
	env := setup(t, true)

	resp := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestCreateRunAndWait(t *testing.T) {
	env := setup(t, false)

	resp := env.post(t, "/runs?wait=true", selection("dev", "matching.cue"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rep := decode[report.Report](t, resp)
	assert.Equal(t, engine.RunStatusSucceeded, rep.Run.Status)
	assert.Equal(t, "/runs/"+rep.Run.ID, resp.Header.Get("Location"))
	require.NotNil(t, rep.Result)
	assert.Equal(t, result.StateSuccess, rep.Result.State)
	require.NotNil(t, rep.Summary)
	assert.Zero(t, rep.Summary.Failed)
}

func TestCreateRunReportsDrift(t *testing.T) {
	env := setup(t, false)

	resp := env.post(t, "/runs", selection("dev", "drifted.cue"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[engine.Run](t, resp)
	require.NotEmpty(t, run.ID)

	waited := env.get(t, "/runs/"+run.ID+"/wait?timeout=10s")
	require.Equal(t, http.StatusOK, waited.StatusCode)

	rep := decode[report.Report](t, waited)
	assert.Equal(t, engine.RunStatusFailed, rep.Run.Status)
	require.NotNil(t, rep.Result)
	require.Len(t, rep.Result.Children, 2)

	drift := rep.Result.Children[1]
	assert.Equal(t, result.StateFailure, drift.State)
	actual, ok := drift.Message(result.KeyActual)
	require.True(t, ok)
	assert.Equal(t, "AdminServer", actual)
}

func TestCreateRunDeniedByPolicy(t *testing.T) {
	env := setup(t, false)

	sel := selection("prod", "development.cue")
	sel.Operation = engine.OperationConfigure
	resp := env.post(t, "/runs", sel)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, engine.ErrCodePolicyViolation, body.Code)
	assert.Contains(t, body.Error, "production-mode")
	assert.Empty(t, env.runner.Runs())
}

func TestCreateRunRejectsInvalidRequests(t *testing.T) {
	env := setup(t, false)

	tests := []struct {
		name   string
		sel    workspace.Selection
		status int
		code   string
	}{
		{
			name:   "missing environment",
			sel:    workspace.Selection{Operation: engine.OperationTest, Resource: "domain", Document: "matching.cue"},
			status: http.StatusUnprocessableEntity,
			code:   engine.ErrCodeValidation,
		},
		{
			name:   "unknown operation",
			sel:    workspace.Selection{Operation: "deploy", Environment: "dev", Resource: "domain", Document: "matching.cue"},
			status: http.StatusUnprocessableEntity,
			code:   engine.ErrCodeValidation,
		},
		{
			name:   "unknown environment",
			sel:    selection("staging", "matching.cue"),
			status: http.StatusNotFound,
			code:   engine.ErrCodeNotFound,
		},
		{
			name:   "missing document",
			sel:    selection("dev", "missing.cue"),
			status: http.StatusNotFound,
			code:   engine.ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/runs", tt.sel)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, resp).Code)
		})
	}

	resp, err := http.Post(env.server.URL+"/runs", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	env := setup(t, false)

	env.post(t, "/runs?wait=true", selection("dev", "matching.cue"))
	env.post(t, "/runs?wait=true", selection("dev", "drifted.cue"))

	all := decode[RunList](t, env.get(t, "/runs"))
	assert.Equal(t, 2, all.Count)

	failed := decode[RunList](t, env.get(t, "/runs?status=failed"))
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, engine.RunStatusFailed, failed.Runs[0].Status)

	limited := decode[RunList](t, env.get(t, "/runs?limit=1"))
	assert.Equal(t, 1, limited.Count)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/runs?status=unknown").StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/runs?limit=-1").StatusCode)
}

func TestGetRunFromStore(t *testing.T) {
	env := setup(t, true)

	created := decode[report.Report](t, env.post(t, "/runs?wait=true", selection("dev", "drifted.cue")))

	// A fresh server over the same store knows the run only from the store.
	factories := session.NewFactories()
	srv := NewServer(engine.NewRunner(factories), workspace.New(t.TempDir(), "", zerolog.Nop()), WithRunReader(env.store))
	restarted := httptest.NewServer(srv.Handler())
	defer restarted.Close()

	require.Eventually(t, func() bool {
		run, err := env.store.GetRun(context.Background(), created.Run.ID)
		return err == nil && run.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(restarted.URL + "/runs/" + created.Run.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rep := decode[report.Report](t, resp)
	assert.Equal(t, engine.RunStatusFailed, rep.Run.Status)
	require.NotNil(t, rep.Result)
	assert.Equal(t, 2, rep.Result.Count()[result.StateFailure])

	list, err := http.Get(restarted.URL + "/runs")
	require.NoError(t, err)
	defer list.Body.Close()
	assert.Equal(t, 1, decode[RunList](t, list).Count)

	missing, err := http.Get(restarted.URL + "/runs/unknown")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, engine.ErrCodeNotFound, decode[ErrorResponse](t, missing).Code)
}

func TestGetRunFormats(t *testing.T) {
	env := setup(t, false)

	created := decode[report.Report](t, env.post(t, "/runs?wait=true", selection("dev", "drifted.cue")))

	text := env.get(t, "/runs/"+created.Run.ID+"?format=text")
	assert.Equal(t, http.StatusOK, text.StatusCode)
	assert.Contains(t, text.Header.Get("Content-Type"), "text/plain")

	yaml := env.get(t, "/runs/"+created.Run.ID+"?format=yaml")
	assert.Equal(t, http.StatusOK, yaml.StatusCode)
	assert.Equal(t, "application/yaml", yaml.Header.Get("Content-Type"))

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/runs/"+created.Run.ID+"?format=xml").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/runs/unknown").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setup(t, false)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/metrics").StatusCode)

	srv := NewServer(env.runner, nil, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "pineapple_runs_total 1")
	})))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
