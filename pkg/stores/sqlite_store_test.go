package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/session/mbean"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path:  ":memory:",
		Actor: "tester",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newRun(id string, startedAt time.Time) *engine.Run {
	return &engine.Run{
		ID:           id,
		Operation:    engine.OperationConfigure,
		Environment:  "dev",
		Resource:     "admin",
		Document:     "model/domain.cue",
		DocumentKind: "domain",
		Status:       engine.RunStatusRunning,
		StartedAt:    startedAt,
	}
}

// resultTree builds a completed tree: a domain with a matching name and a
// server whose port differs.
func resultTree() *result.Node {
	root := result.Start("configure model/domain.cue", result.ContinueAlways)
	root.AddMessage(result.KeyOperation, "configure")

	name := root.AddChild("name")
	name.AddMessage(result.KeyValue, "base_domain")
	name.CompleteAsSuccessful()

	server := root.AddChild("servers[AdminServer]")
	port := server.AddChild("listen-port")
	port.AddMessage(result.KeyExpected, "7002")
	port.AddMessage(result.KeyActual, "7001")
	port.CompleteAsFailure()
	server.CompleteAsComputed()

	root.CompleteAsComputed()
	return root
}

func complete(run *engine.Run, root *result.Node) {
	completed := run.StartedAt.Add(2 * time.Second)
	run.State = root.State()
	run.Status = engine.StatusFor(run.State)
	run.CompletedAt = &completed
}

func closeTo(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Millisecond && d < time.Millisecond
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for missing path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "result_nodes", "audit"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// A second migration is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("repeated migration failed: %v", err)
	}
}

func TestFileStorePersistsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pineapple.db")
	ctx := context.Background()

	open := func() *SQLiteStore {
		store, err := NewSQLiteStore(Config{Path: path})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		if err := store.Init(ctx); err != nil {
			t.Fatalf("failed to initialize store: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to migrate store: %v", err)
		}
		return store
	}

	store := open()
	if err := store.CreateRun(ctx, newRun("run-file", time.Now().UTC())); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	store = open()
	defer store.Close()
	if _, err := store.GetRun(ctx, "run-file"); err != nil {
		t.Fatalf("expected run to survive reopening: %v", err)
	}
}

// TestRunLifecycle tests creating, completing and reading a run
func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := newRun("run-001", time.Now().UTC())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	created, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if created.Status != engine.RunStatusRunning || created.CompletedAt != nil {
		t.Errorf("expected running run without completion time, got %+v", created)
	}
	if created.Operation != engine.OperationConfigure || created.Document != run.Document {
		t.Errorf("unexpected run %+v", created)
	}
	if !closeTo(created.StartedAt, run.StartedAt) {
		t.Errorf("expected StartedAt %v, got %v", run.StartedAt, created.StartedAt)
	}

	root := resultTree()
	complete(run, root)
	run.Error = "1 attribute differs"
	if err := store.CompleteRun(ctx, run, root.Snapshot()); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	completed, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if completed.Status != engine.RunStatusFailed {
		t.Errorf("expected status failed, got %s", completed.Status)
	}
	if completed.State != result.StateFailure {
		t.Errorf("expected state FAILURE, got %s", completed.State)
	}
	if completed.CompletedAt == nil || !closeTo(*completed.CompletedAt, *run.CompletedAt) {
		t.Errorf("expected CompletedAt %v, got %v", run.CompletedAt, completed.CompletedAt)
	}
	if completed.Error != run.Error {
		t.Errorf("expected error %q, got %q", run.Error, completed.Error)
	}

	if err := store.CompleteRun(ctx, newRun("run-missing", time.Now()), root.Snapshot()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown run, got %v", err)
	}
}

// TestResultTreeRoundTrip tests that a stored tree reads back unchanged
func TestResultTreeRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := newRun("run-tree", time.Now().UTC())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	if _, err := store.GetResultTree(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before completion, got %v", err)
	}

	root := resultTree()
	complete(run, root)
	want := root.Snapshot()
	if err := store.CompleteRun(ctx, run, want); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	got, err := store.GetResultTree(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get result tree: %v", err)
	}

	if got.ID != want.ID || got.State != result.StateFailure {
		t.Errorf("unexpected root %s %s", got.ID, got.State)
	}
	if op, _ := got.Message(result.KeyOperation); op != "configure" {
		t.Errorf("expected operation message, got %q", op)
	}
	if len(got.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(got.Children))
	}
	if got.Children[0].Description != "name" || got.Children[1].Description != "servers[AdminServer]" {
		t.Errorf("children out of order: %s, %s", got.Children[0].Description, got.Children[1].Description)
	}

	port := got.Children[1].Children[0]
	if port.State != result.StateFailure {
		t.Errorf("expected port FAILURE, got %s", port.State)
	}
	if expected, _ := port.Message(result.KeyExpected); expected != "7002" {
		t.Errorf("expected message 7002, got %q", expected)
	}
	if port.Duration != want.Children[1].Children[0].Duration {
		t.Errorf("expected duration %v, got %v", want.Children[1].Children[0].Duration, port.Duration)
	}

	counts := got.Count()
	if counts[result.StateFailure] != 3 || counts[result.StateSuccess] != 1 {
		t.Errorf("unexpected state counts %v", counts)
	}

	// Completing again replaces the tree.
	again := result.Start("configure model/domain.cue", result.ContinueAlways)
	again.CompleteAsSuccessful()
	complete(run, again)
	if err := store.CompleteRun(ctx, run, again.Snapshot()); err != nil {
		t.Fatalf("failed to complete run again: %v", err)
	}
	got, err = store.GetResultTree(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get result tree: %v", err)
	}
	if got.ID != again.ID() || len(got.Children) != 0 {
		t.Errorf("expected replaced tree, got %+v", got)
	}
}

// TestListRuns tests ordering, filtering and pagination
func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		run := newRun(fmt.Sprintf("run-%03d", i), base.Add(time.Duration(i)*time.Minute))
		if i%2 == 1 {
			run.Resource = "host"
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		if i == 4 {
			root := result.Start("test", result.ContinueAlways)
			root.CompleteAsSuccessful()
			complete(run, root)
			if err := store.CompleteRun(ctx, run, root.Snapshot()); err != nil {
				t.Fatalf("failed to complete run: %v", err)
			}
		}
	}

	all, err := store.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 5 || all[0].ID != "run-004" || all[4].ID != "run-000" {
		t.Errorf("expected 5 runs newest first, got %d", len(all))
	}

	page, err := store.ListRuns(ctx, RunFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(page) != 2 || page[0].ID != "run-003" || page[1].ID != "run-002" {
		t.Errorf("unexpected page %v", ids(page))
	}

	hosts, err := store.ListRuns(ctx, RunFilter{Resource: "host"})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(hosts) != 2 {
		t.Errorf("expected 2 host runs, got %v", ids(hosts))
	}

	succeeded, err := store.ListRuns(ctx, RunFilter{Status: engine.RunStatusSucceeded})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "run-004" {
		t.Errorf("expected only run-004 to have succeeded, got %v", ids(succeeded))
	}
}

func ids(runs []*engine.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}

// TestAuditTrail tests the audit entries written with runs
func TestAuditTrail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := newRun("run-audit", time.Now().UTC())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	root := resultTree()
	complete(run, root)
	if err := store.CompleteRun(ctx, run, root.Snapshot()); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	ip := "10.0.0.7"
	manual := &AuditEntry{Action: "run.requested", Actor: "alice", TargetID: &run.ID, IPAddress: &ip}
	if err := store.CreateAuditEntry(ctx, manual); err != nil {
		t.Fatalf("failed to create audit entry: %v", err)
	}
	if manual.ID == 0 {
		t.Error("expected audit entry ID to be set")
	}

	entries, err := store.ListAuditEntries(ctx, AuditFilter{TargetID: &run.ID})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(entries))
	}
	if entries[0].Action != AuditRunCreated || entries[1].Action != AuditRunCompleted {
		t.Errorf("unexpected actions %s, %s", entries[0].Action, entries[1].Action)
	}
	if entries[0].Actor != "tester" {
		t.Errorf("expected store actor, got %s", entries[0].Actor)
	}
	if entries[1].Details == nil {
		t.Error("expected completion details")
	}

	actor := "alice"
	byAlice, err := store.ListAuditEntries(ctx, AuditFilter{Actor: &actor})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(byAlice) != 1 || byAlice[0].IPAddress == nil || *byAlice[0].IPAddress != ip {
		t.Errorf("unexpected entries for alice: %+v", byAlice)
	}

	action := AuditRunCompleted
	limited, err := store.ListAuditEntries(ctx, AuditFilter{Action: &action, Limit: 1})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 completed entry, got %d", len(limited))
	}
}

// TestCascadeDelete tests that deleting a run removes its result tree
func TestCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := newRun("run-cascade", time.Now().UTC())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	root := resultTree()
	complete(run, root)
	if err := store.CompleteRun(ctx, run, root.Snapshot()); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	if _, err := store.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	var nodes int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM result_nodes WHERE run_id = ?", run.ID).Scan(&nodes); err != nil {
		t.Fatalf("failed to count result nodes: %v", err)
	}
	if nodes != 0 {
		t.Errorf("expected result nodes to be deleted, got %d", nodes)
	}

	if err := store.DeleteRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for repeated delete, got %v", err)
	}
}

// TestRunnerRecordsRuns tests the store as the runner's RunStore
func TestRunnerRecordsRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	path, err := filepath.Abs(filepath.Join("..", "session", "mbean", "testdata", "domain.yaml"))
	if err != nil {
		t.Fatalf("failed to resolve snapshot: %v", err)
	}

	factories := session.NewFactories()
	factories.Register(mbean.Kind, mbean.Factory)
	runner := engine.NewRunner(factories, engine.WithStore(store))

	doc := &config.DomainDocument{
		Element: config.NewComposite("domain", "base_domain",
			config.NewLeaf("name", "base_domain"),
			config.NewLeaf("admin-server-name", "ManagedServer1"),
		),
		File: "model/domain.cue",
	}
	run, err := runner.Execute(ctx, &engine.RunRequest{
		Operation:         engine.OperationTest,
		Resource:          session.Resource{ID: "local", Kind: mbean.Kind, URL: "file://" + filepath.ToSlash(path)},
		Document:          doc,
		ContinueOnFailure: true,
	})
	if err != nil {
		t.Fatalf("failed to execute run: %v", err)
	}

	stored, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if stored.Status != engine.RunStatusFailed || stored.CompletedAt == nil {
		t.Errorf("expected completed failed run, got %+v", stored)
	}

	tree, err := store.GetResultTree(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get result tree: %v", err)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("expected 2 results, got %d", len(tree.Children))
	}
	drift := tree.Children[1]
	if drift.State != result.StateFailure {
		t.Errorf("expected admin-server-name to fail, got %s", drift.State)
	}
	if actual, _ := drift.Message(result.KeyActual); actual != "AdminServer" {
		t.Errorf("expected actual AdminServer, got %q", actual)
	}
}
