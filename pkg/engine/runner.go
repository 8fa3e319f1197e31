package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/telemetry"
)

// RunStore persists runs and their result trees.
type RunStore interface {
	// CreateRun records a run that has been accepted.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun records the terminal status of a run and its result tree.
	CompleteRun(ctx context.Context, run *Run, tree result.Snapshot) error
}

// PolicyChecker vets a run before it touches the live system. A denied run
// is reported with an error matching ErrPolicyViolation.
type PolicyChecker interface {
	CheckRun(ctx context.Context, req *RunRequest) error
}

// RunRequest describes one run to execute.
type RunRequest struct {
	// ID is the run id. A random id is assigned when empty.
	ID string

	Operation   OperationName
	Environment string
	Resource    session.Resource
	Credential  session.Credential
	Document    config.Document

	// ContinueOnFailure keeps visiting siblings after a failed node.
	ContinueOnFailure bool
}

// Validate checks the request is complete.
func (r *RunRequest) Validate() error {
	if err := r.Operation.Validate(); err != nil {
		return NewPermanentError("invalid run request", err).WithCode(ErrCodeValidation)
	}
	if r.Document == nil {
		return NewPermanentError("invalid run request: no document", nil).WithCode(ErrCodeValidation)
	}
	if r.Resource.Kind == "" {
		return NewPermanentError("invalid run request: no resource kind", nil).WithCode(ErrCodeValidation)
	}
	return nil
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore persists runs in store.
func WithStore(store RunStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithPolicyChecker vets every run with checker.
func WithPolicyChecker(checker PolicyChecker) RunnerOption {
	return func(r *Runner) { r.policy = checker }
}

// WithLogger sets the runner's logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// maxRetainedRuns bounds the completed runs kept in memory.
const maxRetainedRuns = 256

// Runner executes runs: it connects a session, pairs the document root
// with the live system, walks the document and records the outcome.
//
// Every run owns its session. Runs may execute concurrently.
type Runner struct {
	factories   *session.Factories
	director    *Director
	initializer Initializer
	store       RunStore
	policy      PolicyChecker
	logger      zerolog.Logger

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// NewRunner creates a runner creating sessions from factories.
func NewRunner(factories *session.Factories, opts ...RunnerOption) *Runner {
	r := &Runner{
		factories: factories,
		director:  NewDirector(),
		logger:    zerolog.Nop(),
		runs:      make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs req to completion and returns the finished run. An error is
// returned only when the run could not be accepted; failures during the
// run are reported by its result tree.
func (r *Runner) Execute(ctx context.Context, req *RunRequest) (*Run, error) {
	run, err := r.accept(ctx, req)
	if err != nil {
		return nil, err
	}
	r.execute(ctx, req, run)
	return r.snapshot(run.ID), nil
}

// Start accepts req and executes it in the background. The returned run is
// pending; its Done channel closes once the outcome has been recorded.
func (r *Runner) Start(ctx context.Context, req *RunRequest) (*Run, error) {
	run, err := r.accept(ctx, req)
	if err != nil {
		return nil, err
	}
	go r.execute(context.WithoutCancel(ctx), req, run)
	return r.snapshot(run.ID), nil
}

// Get returns a copy of a run executed by this runner.
func (r *Runner) Get(id string) (*Run, bool) {
	run := r.snapshot(id)
	return run, run != nil
}

// Runs returns copies of the runs known to this runner, newest first.
func (r *Runner) Runs() []*Run {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	out := make([]*Run, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if run := r.snapshot(ids[i]); run != nil {
			out = append(out, run)
		}
	}
	return out
}

func (r *Runner) snapshot(id string) *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil
	}
	cp := *run
	return &cp
}

func (r *Runner) accept(ctx context.Context, req *RunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if r.policy != nil {
		if err := r.policy.CheckRun(ctx, req); err != nil {
			r.recordError(ctx, err)
			return nil, err
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	description := fmt.Sprintf("%s %s", req.Operation, req.Document.Source())
	run := &Run{
		ID:           id,
		Operation:    req.Operation,
		Environment:  req.Environment,
		Resource:     req.Resource.ID,
		Document:     req.Document.Source(),
		DocumentKind: string(req.Document.Kind()),
		Status:       RunStatusPending,
		StartedAt:    time.Now().UTC(),
		Result:       result.Start(description, result.PolicyFor(req.ContinueOnFailure)),
		done:         make(chan struct{}),
	}
	run.Result.AddMessage(result.KeyOperation, string(req.Operation))

	if r.store != nil {
		if err := r.store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	r.mu.Lock()
	r.runs[id] = run
	r.order = append(r.order, id)
	r.evictLocked()
	r.mu.Unlock()

	return run, nil
}

// evictLocked forgets the oldest completed runs beyond maxRetainedRuns.
func (r *Runner) evictLocked() {
	for i := 0; len(r.order) > maxRetainedRuns && i < len(r.order); {
		id := r.order[i]
		if run := r.runs[id]; run != nil && run.Status.IsActive() {
			i++
			continue
		}
		delete(r.runs, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
	}
}

func (r *Runner) execute(ctx context.Context, req *RunRequest, run *Run) {
	defer close(run.done)

	r.mu.Lock()
	run.Status = RunStatusRunning
	r.mu.Unlock()

	op := string(req.Operation)
	ctx, scope := telemetry.StartRun(ctx, run.ID, op, req.Resource.ID)
	logger := r.logger.With().
		Str("run_id", run.ID).
		Str("operation", op).
		Str("resource", req.Resource.ID).
		Str("document", run.Document).
		Logger()

	logger.Info().Msg("Starting run")

	err := r.traverse(ctx, req, run, logger)
	root := run.Result
	state := root.State()
	completed := time.Now().UTC()

	r.mu.Lock()
	run.State = state
	run.Status = StatusFor(state)
	if errors.Is(err, ErrCancelled) {
		run.Status = RunStatusCancelled
	}
	run.CompletedAt = &completed
	if err != nil {
		run.Error = err.Error()
	}
	final := *run
	r.mu.Unlock()

	if err != nil {
		r.recordError(ctx, err)
	}
	scope.End(string(state), final.Duration(), err)

	if r.store != nil {
		if serr := r.store.CompleteRun(context.WithoutCancel(ctx), &final, root.Snapshot()); serr != nil {
			logger.Error().Err(serr).Msg("Failed to record run result")
		}
	}

	event := logger.Info()
	if state != result.StateSuccess {
		event = logger.Warn()
	}
	event.Str("state", string(state)).Dur("duration", final.Duration()).Msg("Run completed")
}

// traverse connects the session and walks the document. The root result is
// always completed when it returns.
func (r *Runner) traverse(ctx context.Context, req *RunRequest, run *Run, logger zerolog.Logger) error {
	root := run.Result
	kind := req.Resource.Kind

	if err := ctx.Err(); err != nil {
		cerr := NewCancelledError(err).WithResource(req.Resource.ID)
		root.CompleteAsError(cerr)
		return cerr
	}

	sess, err := r.factories.New(kind)
	if err != nil {
		ierr := NewInitializationError(run.Document, err).WithResource(req.Resource.ID)
		root.CompleteAsError(ierr)
		return ierr
	}

	err = telemetry.TraceSession(ctx, kind, "connect", func(ctx context.Context) error {
		return sess.Connect(ctx, req.Resource, req.Credential)
	})
	if err != nil {
		ierr := NewInitializationError(run.Document, err).WithResource(req.Resource.ID)
		root.CompleteAsError(ierr)
		return ierr
	}
	defer func() {
		derr := telemetry.TraceSession(ctx, kind, "disconnect", sess.Disconnect)
		if derr != nil {
			logger.Warn().Err(derr).Msg("Failed to disconnect session")
		}
	}()

	node, err := r.initializer.Initialize(ctx, req.Document, sess)
	if err != nil {
		root.CompleteAsError(err)
		return err
	}

	var op Operation = TestOperation{}
	if req.Operation == OperationConfigure {
		op = ConfigureOperation{}
	}
	t := NewTraversal(run.ID, op, root.Policy(), sess, req.Document, logger)

	err = r.director.Traverse(ctx, t, node, root)
	if err != nil {
		logger.Error().Err(err).Msg("Traversal aborted")
		if tel := telemetry.Of(ctx); tel != nil && isSessionLost(err) {
			_ = tel.Events.SessionLost(run.ID, req.Resource.ID, err)
		}
	}

	if req.Operation.IsMutating() && root.State() != result.StateSuccess {
		if ed, ok := sess.(session.Editor); ok {
			if cerr := ed.CancelEdit(ctx); cerr != nil {
				logger.Warn().Err(cerr).Msg("Failed to cancel edit")
			}
		}
	}
	return err
}

func (r *Runner) recordError(ctx context.Context, err error) {
	if tel := telemetry.Of(ctx); tel != nil {
		class, code := ClassOf(err)
		tel.Metrics.RecordError(string(class), code)
	}
}
