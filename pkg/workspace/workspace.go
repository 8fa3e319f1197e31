package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/engine"
)

// Selection names what a run should do.
type Selection struct {
	// ID is an optional run id.
	ID string `json:"id,omitempty"`

	Operation   engine.OperationName `json:"operation" validate:"required,oneof=test configure"`
	Environment string               `json:"environment" validate:"required"`
	Resource    string               `json:"resource" validate:"required"`

	// Document is a model file or package directory, relative to the
	// workspace directory unless absolute.
	Document string `json:"document" validate:"required"`

	// ContinueOnFailure overrides the environment setting when set.
	ContinueOnFailure *bool `json:"continue_on_failure,omitempty"`
}

// Workspace resolves selections against a model directory and its
// environment configuration.
type Workspace struct {
	dir     string
	envPath string
	parser  *config.CUEParser
	logger  zerolog.Logger

	mu   sync.Mutex
	envs *config.EnvironmentConfig
}

// New creates a workspace rooted at dir. envPath defaults to the
// environment file in dir.
func New(dir, envPath string, logger zerolog.Logger) *Workspace {
	if dir == "" {
		dir = "."
	}
	if envPath == "" {
		envPath = filepath.Join(dir, config.EnvironmentFile)
	}
	return &Workspace{
		dir:     dir,
		envPath: envPath,
		parser:  config.NewCUEParser(),
		logger:  logger,
	}
}

// Dir returns the model directory.
func (w *Workspace) Dir() string { return w.dir }

// EnvironmentPath returns the environment configuration path.
func (w *Workspace) EnvironmentPath() string { return w.envPath }

// Parser returns the CUE parser used for documents and environments.
func (w *Workspace) Parser() *config.CUEParser { return w.parser }

// Environments parses the environment configuration. The result is cached
// until Invalidate is called.
func (w *Workspace) Environments(ctx context.Context) (*config.EnvironmentConfig, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.envs != nil {
		return w.envs, nil
	}
	cfg, err := w.parser.ParseEnvironments(ctx, w.envPath)
	if err != nil {
		return nil, err
	}
	w.envs = cfg
	return cfg, nil
}

// Invalidate drops the cached environment configuration.
func (w *Workspace) Invalidate() {
	w.mu.Lock()
	w.envs = nil
	w.mu.Unlock()
}

// Path resolves a document path against the workspace directory.
func (w *Workspace) Path(document string) string {
	if filepath.IsAbs(document) {
		return document
	}
	return filepath.Join(w.dir, document)
}

// Document parses a model document. When environment is set, its
// properties are substituted into the document.
func (w *Workspace) Document(ctx context.Context, document, environment string) (config.Document, error) {
	path := w.Path(document)
	if _, err := os.Stat(path); err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("document %s not found", document), err).
			WithCode(engine.ErrCodeNotFound)
	}

	doc, err := w.parser.ParseDocument(ctx, path)
	if err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("invalid document %s", document), err).
			WithCode(engine.ErrCodeValidation)
	}
	if environment == "" {
		return doc, nil
	}

	env, err := w.environment(ctx, environment)
	if err != nil {
		return nil, err
	}
	props, err := env.ResolveProperties(ctx, w.parser.Evaluator())
	if err != nil {
		return nil, engine.NewPermanentError("cannot resolve properties", err).WithCode(engine.ErrCodeValidation)
	}
	if err := config.SubstituteElements(doc.Root(), props); err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("cannot substitute properties in %s", document), err).
			WithCode(engine.ErrCodeValidation)
	}
	return doc, nil
}

// Request resolves a selection into a run request.
func (w *Workspace) Request(ctx context.Context, sel Selection) (*engine.RunRequest, error) {
	if err := sel.Operation.Validate(); err != nil {
		return nil, engine.NewPermanentError("invalid selection", err).WithCode(engine.ErrCodeValidation)
	}

	env, err := w.environment(ctx, sel.Environment)
	if err != nil {
		return nil, err
	}
	props, err := env.ResolveProperties(ctx, w.parser.Evaluator())
	if err != nil {
		return nil, engine.NewPermanentError("cannot resolve properties", err).WithCode(engine.ErrCodeValidation)
	}

	res, cred, err := env.SessionResource(sel.Resource, props)
	if err != nil {
		return nil, engine.NewPermanentError("cannot resolve resource", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(sel.Resource)
	}

	doc, err := w.Document(ctx, sel.Document, sel.Environment)
	if err != nil {
		return nil, err
	}

	continueOnFailure := env.ContinueOnFailureOr(false)
	if sel.ContinueOnFailure != nil {
		continueOnFailure = *sel.ContinueOnFailure
	}

	w.logger.Debug().
		Str("environment", sel.Environment).
		Str("resource", res.ID).
		Str("kind", res.Kind).
		Str("document", doc.Source()).
		Msg("Resolved run request")

	return &engine.RunRequest{
		ID:                sel.ID,
		Operation:         sel.Operation,
		Environment:       sel.Environment,
		Resource:          res,
		Credential:        cred,
		Document:          doc,
		ContinueOnFailure: continueOnFailure,
	}, nil
}

func (w *Workspace) environment(ctx context.Context, name string) (*config.Environment, error) {
	cfg, err := w.Environments(ctx)
	if err != nil {
		var perr *config.ParseError
		if errors.As(err, &perr) {
			return nil, engine.NewPermanentError("invalid environment configuration", err).WithCode(engine.ErrCodeValidation)
		}
		return nil, err
	}
	env, err := cfg.Environment(name)
	if err != nil {
		return nil, engine.NewPermanentError("unknown environment", err).WithCode(engine.ErrCodeNotFound)
	}
	return env, nil
}
