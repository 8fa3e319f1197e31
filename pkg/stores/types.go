package stores

import (
	"context"
	"errors"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/result"
)

// ErrNotFound is returned when a run or result tree does not exist.
var ErrNotFound = errors.New("not found")

// Audit actions recorded by the store.
const (
	AuditRunCreated   = "run.created"
	AuditRunCompleted = "run.completed"
	AuditRunDeleted   = "run.deleted"
)

// RunFilter selects runs. Zero fields match everything.
type RunFilter struct {
	Status   engine.RunStatus
	Resource string
	Limit    int
	Offset   int
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g. "run.created", "run.completed"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // run id
	Details   *string   `json:"details,omitempty"`   // JSON blob
	IPAddress *string   `json:"ip_address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditFilter selects audit entries. Nil fields match everything.
type AuditFilter struct {
	Action   *string
	Actor    *string
	TargetID *string
	Limit    int
	Offset   int
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.RunStore

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Result trees
	GetResultTree(ctx context.Context, runID string) (*result.Snapshot, error)

	// Audit
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
