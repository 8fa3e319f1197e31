package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/session"
)

func TestEngineErrorMatchesSentinelsByCode(t *testing.T) {
	err := fmt.Errorf("run aborted: %w", NewSessionLostError(session.ErrSessionLost))

	assert.ErrorIs(t, err, ErrSessionLost)
	assert.ErrorIs(t, err, session.ErrSessionLost)
	assert.NotErrorIs(t, err, ErrInitialization)
	assert.True(t, IsRetryable(err))

	class, code := ClassOf(err)
	assert.Equal(t, ErrorClassTransient, class)
	assert.Equal(t, ErrCodeSessionLost, code)

	class, code = ClassOf(errors.New("plain"))
	assert.Equal(t, ErrorClassPermanent, class)
	assert.Equal(t, ErrCodeInternal, code)
}

func TestEngineErrorMessage(t *testing.T) {
	err := NewPermanentError("cannot initialize", errors.New("refused")).
		WithResource("prod-admin").
		WithOperation("test").
		WithDetail("kind", "domain")

	assert.Equal(t, "[permanent] cannot initialize (resource=prod-admin, operation=test): refused", err.Error())
	assert.Equal(t, "domain", err.Details["kind"])
}

func TestInitializationErrorKeepsSessionLoss(t *testing.T) {
	lost := NewInitializationError("model/domain.cue", fmt.Errorf("dial: %w", session.ErrSessionLost))
	assert.ErrorIs(t, lost, ErrSessionLost)
	assert.True(t, IsTransient(lost))

	failed := NewInitializationError("model/domain.cue", errors.New("bad credentials"))
	assert.ErrorIs(t, failed, ErrInitialization)
	assert.True(t, IsPermanent(failed))
}

func TestInitializerRejectsUnsupportedDocuments(t *testing.T) {
	sess := newFakeSession(&liveDomain{})

	_, err := Initializer{}.Initialize(t.Context(), nil, sess)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
	assert.Contains(t, err.Error(), "<nil>")

	_, err = Initializer{}.Initialize(t.Context(), (*config.DomainDocument)(nil), sess)
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
	assert.Contains(t, err.Error(), "*config.DomainDocument")
}

func TestInitializerPairsDocumentRoot(t *testing.T) {
	live := &liveDomain{name: "base"}
	doc := domainDoc(config.NewLeaf("name", "base"))

	node, err := Initializer{}.Initialize(t.Context(), doc, newFakeSession(live))
	require.NoError(t, err)

	assert.True(t, node.IsRoot())
	assert.Equal(t, "domain[base]", node.Primary().Name())
	assert.Equal(t, config.SchemaDomain, node.Primary().Type())
	assert.Same(t, doc.Element, node.Primary().Value())
	assert.Same(t, live, node.Secondary().Value())
	assert.Equal(t, "/domain[base]", node.Path())
}

func TestRunStatusFromRootState(t *testing.T) {
	assert.Equal(t, RunStatusSucceeded, StatusFor(result.StateSuccess))
	assert.Equal(t, RunStatusFailed, StatusFor(result.StateFailure))
	assert.Equal(t, RunStatusErrored, StatusFor(result.StateError))
	assert.Equal(t, RunStatusRunning, StatusFor(result.StateExecuting))

	var s RunStatus
	require.NoError(t, s.UnmarshalJSON([]byte(`"errored"`)))
	assert.True(t, s.IsTerminal())
	assert.Error(t, s.UnmarshalJSON([]byte(`"partial"`)))
}

func TestStoredRunIsDone(t *testing.T) {
	stored := &Run{ID: "loaded", Status: RunStatusSucceeded}
	select {
	case <-stored.Done():
	default:
		t.Fatal("a run not executed in this process must report done")
	}
}
