package engine

import (
	"context"
	"fmt"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/model"
	"github.com/athrane/pineapple-sub012/pkg/session"
)

// Initializer builds the root pairing of a document and its live system.
type Initializer struct{}

// Initialize pairs the document root with the live object it describes:
// the session root for domain and infrastructure documents, the live
// deployments collection for deployment documents.
func (Initializer) Initialize(ctx context.Context, doc config.Document, sess session.Session) (*model.PairedNode, error) {
	var (
		live any
		err  error
	)

	switch d := doc.(type) {
	case *config.DomainDocument:
		if d == nil || d.Element == nil {
			return nil, unsupportedDocument(doc)
		}
		live, err = sess.Root(ctx)
	case *config.InfrastructureDocument:
		if d == nil || d.Element == nil {
			return nil, unsupportedDocument(doc)
		}
		live, err = sess.Root(ctx)
	case *config.DeploymentDocument:
		if d == nil || d.Element == nil {
			return nil, unsupportedDocument(doc)
		}
		live, err = sess.Lookup(ctx, config.DeploymentsCollection)
	default:
		return nil, unsupportedDocument(doc)
	}

	if err != nil {
		return nil, NewInitializationError(doc.Source(), err).WithDetail("kind", string(doc.Kind()))
	}

	root := doc.Root()
	return model.CreateRoot(
		model.CreateSuccessful(root.Label(), doc.Schema(), root),
		model.CreateSuccessful(root.Label(), typeName(live), live),
	), nil
}

func unsupportedDocument(doc config.Document) *EngineError {
	return NewPermanentError(fmt.Sprintf("unsupported document %T", doc), nil).
		WithCode(ErrCodeUnsupportedDocument)
}
