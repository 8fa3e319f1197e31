package policy

import (
	"time"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/session"
)

// NewInput builds the policy input for running operation on doc against res.
func NewInput(operation, environment string, res session.Resource, doc config.Document) *Input {
	in := &Input{
		Operation:   operation,
		Environment: environment,
		Resource: ResourceInput{
			ID:   res.ID,
			Kind: res.Kind,
			URL:  res.URL,
		},
		Timestamp: time.Now().UTC(),
	}
	if doc == nil || doc.Root() == nil {
		return in
	}

	root := doc.Root()
	in.Document = DocumentInput{
		Kind:    string(doc.Kind()),
		Schema:  doc.Schema(),
		Source:  doc.Source(),
		Name:    root.Name,
		Key:     root.Key,
		Content: root.ToMap(),
	}
	rootPath := "/" + root.Label()
	for _, c := range root.Children {
		in.Document.Elements = flatten(in.Document.Elements, c, rootPath, 1)
	}
	return in
}

func flatten(out []ElementInput, el *config.Element, parent string, depth int) []ElementInput {
	path := parent + "/" + el.Label()
	item := ElementInput{
		Path:   path,
		Parent: parent,
		Name:   el.Name,
		Key:    el.Key,
		Depth:  depth,
		Leaf:   el.IsLeaf(),
	}
	if item.Leaf {
		item.Value = el.Value
	}
	out = append(out, item)
	for _, c := range el.Children {
		out = flatten(out, c, path, depth+1)
	}
	return out
}
