package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
)

// ReloadFunc receives the full policy set after a watched file changed.
type ReloadFunc func(ctx context.Context, policies []Policy) error

// Loader reads policies from .rego modules and JSON policy definitions, and
// bundles from JSON files. Parsed files are kept until their modification
// time or size changes.
type Loader struct {
	log      zerolog.Logger
	debounce time.Duration

	mu     sync.Mutex
	parsed map[string]parsedFile

	watcher *fsnotify.Watcher
}

type parsedFile struct {
	policy  *Policy
	modTime time.Time
	size    int64
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		log:      logger.With().Str("component", "policy-loader").Logger(),
		debounce: 500 * time.Millisecond,
		parsed:   make(map[string]parsedFile),
	}
}

// LoadFromPaths loads each file and every policy file below each directory.
// An unreadable file named directly is an error; one found in a directory
// is logged and skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		if !info.IsDir() {
			p, err := l.load(root)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		found, err := l.loadDir(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("policy directory %s: %w", root, err)
		}
		policies = append(policies, found...)
	}

	l.log.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Policies loaded")
	return policies, nil
}

func (l *Loader) loadDir(ctx context.Context, root string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case d.IsDir() || !isPolicyFile(name):
			return nil
		}
		p, err := l.load(name)
		if err != nil {
			l.log.Warn().Err(err).Str("path", name).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	return policies, err
}

func isPolicyFile(name string) bool {
	switch filepath.Ext(name) {
	case ".rego", ".json":
		return true
	}
	return false
}

func (l *Loader) load(name string) (*Policy, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	prev, ok := l.parsed[name]
	l.mu.Unlock()
	if ok && prev.modTime.Equal(info.ModTime()) && prev.size == info.Size() {
		return prev.policy, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	p, err := decodePolicy(name, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = name

	l.mu.Lock()
	l.parsed[name] = parsedFile{policy: p, modTime: info.ModTime(), size: info.Size()}
	l.mu.Unlock()

	l.log.Debug().Str("path", name).Str("policy", p.Name).Msg("Policy file parsed")
	return p, nil
}

// decodePolicy turns a file into a policy. A .rego module is named after the
// file and described by its leading comment block.
func decodePolicy(name string, data []byte) (*Policy, error) {
	var p Policy
	switch filepath.Ext(name) {
	case ".rego":
		p = Policy{
			Name:        strings.TrimSuffix(filepath.Base(name), ".rego"),
			Description: leadingComment(string(data)),
			Rego:        string(data),
			Enabled:     true,
		}
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		if p.Name == "" {
			return nil, errors.New("policy definition has no name")
		}
	default:
		return nil, fmt.Errorf("unsupported policy file type %q", filepath.Ext(name))
	}

	if err := checkPolicy(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// checkPolicy fills defaults and parses the module so broken Rego is
// reported where it is loaded.
func checkPolicy(p *Policy) error {
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if _, err := ast.ParseModule(p.Name, p.Rego); err != nil {
		return fmt.Errorf("policy %s: %w", p.Name, err)
	}
	return nil
}

// leadingComment joins the comment lines that precede the first statement,
// skipping blank comments.
func leadingComment(src string) string {
	var words []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		text, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" {
				break
			}
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			words = append(words, text)
		}
	}
	return strings.Join(words, " ")
}

// LoadBundle reads a JSON bundle. Its policies get the same defaults and
// checks as policy files.
func (l *Loader) LoadBundle(_ context.Context, name string) (*PolicyBundle, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var b PolicyBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", name, err)
	}
	for i := range b.Policies {
		if err := checkPolicy(&b.Policies[i]); err != nil {
			return nil, fmt.Errorf("bundle %s: %w", b.Name, err)
		}
	}

	l.log.Info().
		Str("bundle", b.Name).
		Str("version", b.Version).
		Int("policies", len(b.Policies)).
		Msg("Policy bundle loaded")
	return &b, nil
}

// Watch calls reload with a fresh LoadFromPaths result whenever a policy
// file below paths is created, written or removed. Bursts of changes are
// coalesced. Watching ends with ctx or StopWatching.
func (l *Loader) Watch(ctx context.Context, paths []string, reload ReloadFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	for _, root := range paths {
		if err := addTree(w, root); err != nil {
			l.log.Warn().Err(err).Str("path", root).Msg("Cannot watch policy path")
		}
	}
	l.watcher = w

	go l.watch(ctx, w, paths, reload)
	l.log.Info().Strs("paths", paths).Msg("Watching policy paths")
	return nil
}

func addTree(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			err = w.Add(name)
		}
		return err
	})
}

func (l *Loader) watch(ctx context.Context, w *fsnotify.Watcher, paths []string, reload ReloadFunc) {
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if !isPolicyFile(ev.Name) {
				continue
			}
			l.forget(ev.Name)
			settle = time.After(l.debounce)

		case <-settle:
			settle = nil
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = reload(ctx, policies)
			}
			if err != nil {
				l.log.Error().Err(err).Msg("Policy reload failed")
				continue
			}
			l.log.Info().Int("policies", len(policies)).Msg("Policies reloaded")

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.log.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) forget(name string) {
	l.mu.Lock()
	delete(l.parsed, name)
	l.mu.Unlock()
}

// StopWatching closes the watcher started by Watch.
func (l *Loader) StopWatching() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// ClearCache forgets every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.parsed = make(map[string]parsedFile)
	l.mu.Unlock()
}
