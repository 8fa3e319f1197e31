package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const frozenServers = `# Servers listed as frozen must not be configured
package site.frozen

import rego.v1

deny contains msg if {
	input.operation == "configure"
	some el in input.document.elements
	el.key == "FrozenServer"
	msg := "FrozenServer is frozen"
}`

func quietLoader() *Loader {
	return NewLoader(zerolog.Nop())
}

func put(t *testing.T, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

// denyNothing is a valid module whose deny set stays empty.
func denyNothing(pkg string) string {
	return "package " + pkg + "\n\nimport rego.v1\n\ndeny contains msg if {\n\tinput.never_set\n\tmsg := \"never\"\n}\n"
}

func TestLoadRegoFile(t *testing.T) {
	name := put(t, filepath.Join(t.TempDir(), "frozen-servers.rego"), frozenServers)

	p, err := quietLoader().load(name)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if p.Name != "frozen-servers" || p.Rego != frozenServers {
		t.Errorf("unexpected policy %q", p.Name)
	}
	if p.Description != "Servers listed as frozen must not be configured" {
		t.Errorf("Description = %q", p.Description)
	}
	if !p.Enabled || p.Severity != SeverityWarning {
		t.Errorf("want an enabled warning policy, got enabled=%v severity=%s", p.Enabled, p.Severity)
	}
	if p.Metadata["source"] != name {
		t.Errorf("source = %v", p.Metadata["source"])
	}
}

func TestLoadJSONDefinition(t *testing.T) {
	data, err := json.Marshal(Policy{
		Name:     "ports-in-range",
		Rego:     denyNothing("ports"),
		Severity: SeverityError,
		Enabled:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	name := put(t, filepath.Join(t.TempDir(), "ports.json"), string(data))

	p, err := quietLoader().load(name)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if p.Name != "ports-in-range" || p.Severity != SeverityError {
		t.Errorf("got %s/%s", p.Name, p.Severity)
	}
	if p.CreatedAt.IsZero() || !p.UpdatedAt.Equal(p.CreatedAt) {
		t.Error("timestamps not defaulted")
	}
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"broken.rego": "package broken\n\ndeny contains msg if {",
		"bad.json":    "{not json",
		"noname.json": `{"rego": "package x"}`,
		"notes.txt":   "not a policy",
	}
	for file, content := range tests {
		t.Run(file, func(t *testing.T) {
			name := put(t, filepath.Join(dir, file), content)
			if _, err := quietLoader().load(name); err == nil {
				t.Errorf("load(%s) succeeded", file)
			}
		})
	}
}

func TestLoadReparsesChangedFile(t *testing.T) {
	l := quietLoader()
	name := put(t, filepath.Join(t.TempDir(), "cached.rego"), denyNothing("first"))

	first, err := l.load(name)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := l.load(name); again != first {
		t.Error("unchanged file was parsed again")
	}

	put(t, name, denyNothing("second"))
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(name, later, later); err != nil {
		t.Fatal(err)
	}
	changed, err := l.load(name)
	if err != nil {
		t.Fatal(err)
	}
	if changed.Rego != denyNothing("second") {
		t.Error("changed file was served from the cache")
	}

	l.ClearCache()
	if len(l.parsed) != 0 {
		t.Errorf("%d entries left after ClearCache", len(l.parsed))
	}
}

func TestLoadFromPaths(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "site")
	put(t, filepath.Join(dir, "a.rego"), denyNothing("a"))
	put(t, filepath.Join(dir, "nested", "b.rego"), denyNothing("b"))
	put(t, filepath.Join(dir, "README.md"), "# policies")
	put(t, filepath.Join(dir, "broken.rego"), "package broken\ndeny contains")
	single := put(t, filepath.Join(root, "c.rego"), denyNothing("c"))

	l := quietLoader()
	policies, err := l.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 3 {
		t.Errorf("got %d policies, want 3", len(policies))
	}

	if _, err := l.LoadFromPaths(context.Background(), []string{filepath.Join(root, "missing")}); err == nil {
		t.Error("missing path accepted")
	}
	broken := filepath.Join(dir, "broken.rego")
	if _, err := l.LoadFromPaths(context.Background(), []string{broken}); err == nil {
		t.Error("broken file named directly accepted")
	}
}

func TestLoadBundle(t *testing.T) {
	data, err := json.Marshal(PolicyBundle{
		Name:    "site-bundle",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "p1", Rego: denyNothing("p1"), Severity: SeverityError, Enabled: true},
			{Name: "p2", Rego: denyNothing("p2"), Enabled: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	name := put(t, filepath.Join(t.TempDir(), "bundle.json"), string(data))

	b, err := quietLoader().LoadBundle(context.Background(), name)
	if err != nil {
		t.Fatalf("LoadBundle() error = %v", err)
	}
	if b.Name != "site-bundle" || b.Version != "1.0.0" || len(b.Policies) != 2 {
		t.Fatalf("unexpected bundle %+v", b)
	}
	if b.Policies[1].Severity != SeverityWarning {
		t.Errorf("severity not defaulted: %s", b.Policies[1].Severity)
	}
}

func TestLeadingComment(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{src: "# One line\npackage test", want: "One line"},
		{src: "# First\n# second\npackage test", want: "First second"},
		{src: "# First\n#\n# Second\npackage test", want: "First Second"},
		{src: "package test\n# trailing", want: ""},
		{src: "\n\n# After blanks\npackage test", want: "After blanks"},
	}
	for _, tt := range tests {
		if got := leadingComment(tt.src); got != tt.want {
			t.Errorf("leadingComment(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestWatchReloadsEngine(t *testing.T) {
	eng := newTestEngine(t)
	l := quietLoader()
	l.debounce = 10 * time.Millisecond

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Watch(ctx, []string{dir}, eng.ReplacePolicies); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = l.StopWatching() }()

	put(t, filepath.Join(dir, "site.rego"), denyNothing("site"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := eng.GetPolicy("site"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("new policy file never reached the engine")
}
