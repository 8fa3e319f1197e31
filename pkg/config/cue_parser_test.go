package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const domainSource = `
domain: {
	name:                      "base_domain"
	"admin-server-name":       "AdminServer"
	"production-mode-enabled": false
	servers: [
		{name: "AdminServer", "listen-port": 7001},
		{name: "ManagedServer1", "listen-port": 8001, "listen-address": "node1"},
	]
	tags: ["a", "b"]
}
`

func TestCUEParser_ParseDocumentInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		checkFunc func(*testing.T, Document)
	}{
		{
			name:    "domain document",
			content: domainSource,
			checkFunc: func(t *testing.T, doc Document) {
				d, ok := doc.(*DomainDocument)
				if !ok {
					t.Fatalf("expected *DomainDocument, got %T", doc)
				}
				if d.Name() != "base_domain" {
					t.Errorf("expected domain name base_domain, got %q", d.Name())
				}
				if d.Schema() != SchemaDomain {
					t.Errorf("expected schema %s, got %s", SchemaDomain, d.Schema())
				}

				var labels []string
				for _, c := range d.Root().Children {
					labels = append(labels, c.Label())
				}
				want := []string{"name", "admin-server-name", "production-mode-enabled", "servers[AdminServer]", "servers[ManagedServer1]", "tags"}
				if !reflect.DeepEqual(labels, want) {
					t.Errorf("children = %v, want %v", labels, want)
				}

				managed := d.Root().Children[4]
				if port := managed.Child("listen-port"); port == nil || port.Value != 8001 {
					t.Errorf("expected listen-port 8001, got %v", port)
				}
				if tags := d.Root().Child("tags"); !tags.IsLeaf() || !reflect.DeepEqual(tags.Value, []any{"a", "b"}) {
					t.Errorf("expected scalar list leaf, got %v", tags)
				}
				if v := d.Root().Child("production-mode-enabled").Value; v != false {
					t.Errorf("expected false, got %v", v)
				}
			},
		},
		{
			name: "deployment document",
			content: `
deployment: {
	name:          "orders"
	target:        "AdminServer"
	"source-path": "/opt/apps/orders.war"
}
`,
			checkFunc: func(t *testing.T, doc Document) {
				d, ok := doc.(*DeploymentDocument)
				if !ok {
					t.Fatalf("expected *DeploymentDocument, got %T", doc)
				}
				if d.Root().Name != DeploymentsCollection || len(d.Root().Children) != 1 {
					t.Fatalf("unexpected root %v", d.Root())
				}
				if d.ModuleName() != "orders" || d.Target() != "AdminServer" {
					t.Errorf("module=%q target=%q", d.ModuleName(), d.Target())
				}
				if d.Module().Label() != "deployments[orders]" {
					t.Errorf("unexpected module label %q", d.Module().Label())
				}
			},
		},
		{
			name: "infrastructure document keyed by path",
			content: `
infrastructure: {
	name: "web01"
	files: [{path: "/etc/motd", content: "hello\n", mode: "0644"}]
	packages: [{name: "nginx", installed: true}]
}
`,
			checkFunc: func(t *testing.T, doc Document) {
				d, ok := doc.(*InfrastructureDocument)
				if !ok {
					t.Fatalf("expected *InfrastructureDocument, got %T", doc)
				}
				files := d.Root().Child("files")
				if files == nil || files.Key != "/etc/motd" {
					t.Errorf("expected file keyed by path, got %v", files)
				}
			},
		},
		{
			name:    "invalid CUE syntax",
			content: "domain: {\n\tname: \"x\"\n\tinvalid syntax here\n}\n",
			wantErr: true,
		},
		{
			name:    "no document key",
			content: `workspace: name: "test"`,
			wantErr: true,
		},
		{
			name:    "two document keys",
			content: "domain: name: \"a\"\ndeployment: {name: \"b\", target: \"c\"}\n",
			wantErr: true,
		},
		{
			name:    "schema violation",
			content: `deployment: name: "orders"`,
			wantErr: true,
		},
		{
			name:    "non concrete value",
			content: `domain: {name: "d", port: int}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parser.ParseDocumentInline(ctx, tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDocumentInline() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) || len(pe.Errors) == 0 {
					t.Errorf("expected *ParseError with details, got %v", err)
				}
				return
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, doc)
			}
		})
	}
}

func TestCUEParser_ParseDocumentFile(t *testing.T) {
	parser := NewCUEParser()
	tmpDir := t.TempDir()

	path := filepath.Join(tmpDir, "domain.cue")
	if err := os.WriteFile(path, []byte(domainSource), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	doc, err := parser.ParseDocument(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if doc.Source() != path {
		t.Errorf("expected source %s, got %s", path, doc.Source())
	}
	if doc.Kind() != KindDomain {
		t.Errorf("expected kind domain, got %s", doc.Kind())
	}

	_, err = parser.ParseDocument(context.Background(), filepath.Join(tmpDir, "missing.cue"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected *ParseError for missing file, got %v", err)
	}
}

func TestCUEParser_ParseDocumentDirectory(t *testing.T) {
	parser := NewCUEParser()
	tmpDir := t.TempDir()

	files := map[string]string{
		"domain.cue":  "package model\n\ndomain: name: \"base_domain\"\n",
		"servers.cue": "package model\n\ndomain: servers: [{name: \"AdminServer\"}]\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	doc, err := parser.ParseDocument(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if doc.Root().Child("servers") == nil {
		t.Errorf("expected servers merged from second file, got %v", doc.Root())
	}
}

func TestCUEParser_ParseEnvironments(t *testing.T) {
	parser := NewCUEParser()
	tmpDir := t.TempDir()

	content := `
environments: {
	dev: {
		continueOnFailure: true
		properties: {"admin.port": 7001}
		resources: domain: {kind: "mbean", url: "file:///tmp/dev.yaml"}
	}
	prod: resources: {
		domain: {kind: "mbean", url: "file:///srv/prod.yaml"}
		web01: {
			kind: "ssh"
			url:  "ssh://deploy@web01"
			properties: timeout: "5s"
			credential: {user: "deploy", passwordEnv: "WEB01_PASSWORD"}
		}
	}
}
`
	path := filepath.Join(tmpDir, EnvironmentFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := parser.ParseEnvironments(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseEnvironments() error = %v", err)
	}

	if !reflect.DeepEqual(cfg.Names(), []string{"dev", "prod"}) {
		t.Errorf("unexpected environments %v", cfg.Names())
	}

	dev, err := cfg.Environment("dev")
	if err != nil {
		t.Fatalf("Environment(dev) error = %v", err)
	}
	if dev.Name != "dev" || !dev.ContinueOnFailureOr(false) {
		t.Errorf("unexpected dev environment %+v", dev)
	}

	prod, _ := cfg.Environment("prod")
	if prod.ContinueOnFailureOr(false) {
		t.Error("prod must fall back to the default")
	}
	if prod.Resources["web01"].Credential.PasswordEnv != "WEB01_PASSWORD" {
		t.Errorf("credential not decoded: %+v", prod.Resources["web01"].Credential)
	}

	if _, err := cfg.Environment("staging"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestCUEParser_ParseEnvironmentsInvalid(t *testing.T) {
	parser := NewCUEParser()
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{name: "resource without kind", content: `environments: dev: resources: domain: url: "file:///x"`},
		{name: "no resources", content: `environments: dev: properties: {}`},
		{name: "no environments", content: `environments: {}`},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.name+".cue")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write test file %d: %v", i, err)
			}
			if _, err := parser.ParseEnvironments(context.Background(), path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFindDocuments(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"b.cue", "a.cue", EnvironmentFile, "notes.txt"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), nil, 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	files, err := FindDocuments(tmpDir)
	if err != nil {
		t.Fatalf("FindDocuments() error = %v", err)
	}
	want := []string{filepath.Join(tmpDir, "a.cue"), filepath.Join(tmpDir, "b.cue")}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("FindDocuments() = %v, want %v", files, want)
	}
}
