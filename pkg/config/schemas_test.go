package config

import (
	"context"
	"strings"
	"testing"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{SchemaDomain, SchemaDeployment, SchemaInfrastructure, SchemaEnvironments, "#Resource", "#Member"} {
		if _, ok := sr.GetSchema(name); !ok {
			t.Errorf("built-in schema %s not registered", name)
		}
	}

	names := sr.ListSchemas()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("ListSchemas() not sorted: %v", names)
		}
	}
}

func TestSchemaRegistry_ValidateDomain(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid domain with extra attributes",
			data: map[string]interface{}{
				"name":              "base_domain",
				"admin-server-name": "AdminServer",
				"servers": []interface{}{
					map[string]interface{}{"name": "AdminServer", "listen-port": 7001},
				},
			},
		},
		{
			name:    "missing name",
			data:    map[string]interface{}{"admin-server-name": "AdminServer"},
			wantErr: true,
		},
		{
			name: "server without name",
			data: map[string]interface{}{
				"name":    "base_domain",
				"servers": []interface{}{map[string]interface{}{"listen-port": 7001}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, SchemaDomain, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAgainstSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_ValidateInfrastructure(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{"path": "/etc/motd", "mode": "0644"},
		},
		"packages": []interface{}{
			map[string]interface{}{"name": "nginx", "installed": true},
		},
	}
	if err := sr.ValidateAgainstSchema(ctx, SchemaInfrastructure, valid); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	relative := map[string]interface{}{
		"files": []interface{}{map[string]interface{}{"path": "etc/motd"}},
	}
	if err := sr.ValidateAgainstSchema(ctx, SchemaInfrastructure, relative); err == nil {
		t.Error("expected error for relative file path")
	}

	wrongType := map[string]interface{}{
		"packages": []interface{}{map[string]interface{}{"name": "nginx", "installed": "yes"}},
	}
	if err := sr.ValidateAgainstSchema(ctx, SchemaInfrastructure, wrongType); err == nil {
		t.Error("expected error for non-boolean installed")
	}
}

func TestSchemaRegistry_ValidateEnvironments(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]interface{}{
		"environments": map[string]interface{}{
			"dev": map[string]interface{}{
				"resources": map[string]interface{}{
					"domain": map[string]interface{}{"kind": "mbean", "url": "file:///tmp/dev.yaml"},
				},
			},
		},
	}
	if err := sr.ValidateAgainstSchema(ctx, SchemaEnvironments, valid); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	unknownField := map[string]interface{}{
		"environments": map[string]interface{}{
			"dev": map[string]interface{}{
				"resources": map[string]interface{}{},
				"colour":    "blue",
			},
		},
	}
	if err := sr.ValidateAgainstSchema(ctx, SchemaEnvironments, unknownField); err == nil {
		t.Error("expected error for unknown environment field")
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	err := sr.RegisterSchema(`
#Cluster: {
	name:   string
	nodes?: int & >0
}
`)
	if err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}

	if err := sr.ValidateAgainstSchema(context.Background(), "#Cluster", map[string]interface{}{"name": "c1", "nodes": 0}); err == nil {
		t.Error("expected constraint violation for nodes=0")
	}

	if err := sr.RegisterSchema(`#Broken: { name: string`); err == nil {
		t.Error("expected error for invalid CUE")
	}

	if err := sr.ValidateAgainstSchema(context.Background(), "#Missing", nil); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected schema not found error, got %v", err)
	}
}
