package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/session"
)

func TestSubstitute(t *testing.T) {
	props := map[string]any{
		"host":       "node1",
		"admin.port": 7001,
	}

	tests := []struct {
		name    string
		in      string
		want    any
		wantErr bool
	}{
		{name: "no placeholder", in: "plain", want: "plain"},
		{name: "whole value keeps type", in: "${admin.port}", want: 7001},
		{name: "embedded", in: "t3://${host}:${admin.port}", want: "t3://node1:7001"},
		{name: "undefined", in: "${missing}", wantErr: true},
		{name: "undefined embedded", in: "x-${missing}-${other}", wantErr: true},
		{name: "unterminated is literal", in: "${host", want: "${host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.in, props)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Substitute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUndefinedProperty) {
					t.Errorf("expected ErrUndefinedProperty, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Substitute() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestSubstituteElements(t *testing.T) {
	root := NewComposite("domain", "${domain}",
		NewLeaf("name", "${domain}"),
		NewComposite("servers", "${admin}",
			NewLeaf("listen-port", "${admin.port}"),
			NewLeaf("enabled", true),
		),
	)

	err := SubstituteElements(root, map[string]any{"domain": "base_domain", "admin": "AdminServer", "admin.port": 7001})
	if err != nil {
		t.Fatalf("SubstituteElements() error = %v", err)
	}
	if root.Key != "base_domain" || root.Child("name").Value != "base_domain" {
		t.Errorf("root not substituted: %v", root)
	}
	server := root.Child("servers")
	if server.Key != "AdminServer" || server.Child("listen-port").Value != 7001 {
		t.Errorf("server not substituted: %v", server)
	}

	broken := NewComposite("domain", "", NewLeaf("a", "${x}"), NewLeaf("b", "${y}"))
	err = SubstituteElements(broken, nil)
	if err == nil {
		t.Fatal("expected error for undefined properties")
	}
	if !errors.Is(err, ErrUndefinedProperty) {
		t.Errorf("expected ErrUndefinedProperty, got %v", err)
	}
}

func TestEnvironmentResolveProperties(t *testing.T) {
	env := &Environment{
		Name:       "dev",
		Properties: map[string]any{"host": "node1", "port": 7001},
		Script:     `admin_url = "t3://" + properties["host"] + ":" + str(properties["port"]) + "/" + environment`,
	}

	props, err := env.ResolveProperties(context.Background(), NewStarlarkEvaluator(5*time.Second))
	if err != nil {
		t.Fatalf("ResolveProperties() error = %v", err)
	}
	if props["admin_url"] != "t3://node1:7001/dev" {
		t.Errorf("unexpected admin_url %v", props["admin_url"])
	}
	if props["environment"] != "dev" || props["host"] != "node1" {
		t.Errorf("declared properties missing: %v", props)
	}

	env.Script = `broken = (`
	if _, err := env.ResolveProperties(context.Background(), nil); err == nil {
		t.Error("expected script error")
	}
}

func TestEnvironmentSessionResource(t *testing.T) {
	t.Setenv("PINEAPPLE_TEST_PASSWORD", "s3cret")

	env := &Environment{
		Name: "prod",
		Resources: map[string]*ResourceConfig{
			"web01": {
				Kind:       "ssh",
				URL:        "ssh://deploy@${host}:22",
				Properties: map[string]any{"timeout": "${timeout}", "retries": 3},
				Credential: &CredentialConfig{User: "deploy", PasswordEnv: "PINEAPPLE_TEST_PASSWORD"},
			},
			"broken": {
				Kind:       "ssh",
				Credential: &CredentialConfig{PasswordEnv: "PINEAPPLE_TEST_UNSET_PASSWORD"},
			},
		},
	}
	props := map[string]any{"host": "web01.example.com", "timeout": "5s"}

	res, cred, err := env.SessionResource("web01", props)
	if err != nil {
		t.Fatalf("SessionResource() error = %v", err)
	}
	want := session.Resource{
		ID:         "web01",
		Kind:       "ssh",
		URL:        "ssh://deploy@web01.example.com:22",
		Properties: map[string]any{"timeout": "5s", "retries": 3},
	}
	if res.ID != want.ID || res.Kind != want.Kind || res.URL != want.URL ||
		res.Properties["timeout"] != "5s" || res.Properties["retries"] != 3 {
		t.Errorf("SessionResource() = %+v, want %+v", res, want)
	}
	if cred.User != "deploy" || cred.Password != "s3cret" {
		t.Errorf("unexpected credential %+v", cred)
	}

	if _, _, err := env.SessionResource("broken", props); err == nil {
		t.Error("expected error for unset password variable")
	}
	if _, _, err := env.SessionResource("db01", props); err == nil {
		t.Error("expected error for unknown resource")
	}
}
