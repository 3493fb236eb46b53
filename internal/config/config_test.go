package config

import (
	"slices"
	"testing"
)

func TestLoadAppliesDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		testContext.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		testContext.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.AuthEnabled() {
		testContext.Fatalf("auth should be disabled without a signing secret")
	}
	if !slices.Equal(cfg.AllowedOrigins, []string{"*"}) {
		testContext.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("PDS_DATABASE_PATH", "/tmp/notes.db")
	testContext.Setenv("PDS_AUTH_SIGNING_SECRET", "secret")
	testContext.Setenv("PDS_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabasePath != "/tmp/notes.db" {
		testContext.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if !cfg.AuthEnabled() || cfg.AuthIssuer != defaultAuthIssuer {
		testContext.Fatalf("expected auth to be enabled with default issuer, got %#v", cfg)
	}
	if !slices.Equal(cfg.AllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		testContext.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidConfiguration(testContext *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "empty database path", key: "database.path", val: " "},
		{name: "empty origins", key: "cors.allowed_origins", val: ","},
		{name: "empty address", key: "http.address", val: ""},
	}

	for _, testCase := range tests {
		testContext.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.val)
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
