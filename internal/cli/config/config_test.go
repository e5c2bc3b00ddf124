package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := &Config{
		Endpoints: []Endpoint{
			{URL: "http://localhost:8080", Alias: "local"},
			{URL: "https://auth.example.com", Alias: "prod"},
		},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(loaded.Endpoints))
	}
	if loaded.Endpoints[1].Alias != "prod" || loaded.Endpoints[1].URL != "https://auth.example.com" {
		t.Errorf("unexpected endpoint: %+v", loaded.Endpoints[1])
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestFindConfigFile_SearchesParents(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	if err := Save(filepath.Join(root, ConfigFileName), DefaultConfig()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	defer os.Chdir(originalDir)

	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("expected config in a parent directory: %v", err)
	}
	// macOS resolves temp dirs through symlinks, so compare the file name only
	if filepath.Base(found) != ConfigFileName {
		t.Errorf("unexpected config path %q", found)
	}
}

func TestGetEndpointByAlias(t *testing.T) {
	cfg := &Config{
		Endpoints: []Endpoint{
			{URL: "http://localhost:8080", Alias: "local"},
			{URL: "https://auth.example.com", Alias: "prod"},
		},
	}

	ep, err := cfg.GetEndpointByAlias("prod")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if ep.URL != "https://auth.example.com" {
		t.Errorf("unexpected endpoint: %+v", ep)
	}

	if _, err := cfg.GetEndpointByAlias("staging"); err == nil {
		t.Error("expected error for unknown alias")
	}
}

func TestGetDefaultEndpoint(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.GetDefaultEndpoint(); err == nil {
		t.Error("expected error with no endpoints")
	}

	cfg = DefaultConfig()
	ep, err := cfg.GetDefaultEndpoint()
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if ep.Alias != "local" {
		t.Errorf("unexpected default endpoint: %+v", ep)
	}
}
