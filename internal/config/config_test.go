package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir string, body map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Claude.APIURL != "https://api.anthropic.com" {
		t.Errorf("expected default claude api url, got %q", cfg.Claude.APIURL)
	}
	if cfg.Claude.WebURL != "https://claude.ai" {
		t.Errorf("expected default claude web url, got %q", cfg.Claude.WebURL)
	}
	if cfg.SessionTTL.String() != "1h0m0s" {
		t.Errorf("expected default session ttl 1h, got %v", cfg.SessionTTL)
	}
	if cfg.Proxy.Mode != "disabled" {
		t.Errorf("expected default proxy mode disabled, got %q", cfg.Proxy.Mode)
	}
}

func TestLoad_ReadsClaudeBlockFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, map[string]any{
		"claude": map[string]any{
			"api_url":         "https://api.example.internal",
			"web_url":         "https://claude.example.internal",
			"oauth_client_id": "client-123",
		},
		"session_ttl": "45m",
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Claude.APIURL != "https://api.example.internal" {
		t.Errorf("expected overridden api url, got %q", cfg.Claude.APIURL)
	}
	if cfg.Claude.OAuthClientID != "client-123" {
		t.Errorf("expected overridden oauth client id, got %q", cfg.Claude.OAuthClientID)
	}
	if cfg.SessionTTL.String() != "45m0s" {
		t.Errorf("expected session ttl 45m, got %v", cfg.SessionTTL)
	}
}

func TestLoad_MigratesLegacyProxyURL(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, map[string]any{
		"proxy_url": "http://legacy-proxy:8888",
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Proxy.Mode != "fixed" {
		t.Errorf("expected migrated proxy mode fixed, got %q", cfg.Proxy.Mode)
	}
	if cfg.Proxy.FixedURL != "http://legacy-proxy:8888" {
		t.Errorf("expected migrated fixed url, got %q", cfg.Proxy.FixedURL)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rewritten config: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(rewritten, &out); err != nil {
		t.Fatalf("unmarshal rewritten config: %v", err)
	}
	if _, ok := out["proxy_url"]; ok {
		t.Error("expected legacy proxy_url key to be dropped from the rewritten file")
	}
	if _, ok := out["claude"]; !ok {
		t.Error("expected rewritten config to include the claude block")
	}
}

func TestLoad_LegacyProxyURLIgnoredWhenNewSchemaPresent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, map[string]any{
		"proxy_url": "http://legacy-proxy:8888",
		"proxy": map[string]any{
			"mode":      "fixed",
			"fixed_url": "http://current-proxy:9999",
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Proxy.FixedURL != "http://current-proxy:9999" {
		t.Errorf("expected current proxy.fixed_url to win, got %q", cfg.Proxy.FixedURL)
	}
}
