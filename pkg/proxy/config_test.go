package proxy

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
resultsAPI:
  url: https://tekton-results-api-service.openshift-pipelines.svc:8080
consolePlugin:
  enabled: true
`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.ListenAddress != ":8443" {
		t.Errorf("listen address = %q, want :8443", config.ListenAddress)
	}
	if config.DefaultPageSize != 50 {
		t.Errorf("default page size = %d, want 50", config.DefaultPageSize)
	}
	if config.ConsolePlugin.ServiceName == "" || config.ConsolePlugin.ServiceNamespace == "" {
		t.Error("enabled plugin config must default its service coordinates")
	}
	if config.ConsolePlugin.Port != 8443 || config.ConsolePlugin.BasePath != "/" {
		t.Errorf("plugin defaults = %d %q", config.ConsolePlugin.Port, config.ConsolePlugin.BasePath)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "results API URL is required",
			content: `listenAddress: ":9000"`,
		},
		{
			name: "page size outside the clamp range",
			content: `
resultsAPI:
  url: https://example.com
defaultPageSize: 20000
`,
		},
		{
			name:    "not yaml at all",
			content: `{{{`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestSupportsLogs(t *testing.T) {
	tests := []struct {
		name    string
		version string
		output  bool
	}{
		{name: "unset version disables logs", version: "", output: false},
		{name: "older release", version: "0.8.3", output: false},
		{name: "minimum release", version: "0.9.0", output: true},
		{name: "newer release", version: "v0.10.1", output: true},
		{name: "unparseable version disables logs", version: "release-1", output: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := ResultsAPIConfig{Version: tt.version}
			if got := config.SupportsLogs(); got != tt.output {
				t.Errorf("SupportsLogs(%q) = %t, want %t", tt.version, got, tt.output)
			}
		})
	}
}

func TestToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("sha256~secret\n"), 0600); err != nil {
		t.Fatalf("failed to write token: %v", err)
	}
	config := ResultsAPIConfig{TokenFile: path}
	token, err := config.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "sha256~secret" {
		t.Errorf("token = %q, want the trimmed file content", token)
	}

	config = ResultsAPIConfig{}
	if token, err := config.Token(); err != nil || token != "" {
		t.Errorf("no token file must yield an empty token, got %q, %v", token, err)
	}
}
