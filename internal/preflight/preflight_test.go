package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"rollcall/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "Classifier LLM", config.LLMConfig{})
	if result.Passed {
		t.Fatal("expected failure for missing key")
	}
}

func TestCheckLLM_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"ok":true}`,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	result := CheckLLM(context.Background(), "Classifier LLM", config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "demo-model",
	})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckLLM(context.Background(), "Classifier LLM", config.LLMConfig{
		APIKey:  "bad-key",
		BaseURL: srv.URL,
		Model:   "demo-model",
	})
	if result.Passed {
		t.Fatal("expected failure for rejected key")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.LibraryDir = t.TempDir()
	cfg.Paths.IntakeDir = ""
	cfg.Paths.ArchiveDir = ""
	cfg.Classifier.Enabled = false

	results := RunAll(context.Background(), &cfg)
	// Staging + state + library directory checks.
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_IncludesClassifierWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.LibraryDir = ""
	cfg.Paths.IntakeDir = ""
	cfg.Paths.ArchiveDir = ""
	cfg.Classifier.Enabled = true
	cfg.Classifier.APIKey = ""

	results := RunAll(context.Background(), &cfg)
	found := false
	for _, r := range results {
		if r.Name == "Classifier LLM" {
			found = true
			if r.Passed {
				t.Error("expected classifier check to fail without API key")
			}
		}
	}
	if !found {
		t.Fatal("expected classifier check in results")
	}
}

func TestCheckClassifierFromConfig_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Classifier.Enabled = false
	result := CheckClassifierFromConfig(&cfg)
	if !result.Passed {
		t.Fatalf("expected disabled classifier to pass, got: %s", result.Detail)
	}
}

func TestCheckNotificationsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	if result := CheckNotificationsFromConfig(&cfg); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("expected disabled notifications, got %+v", result)
	}
	cfg.Notifications.NtfyTopic = "rollcall-alerts"
	if result := CheckNotificationsFromConfig(&cfg); !result.Passed {
		t.Fatalf("expected configured notifications to pass, got %+v", result)
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := config.Default()
	cfg.Diarization.EngineCommand = "definitely-not-a-real-engine"

	results := CheckSystemDeps(context.Background(), &cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(results))
	}
	if results[0].Name != "Diarization engine" {
		t.Fatalf("unexpected first requirement %q", results[0].Name)
	}
	if results[0].Available {
		t.Fatal("expected missing engine binary to be unavailable")
	}
}
