package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaults(t *testing.T) {
	tempDir := t.TempDir()

	cfg, err := Load(tempDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.Kind != BackendAPI {
		t.Errorf("Expected default backend kind api, got %s", cfg.Backend.Kind)
	}
	if cfg.Backend.Provider != ProviderAnthropic {
		t.Errorf("Expected default provider anthropic, got %s", cfg.Backend.Provider)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Retry.MaxRetries)
	}

	// Defaults are written back for the user to edit.
	if _, statErr := os.Stat(filepath.Join(tempDir, ConfigFileName)); statErr != nil {
		t.Errorf("Expected config file to be written: %v", statErr)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	tempDir := t.TempDir()
	raw := `
backend:
  kind: cli
  command: ["claude", "-p"]
retry:
  max_retries: 5
  initial_delay: 1s
  max_delay: 2m
timing:
  cycle_timeout: 90m
  task_delay: 10
`
	if err := os.WriteFile(filepath.Join(tempDir, ConfigFileName), []byte(raw), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(tempDir)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.Kind != BackendCLI {
		t.Errorf("Expected cli backend, got %s", cfg.Backend.Kind)
	}
	if len(cfg.Backend.Command) != 2 || cfg.Backend.Command[0] != "claude" {
		t.Errorf("Unexpected command: %v", cfg.Backend.Command)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.MaxDelay.Std() != 2*time.Minute {
		t.Errorf("Expected max delay 2m, got %s", cfg.Retry.MaxDelay)
	}
	if cfg.Timing.CycleTimeout.Std() != 90*time.Minute {
		t.Errorf("Expected cycle timeout 90m, got %s", cfg.Timing.CycleTimeout)
	}
	// Bare integers are interpreted as seconds.
	if cfg.Timing.TaskDelay.Std() != 10*time.Second {
		t.Errorf("Expected task delay 10s, got %s", cfg.Timing.TaskDelay)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tempDir := t.TempDir()
	raw := `
backend:
  kind: carrier-pigeon
`
	if err := os.WriteFile(filepath.Join(tempDir, ConfigFileName), []byte(raw), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(tempDir); err == nil {
		t.Error("Expected error for unknown backend kind")
	}
}

func TestValidateCLIRequiresCommand(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Backend.Kind = BackendCLI
	cfg.Backend.Command = nil

	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for cli backend without command")
	}
}

func TestResolve(t *testing.T) {
	cfg := Default("/work")
	if got := cfg.Resolve("PLAN.md"); got != filepath.Join("/work", "PLAN.md") {
		t.Errorf("Unexpected resolved path: %s", got)
	}
	if got := cfg.Resolve("/abs/path"); got != "/abs/path" {
		t.Errorf("Absolute path should pass through, got %s", got)
	}
}

func TestSecretsRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	secrets := map[string]string{SecretAnthropicAPIKey: "sk-test-123"}

	if err := EncryptSecrets(secrets, "hunter2", tempDir); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	decrypted, err := DecryptSecrets("hunter2", tempDir)
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}
	if decrypted[SecretAnthropicAPIKey] != "sk-test-123" {
		t.Errorf("Unexpected decrypted value: %v", decrypted)
	}

	if _, err := DecryptSecrets("wrong-password", tempDir); err == nil {
		t.Error("Expected error for wrong password")
	}
}

func TestSecretsMissingFileIsEmpty(t *testing.T) {
	decrypted, err := DecryptSecrets("pw", t.TempDir())
	if err != nil {
		t.Fatalf("Expected no error for missing file, got %v", err)
	}
	if len(decrypted) != 0 {
		t.Errorf("Expected empty map, got %v", decrypted)
	}
}

func TestGetSecretPrecedence(t *testing.T) {
	SetDecryptedSecrets(map[string]string{"DEVLOOP_TEST_SECRET": "from-file"})
	defer SetDecryptedSecrets(nil)
	t.Setenv("DEVLOOP_TEST_SECRET", "from-env")

	value, err := GetSecret("DEVLOOP_TEST_SECRET")
	if err != nil {
		t.Fatalf("Expected secret, got error %v", err)
	}
	if value != "from-file" {
		t.Errorf("Expected secrets file to win, got %q", value)
	}

	SetDecryptedSecrets(nil)
	value, err = GetSecret("DEVLOOP_TEST_SECRET")
	if err != nil || value != "from-env" {
		t.Errorf("Expected env fallback, got %q err %v", value, err)
	}

	if _, err := GetSecret("DEVLOOP_DOES_NOT_EXIST"); err == nil {
		t.Error("Expected error for unknown secret")
	}
}
