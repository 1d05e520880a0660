package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dialqueue/internal/config"
	"dialqueue/internal/queue"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	cfgPath := filepath.Join(base, "dialqueue.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
report_path = %q
api_bind = "127.0.0.1:0"
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "call_report.xlsx"),
	)
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitCreatesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}
}

func TestConfigValidate(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "--config", cfgPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Fatalf("output = %q", out)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfgPath := writeTestConfig(t)
	t.Setenv("DIALQUEUE_PROVIDER_API_KEY", "super-secret-key")

	out, err := runCommand(t, "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(out, "super-secret-key") {
		t.Fatal("secret leaked in config show output")
	}
	if !strings.Contains(out, "[paths]") {
		t.Fatalf("output = %q", out)
	}
}

func TestQueueListClearHealth(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cfg, _, _, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.Enqueue(context.Background(), "cust-1", "Ada", "+15550001111", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	store.Close()

	out, err := runCommand(t, "--config", cfgPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	if !strings.Contains(out, "cust-1") || !strings.Contains(out, "queued") {
		t.Fatalf("list output = %q", out)
	}

	out, err = runCommand(t, "--config", cfgPath, "queue", "clear")
	if err != nil {
		t.Fatalf("queue clear failed: %v", err)
	}
	if !strings.Contains(out, "Removed 1 queue entries.") {
		t.Fatalf("clear output = %q", out)
	}

	out, err = runCommand(t, "--config", cfgPath, "queue", "health")
	if err != nil {
		t.Fatalf("queue health failed: %v", err)
	}
	if !strings.Contains(out, "Total:      0") {
		t.Fatalf("health output = %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "dialqueue") {
		t.Fatalf("output = %q", out)
	}
}
