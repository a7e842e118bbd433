package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStandaloneBinaryWorksOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	buildDir := t.TempDir()
	binaryPath := filepath.Join(buildDir, "quotelens")

	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/quotelens")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}

	outside := t.TempDir()
	copiedBinary := filepath.Join(outside, "quotelens")

	// Use a direct file copy to avoid relying on platform-specific tools.
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("read built binary: %v", err)
	}
	if err := os.WriteFile(copiedBinary, data, 0o755); err != nil {
		t.Fatalf("write copied binary: %v", err)
	}

	// Keep config and data lookups inside the sandbox.
	env := append(os.Environ(),
		"HOME="+outside,
		"XDG_CONFIG_HOME="+filepath.Join(outside, "config"),
		"XDG_DATA_HOME="+filepath.Join(outside, "data"),
	)
	run := func(args ...string) []byte {
		t.Helper()
		cmd := exec.Command(copiedBinary, args...)
		cmd.Dir = outside
		cmd.Env = env
		out, err := cmd.Output()
		if err != nil {
			stderr := ""
			if exitErr, ok := err.(*exec.ExitError); ok {
				stderr = string(exitErr.Stderr)
			}
			t.Fatalf("%s failed: %v\n%s%s", strings.Join(args, " "), err, string(out), stderr)
		}
		return out
	}

	run("version")
	run("--help")

	out := run("market", "status", "--at", "2025-01-15T15:00:00Z", "-o", "json")
	var session struct {
		IsOpen bool   `json:"is_open"`
		Status string `json:"current_status"`
	}
	if err := json.Unmarshal(out, &session); err != nil {
		t.Fatalf("decode market status: %v\n%s", err, string(out))
	}
	if !session.IsOpen || session.Status != "open" {
		t.Fatalf("expected open session at 10:00 New York time, got %+v", session)
	}
}
