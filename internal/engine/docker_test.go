package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/recipeforge/internal/engine"
)

func TestDockerRun(t *testing.T) {
	if os.Getenv("RECIPEFORGE_DOCKER_TESTS") == "" {
		t.Skip("set RECIPEFORGE_DOCKER_TESTS=1 to run Docker tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dir := t.TempDir()
	script := filepath.Join(dir, "s0.txt")
	os.WriteFile(script, []byte("print_stats\n"), 0o644)
	logPath := filepath.Join(dir, "0")

	d := &engine.Docker{
		Image:   "alpine:latest",
		Binary:  "sh",
		Args:    []string{"-c", "echo 'and = 5  lev = 2'", "--"},
		Timeout: 30 * time.Second,
		Mounts:  []engine.Mount{{Source: dir}},
	}
	defer d.Close()

	res, err := d.Run(ctx, script, logPath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code: got %d, want 0", res.ExitCode)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "and = 5") {
		t.Errorf("log missing marker: %q", data)
	}
}

func TestDockerRunTimeout(t *testing.T) {
	if os.Getenv("RECIPEFORGE_DOCKER_TESTS") == "" {
		t.Skip("set RECIPEFORGE_DOCKER_TESTS=1 to run Docker tests")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "s0.txt")
	os.WriteFile(script, []byte("print_stats\n"), 0o644)

	d := &engine.Docker{
		Image:   "alpine:latest",
		Binary:  "sh",
		Args:    []string{"-c", "sleep 300", "--"},
		Timeout: 2 * time.Second,
		Mounts:  []engine.Mount{{Source: dir}},
	}
	defer d.Close()

	res, err := d.Run(context.Background(), script, filepath.Join(dir, "0"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected timeout")
	}
}
