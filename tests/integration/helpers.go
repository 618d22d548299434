//go:build integration

// Package integration runs the gateway against the live Kiro backend.
package integration

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/erikhoward/kirogw/config"
	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers/kiro"
)

// skipIfNoRefreshToken skips the test if KIRO_REFRESH_TOKEN is not set.
func skipIfNoRefreshToken(t *testing.T) {
	t.Helper()
	if os.Getenv("KIRO_REFRESH_TOKEN") == "" {
		t.Skip("KIRO_REFRESH_TOKEN not set")
	}
}

// liveProvider builds a provider from the environment.
func liveProvider(t *testing.T) *kiro.Kiro {
	t.Helper()
	skipIfNoRefreshToken(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	p, err := cfg.Provider(nil)
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	return p
}

func liveClient(t *testing.T) *core.Client {
	t.Helper()
	return core.NewClient(liveProvider(t))
}

// weatherTool is a small tool the model can be asked to call.
func weatherTool() core.ToolSpec {
	return core.ToolSpec{
		Name:        "get_weather",
		Description: "Get the current weather in a given location",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "The city, e.g. Paris",
				},
			},
			"required": []string{"location"},
		},
	}
}

// cliResult holds the result of running a CLI command.
type cliResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// runCLI builds the kirogw binary and runs it with args and stdin.
func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()

	root := findModuleRoot(t)
	binaryPath := filepath.Join(t.TempDir(), "kirogw-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, "./cli/cmd/kirogw")
	buildCmd.Dir = root
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build CLI: %v\n%s", err, output)
	}

	cmd := exec.Command(binaryPath, args...)
	cmd.Stdin = bytes.NewBufferString(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("Failed to run CLI: %v", err)
		}
	}

	return cliResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}

// findModuleRoot locates the directory holding go.mod.
func findModuleRoot(t *testing.T) string {
	t.Helper()
	for _, candidate := range []string{"../..", "..", "."} {
		if _, err := os.Stat(filepath.Join(candidate, "go.mod")); err == nil {
			abs, _ := filepath.Abs(candidate)
			return abs
		}
	}
	t.Fatal("Could not find module root")
	return ""
}
