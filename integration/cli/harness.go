//go:build integration

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the sitepush binary once per test and runs it against
// repositories in a temporary workspace.
type Harness struct {
	t      *testing.T
	binary string
	// Workspace holds the repositories, bare remotes and config file.
	Workspace string
	env       []string
}

// NewHarness creates a harness with an empty workspace
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		t:         t,
		Workspace: t.TempDir(),
	}
}

// BuildBinary compiles cmd/sitepush into the test's temp dir
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.t.TempDir(), "sitepush")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/sitepush")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	h.t.Logf("Binary built at %s", h.binary)
	return nil
}

// InstallFakeGenerator puts a "jekyll" script on PATH that writes into siteDir.
// The script exits with exitCode after recording its arguments in args.txt.
func (h *Harness) InstallFakeGenerator(siteDir string, exitCode int) {
	h.t.Helper()
	binDir := filepath.Join(h.Workspace, "bin")
	script := fmt.Sprintf(`#!/bin/sh
printf '%%s\n' "$@" > %s
mkdir -p %s
date +%%s%%N > %s
exit %d
`, shellQuote(filepath.Join(h.Workspace, "args.txt")), shellQuote(siteDir),
		shellQuote(filepath.Join(siteDir, "index.html")), exitCode)
	h.WriteFile(filepath.Join(binDir, "jekyll"), script)
	if err := os.Chmod(filepath.Join(binDir, "jekyll"), 0o755); err != nil {
		h.t.Fatalf("chmod generator: %v", err)
	}
	h.env = append(h.env, "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// Run executes sitepush in dir with stdin and returns its output and exit code
func (h *Harness) Run(ctx context.Context, dir, stdin string, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), h.env...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("run failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun runs sitepush and fails the test if it exits non-zero
func (h *Harness) MustRun(ctx context.Context, dir, stdin string, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, dir, stdin, args...)
	if err != nil {
		h.t.Fatalf("run failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("sitepush failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// Git runs git with args and returns trimmed output
func (h *Harness) Git(args ...string) string {
	h.t.Helper()
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		h.t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// InitRepoWithRemote creates a working repository named name with a bare
// remote, one pushed commit and main as upstream. It returns both paths.
func (h *Harness) InitRepoWithRemote(name string) (string, string) {
	h.t.Helper()
	remote := filepath.Join(h.Workspace, "remotes", name+".git")
	dir := filepath.Join(h.Workspace, name)

	h.Git("init", "--bare", "-b", "main", remote)
	h.Git("init", "-b", "main", dir)
	h.Git("-C", dir, "config", "user.email", "test@test.com")
	h.Git("-C", dir, "config", "user.name", "Test")
	h.Git("-C", dir, "config", "commit.gpgsign", "false")
	h.WriteFile(filepath.Join(dir, "README.md"), "# "+name+"\n")
	h.Git("-C", dir, "add", "-A")
	h.Git("-C", dir, "commit", "-m", "Initial commit")
	h.Git("-C", dir, "remote", "add", "origin", remote)
	h.Git("-C", dir, "push", "-u", "origin", "main")
	return dir, remote
}

// WriteFile writes content to path, creating parent directories
func (h *Harness) WriteFile(path, content string) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// RemoteFile returns path at main in a bare remote
func (h *Harness) RemoteFile(remote, path string) string {
	h.t.Helper()
	return h.Git("-C", remote, "show", "main:"+path)
}

// RemoteSubject returns the subject of the latest commit on main
func (h *Harness) RemoteSubject(remote string) string {
	h.t.Helper()
	return h.Git("-C", remote, "log", "-1", "--format=%s", "main")
}

// RemoteCommitCount returns the number of commits on main
func (h *Harness) RemoteCommitCount(remote string) string {
	h.t.Helper()
	return h.Git("-C", remote, "rev-list", "--count", "main")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
