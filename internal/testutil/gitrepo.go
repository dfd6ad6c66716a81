// Package testutil provides git repository fixtures shared by package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Git runs git with args and fails the test on error. It returns trimmed stdout+stderr.
func Git(t *testing.T, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// InitRemote creates an empty bare repository whose default branch is main.
func InitRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	Git(t, "init", "--bare", "-b", "main", dir)
	return dir
}

// InitWorkingRepo creates a repository at dir with one pushed commit on main,
// tracking remote as origin. dir may already contain files; they are committed.
func InitWorkingRepo(t *testing.T, dir, remote string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	Git(t, "init", "-b", "main", dir)
	for _, kv := range [][2]string{
		{"user.email", "test@test.com"},
		{"user.name", "Test"},
		{"commit.gpgsign", "false"},
	} {
		Git(t, "-C", dir, "config", kv[0], kv[1])
	}
	WriteFile(t, filepath.Join(dir, "README.md"), "# fixture\n")
	Git(t, "-C", dir, "add", "-A")
	Git(t, "-C", dir, "commit", "-m", "Initial commit")
	if remote != "" {
		Git(t, "-C", dir, "remote", "add", "origin", remote)
		Git(t, "-C", dir, "push", "-u", "origin", "main")
	}
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of path or fails the test.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// RemoteHead returns the commit main points to in the bare repository.
func RemoteHead(t *testing.T, remote string) string {
	t.Helper()
	return Git(t, "-C", remote, "rev-parse", "refs/heads/main")
}

// RemoteSubject returns the subject line of the latest commit on main in remote.
func RemoteSubject(t *testing.T, remote string) string {
	t.Helper()
	return Git(t, "-C", remote, "log", "-1", "--format=%s", "main")
}

// RemoteFile returns the content of path at main in the bare repository.
func RemoteFile(t *testing.T, remote, path string) string {
	t.Helper()
	return Git(t, "-C", remote, "show", "main:"+path)
}
