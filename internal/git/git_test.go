package git

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/sitepush/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient() *ShellClient {
	return NewShellClient("", "", PushTarget{}, testLogger())
}

func TestPublish_PushesChanges(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "blog")
	testutil.InitWorkingRepo(t, dir, remote)
	before := testutil.RemoteHead(t, remote)

	testutil.WriteFile(t, filepath.Join(dir, "_posts", "hello.md"), "hello\n")

	outcome, err := newTestClient().Publish(ctx, dir, "Add hello post")
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)

	assert.NotEqual(t, before, testutil.RemoteHead(t, remote))
	assert.Equal(t, "Add hello post", testutil.RemoteSubject(t, remote))
	assert.Equal(t, "hello", testutil.RemoteFile(t, remote, "_posts/hello.md"))
}

func TestPublish_StagesDeletions(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "blog")
	testutil.InitWorkingRepo(t, dir, remote)

	require.NoError(t, os.Remove(filepath.Join(dir, "README.md")))

	outcome, err := newTestClient().Publish(ctx, dir, "Remove readme")
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)

	out, err := exec.Command("git", "-C", remote, "show", "main:README.md").CombinedOutput()
	assert.Error(t, err, "README.md should be gone from remote: %s", out)
}

func TestPublish_NothingToCommit(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "blog")
	testutil.InitWorkingRepo(t, dir, remote)
	before := testutil.RemoteHead(t, remote)

	outcome, err := newTestClient().Publish(ctx, dir, "No-op")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToCommit, outcome)
	assert.Equal(t, before, testutil.RemoteHead(t, remote))
}

func TestPublish_PushesPendingCommits(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "blog")
	testutil.InitWorkingRepo(t, dir, remote)

	// A commit that an earlier run created but failed to push.
	testutil.WriteFile(t, filepath.Join(dir, "_posts", "stranded.md"), "stranded\n")
	testutil.Git(t, "-C", dir, "add", "-A")
	testutil.Git(t, "-C", dir, "commit", "-m", "Stranded commit")
	local := testutil.Git(t, "-C", dir, "rev-parse", "HEAD")

	outcome, err := newTestClient().Publish(ctx, dir, "No new changes")
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)
	assert.Equal(t, local, testutil.RemoteHead(t, remote))
	assert.Equal(t, "Stranded commit", testutil.RemoteSubject(t, remote))
}

func TestPublish_Subdirectory(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	project := filepath.Join(t.TempDir(), "project")
	testutil.InitWorkingRepo(t, project, remote)
	blog := filepath.Join(project, "blog")

	testutil.WriteFile(t, filepath.Join(blog, "_posts", "x.md"), "x\n")
	testutil.WriteFile(t, filepath.Join(project, "notes.txt"), "private\n")

	outcome, err := newTestClient().Publish(ctx, blog, "Add post")
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)
	assert.Equal(t, "Add post", testutil.RemoteSubject(t, remote))
	assert.Equal(t, "x", testutil.RemoteFile(t, remote, "blog/_posts/x.md"))

	out, err := exec.Command("git", "-C", remote, "show", "main:notes.txt").CombinedOutput()
	assert.Error(t, err, "notes.txt lives outside the published directory: %s", out)
}

func TestPublish_SubdirectoryIgnoresOutsideChanges(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	project := filepath.Join(t.TempDir(), "project")
	testutil.InitWorkingRepo(t, project, remote)
	blog := filepath.Join(project, "blog")
	testutil.WriteFile(t, filepath.Join(blog, "index.md"), "home\n")
	testutil.Git(t, "-C", project, "add", "-A")
	testutil.Git(t, "-C", project, "commit", "-m", "Add blog")
	testutil.Git(t, "-C", project, "push")
	before := testutil.RemoteHead(t, remote)

	testutil.WriteFile(t, filepath.Join(project, "notes.txt"), "private\n")
	testutil.Git(t, "-C", project, "add", "notes.txt")

	outcome, err := newTestClient().Publish(ctx, blog, "Nothing here")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToCommit, outcome)
	assert.Equal(t, before, testutil.RemoteHead(t, remote))
}

func TestPublish_PushFailure(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "blog")
	testutil.InitWorkingRepo(t, dir, remote)

	// Simulate an unreachable remote.
	require.NoError(t, os.RemoveAll(remote))
	testutil.WriteFile(t, filepath.Join(dir, "new.md"), "new\n")

	outcome, err := newTestClient().Publish(ctx, dir, "Will not reach remote")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.Contains(t, err.Error(), "git push")
	assert.Empty(t, outcome)
}

func TestPublish_NotARepository(t *testing.T) {
	_, err := newTestClient().Publish(context.Background(), t.TempDir(), "msg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestPublish_ExplicitTarget(t *testing.T) {
	ctx := context.Background()
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "site")
	testutil.InitWorkingRepo(t, dir, remote)

	testutil.WriteFile(t, filepath.Join(dir, "index.html"), "<h1>hi</h1>\n")

	client := NewShellClient("", "", PushTarget{Remote: "origin", Branch: "main"}, testLogger())
	outcome, err := client.Publish(ctx, dir, "Publish site")
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)
	assert.Equal(t, "<h1>hi</h1>", testutil.RemoteFile(t, remote, "index.html"))
}

func TestHasStagedChanges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	testutil.InitWorkingRepo(t, dir, "")

	staged, err := HasStagedChanges(dir)
	require.NoError(t, err)
	assert.False(t, staged, "clean repository")

	testutil.WriteFile(t, filepath.Join(dir, "untracked.txt"), "x\n")
	staged, err = HasStagedChanges(dir)
	require.NoError(t, err)
	assert.False(t, staged, "untracked files are not staged")

	testutil.Git(t, "-C", dir, "add", "untracked.txt")
	staged, err = HasStagedChanges(dir)
	require.NoError(t, err)
	assert.True(t, staged, "added file is staged")
}

func TestAheadOfRemote(t *testing.T) {
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "repo")
	testutil.InitWorkingRepo(t, dir, remote)

	ahead, err := AheadOfRemote(dir, "origin", "")
	require.NoError(t, err)
	assert.False(t, ahead, "in sync with origin/main")

	testutil.WriteFile(t, filepath.Join(dir, "local.md"), "local\n")
	testutil.Git(t, "-C", dir, "add", "-A")
	testutil.Git(t, "-C", dir, "commit", "-m", "Local only")

	ahead, err = AheadOfRemote(dir, "origin", "")
	require.NoError(t, err)
	assert.True(t, ahead, "local commit not pushed")

	ahead, err = AheadOfRemote(dir, "origin", "main")
	require.NoError(t, err)
	assert.True(t, ahead, "explicit branch")

	ahead, err = AheadOfRemote(dir, "upstream", "")
	require.NoError(t, err)
	assert.False(t, ahead, "unknown remote has no tracking ref")
}

func TestAheadOfRemote_NoRemote(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	testutil.InitWorkingRepo(t, dir, "")

	ahead, err := AheadOfRemote(dir, "origin", "")
	require.NoError(t, err)
	assert.False(t, ahead)
}

func TestHasStagedChanges_Subdirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	testutil.InitWorkingRepo(t, dir, "")
	sub := filepath.Join(dir, "site")
	testutil.WriteFile(t, filepath.Join(sub, "index.html"), "<p>hi</p>\n")
	testutil.WriteFile(t, filepath.Join(dir, "other.txt"), "x\n")

	testutil.Git(t, "-C", dir, "add", "other.txt")
	staged, err := HasStagedChanges(sub)
	require.NoError(t, err)
	assert.False(t, staged, "staged path outside the subdirectory")

	testutil.Git(t, "-C", dir, "add", "site/index.html")
	staged, err = HasStagedChanges(sub)
	require.NoError(t, err)
	assert.True(t, staged)
}

func TestRemoteURL(t *testing.T) {
	remote := testutil.InitRemote(t)
	dir := filepath.Join(t.TempDir(), "repo")
	testutil.InitWorkingRepo(t, dir, remote)

	assert.Equal(t, remote, RemoteURL(dir, "origin"))
	assert.Empty(t, RemoteURL(dir, "upstream"))
	assert.Empty(t, RemoteURL(t.TempDir(), "origin"))
}

func TestPushArgs(t *testing.T) {
	tests := []struct {
		name   string
		target PushTarget
		want   []string
	}{
		{name: "upstream", target: PushTarget{}, want: []string{"-C", "/d", "push"}},
		{name: "remote only", target: PushTarget{Remote: "origin"}, want: []string{"-C", "/d", "push", "origin"}},
		{name: "remote and branch", target: PushTarget{Remote: "origin", Branch: "gh-pages"}, want: []string{"-C", "/d", "push", "origin", "gh-pages"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewShellClient("", "", tt.target, testLogger())
			assert.Equal(t, tt.want, c.pushArgs("/d"))
		})
	}
}

func TestConfigureAuth(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("s3cret\n"), 0o600))

	t.Run("ssh key for ssh url", func(t *testing.T) {
		c := NewShellClient("/home/me/.ssh/id", "", PushTarget{}, testLogger())
		cmd := exec.Command("git", "push")
		require.NoError(t, c.configureAuth(cmd, "git@github.com:me/blog.git"))
		assert.Contains(t, cmd.Env, "GIT_SSH_COMMAND=ssh -i '/home/me/.ssh/id' -o StrictHostKeyChecking=accept-new -F /dev/null")
	})

	t.Run("token for https url", func(t *testing.T) {
		c := NewShellClient("", tokenFile, PushTarget{}, testLogger())
		cmd := exec.Command("git", "push")
		require.NoError(t, c.configureAuth(cmd, "https://github.com/me/blog.git"))
		assert.Contains(t, cmd.Env, "SITEPUSH_GIT_TOKEN=s3cret")
		assert.Equal(t, "-c", cmd.Args[1])
	})

	t.Run("token ignored for ssh url", func(t *testing.T) {
		c := NewShellClient("", tokenFile, PushTarget{}, testLogger())
		cmd := exec.Command("git", "push")
		require.NoError(t, c.configureAuth(cmd, "git@github.com:me/blog.git"))
		assert.Equal(t, []string{"git", "push"}, cmd.Args)
	})

	t.Run("missing token file", func(t *testing.T) {
		c := NewShellClient("", filepath.Join(t.TempDir(), "missing"), PushTarget{}, testLogger())
		cmd := exec.Command("git", "push")
		assert.Error(t, c.configureAuth(cmd, "https://github.com/me/blog.git"))
	})
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple path", input: "/home/user/.ssh/key", want: "'/home/user/.ssh/key'"},
		{name: "path with spaces", input: "/home/my user/key", want: "'/home/my user/key'"},
		{name: "path with single quote", input: "/home/user's/key", want: "'/home/user'\\''s/key'"},
		{name: "empty string", input: "", want: "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shellQuote(tt.input))
		})
	}
}

func TestInsertGitFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{
			name:  "insert before -C",
			args:  []string{"git", "-C", "/dir", "push"},
			flags: []string{"-c", "cred=helper"},
			want:  []string{"git", "-c", "cred=helper", "-C", "/dir", "push"},
		},
		{
			name:  "empty args",
			args:  []string{},
			flags: []string{"-c", "key=value"},
			want:  []string{"-c", "key=value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, insertGitFlags(tt.args, tt.flags...))
		})
	}
}
