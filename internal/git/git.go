package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ErrPublishFailed is returned when staging, committing or pushing a repository fails.
var ErrPublishFailed = errors.New("publish failed")

// Outcome describes how a publish call finished
type Outcome string

const (
	// OutcomePushed means commits were pushed, either a new one or ones left
	// behind by an earlier failed push.
	OutcomePushed Outcome = "pushed"
	// OutcomeNothingToCommit means the working tree had no changes to stage.
	OutcomeNothingToCommit Outcome = "nothing-to-commit"
)

// Publisher commits and pushes all pending changes of a repository
type Publisher interface {
	// Publish stages everything in dir, commits it with message and pushes.
	Publish(ctx context.Context, dir, message string) (Outcome, error)
}

// PushTarget selects the remote and branch passed to git push.
// Empty fields fall back to the branch's configured upstream.
type PushTarget struct {
	Remote string
	Branch string
}

// ShellClient implements Publisher by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
	target         PushTarget
	logger         *slog.Logger
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string, target PushTarget, logger *slog.Logger) *ShellClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
		target:         target,
		logger:         logger,
	}
}

// Publish runs add, commit and push against dir, which may be a subdirectory
// of its repository; only paths under dir are staged and committed. A tree
// without staged changes is reported as OutcomeNothingToCommit. Commits left
// unpushed by an earlier run are still pushed in that case.
func (c *ShellClient) Publish(ctx context.Context, dir, message string) (Outcome, error) {
	if _, err := openRepository(dir); err != nil {
		return "", fmt.Errorf("%w: %s is not a git repository: %v", ErrPublishFailed, dir, err)
	}

	// Stage everything under dir, including deletions
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "add", "-A", ".")
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("%w: git add in %s: %v", ErrPublishFailed, dir, err)
	}

	staged, err := HasStagedChanges(dir)
	if err != nil {
		return "", fmt.Errorf("%w: inspect status of %s: %v", ErrPublishFailed, dir, err)
	}
	if !staged {
		ahead, err := AheadOfRemote(dir, c.remoteName(), c.target.Branch)
		if err != nil {
			return "", fmt.Errorf("%w: compare %s with its remote: %v", ErrPublishFailed, dir, err)
		}
		if !ahead {
			c.logger.Info("nothing to commit", "dir", dir)
			return OutcomeNothingToCommit, nil
		}
		c.logger.Info("nothing to commit, pushing pending commits", "dir", dir)
		if err := c.push(ctx, dir); err != nil {
			return "", err
		}
		return OutcomePushed, nil
	}

	cmd = exec.CommandContext(ctx, "git", "-C", dir, "commit", "-m", message, "--", ".")
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("%w: git commit in %s: %v", ErrPublishFailed, dir, err)
	}
	c.logger.Info("changes committed", "dir", dir)

	if err := c.push(ctx, dir); err != nil {
		return "", err
	}
	return OutcomePushed, nil
}

func (c *ShellClient) push(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", c.pushArgs(dir)...)
	if err := c.configureAuth(cmd, RemoteURL(dir, c.remoteName())); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("%w: git push in %s: %v", ErrPublishFailed, dir, err)
	}
	c.logger.Info("changes pushed", "dir", dir)
	return nil
}

func (c *ShellClient) pushArgs(dir string) []string {
	args := []string{"-C", dir, "push"}
	if c.target.Remote != "" {
		args = append(args, c.target.Remote)
		if c.target.Branch != "" {
			args = append(args, c.target.Branch)
		}
	}
	return args
}

func (c *ShellClient) remoteName() string {
	if c.target.Remote != "" {
		return c.target.Remote
	}
	return "origin"
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && isSSH(url) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		tokenStr := strings.TrimSpace(string(token))

		// Pass the token via environment variable and configure a git
		// credential helper that reads it.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "SITEPUSH_GIT_TOKEN="+tokenStr)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$SITEPUSH_GIT_TOKEN"; }; f`,
		)

		return nil
	}

	return nil
}

func isSSH(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "-C", "push").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with its output on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	c.logger.Debug("running command", "args", cmd.Args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
