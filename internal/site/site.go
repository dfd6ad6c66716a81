// Package site runs the external static-site generator and prepares its output
// directory for publishing.
package site

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrBuildFailed is returned when the generator cannot be run or exits non-zero.
var ErrBuildFailed = errors.New("build failed")

// Options configures how the generator is invoked
type Options struct {
	// Command is the generator binary, e.g. "jekyll".
	Command string
	// Args precede the --config flag, e.g. ["build"].
	Args []string
	// ConfigSeparator joins the config file list into a single --config value.
	ConfigSeparator string
	// Output receives the generator's stdout and stderr. Nil discards it.
	Output io.Writer
}

// Builder invokes the static-site generator against a source tree
type Builder struct {
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a builder for the given generator options
func NewBuilder(opts Options, logger *slog.Logger) *Builder {
	if opts.ConfigSeparator == "" {
		opts.ConfigSeparator = ","
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{opts: opts, logger: logger}
}

// CommandArgs returns the argument list passed to the generator for configFiles.
// Later files override earlier ones according to the generator's own rules.
func (b *Builder) CommandArgs(configFiles []string) []string {
	args := append([]string(nil), b.opts.Args...)
	var files []string
	for _, f := range configFiles {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	if len(files) > 0 {
		args = append(args, "--config", strings.Join(files, b.opts.ConfigSeparator))
	}
	return args
}

// Build runs the generator with sourceRoot as its working directory.
func (b *Builder) Build(ctx context.Context, sourceRoot string, configFiles []string) error {
	if info, err := os.Stat(sourceRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: source root %s is not a directory", ErrBuildFailed, sourceRoot)
	}

	args := b.CommandArgs(configFiles)
	cmd := exec.CommandContext(ctx, b.opts.Command, args...)
	cmd.Dir = sourceRoot
	out := b.opts.Output
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out

	b.logger.Info("running site generator", "command", b.opts.Command, "args", args, "dir", sourceRoot)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBuildFailed, b.opts.Command, strings.Join(args, " "), err)
	}

	b.logger.Info("site build completed", "dir", sourceRoot)
	return nil
}

// VerifyOutput checks that the build produced siteOutputDir.
func VerifyOutput(siteOutputDir string) error {
	info, err := os.Stat(siteOutputDir)
	if err != nil {
		return fmt.Errorf("%w: output directory %s missing after build: %v", ErrBuildFailed, siteOutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: output path %s is not a directory", ErrBuildFailed, siteOutputDir)
	}
	return nil
}

// CopyMetadataFile copies sourceRoot/name into siteOutputDir, replacing any existing copy.
// It returns false without error when the source file does not exist.
func CopyMetadataFile(sourceRoot, siteOutputDir, name string) (bool, error) {
	src := filepath.Join(sourceRoot, name)
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", src)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.MkdirAll(siteOutputDir, 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", siteOutputDir, err)
	}
	dst := filepath.Join(siteOutputDir, name)
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write %s: %w", dst, err)
	}
	return true, nil
}
