// Package pipeline runs the publish workflow: publish the source tree, build and
// publish the generated site, sync shared content, then publish the shared
// content repository. Steps run strictly one after another.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/schaermu/sitepush/internal/config"
	"github.com/schaermu/sitepush/internal/git"
	"github.com/schaermu/sitepush/internal/metrics"
	"github.com/schaermu/sitepush/internal/prompt"
	"github.com/schaermu/sitepush/internal/site"
	"github.com/schaermu/sitepush/internal/sync"
)

// Step names used in logs and metrics.
const (
	StepPublishSource = "publish_source"
	StepBuild         = "build"
	StepPublishSite   = "publish_site"
	StepSync          = "sync"
	StepPublishShared = "publish_shared"
)

// Builder runs the external site generator.
type Builder interface {
	Build(ctx context.Context, sourceRoot string, configFiles []string) error
}

// Syncer copies shared items from one tree into another.
type Syncer interface {
	Sync(ctx context.Context, sourceRoot, destRoot string, items []string) *sync.Report
}

// Options tunes a single run
type Options struct {
	// SkipBuild skips the generator and the site publish even if enabled in config.
	SkipBuild bool
	// DryRun skips every git and build step. The syncer is expected to be in
	// dry-run mode as well.
	DryRun bool
}

// Result summarizes a completed (or aborted) run.
type Result struct {
	Source      git.Outcome
	Site        git.Outcome
	Shared      git.Outcome
	Built       bool
	CNAMECopied bool
	Sync        *sync.Report
}

// Runner wires the workflow components together
type Runner struct {
	cfg       *config.Config
	paths     config.PathSet
	publisher git.Publisher
	builder   Builder
	syncer    Syncer
	recorder  metrics.Recorder
	logger    *slog.Logger
	opts      Options
}

// NewRunner creates a workflow runner. A nil recorder disables metrics.
func NewRunner(cfg *config.Config, publisher git.Publisher, builder Builder, syncer Syncer, recorder metrics.Recorder, logger *slog.Logger, opts Options) *Runner {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg,
		paths:     cfg.PathSet(),
		publisher: publisher,
		builder:   builder,
		syncer:    syncer,
		recorder:  recorder,
		logger:    logger,
		opts:      opts,
	}
}

// Run executes the full workflow. Publish and build failures abort the
// remaining steps; shared items that fail to sync are reported in the result
// and do not cause an error.
func (r *Runner) Run(ctx context.Context, message string) (*Result, error) {
	message, err := checkMessage(message)
	if err != nil {
		return nil, err
	}
	defer r.finish()

	r.logger.Info("starting publish workflow",
		"source", r.paths.SourceRoot,
		"shared", r.paths.SharedContentRoot,
		"build", r.cfg.BuildEnabled() && !r.opts.SkipBuild,
		"dry_run", r.opts.DryRun)

	res := &Result{}

	if res.Source, err = r.publish(ctx, StepPublishSource, r.paths.SourceRoot, message); err != nil {
		return res, err
	}

	if r.cfg.BuildEnabled() && !r.opts.SkipBuild {
		if err := r.buildAndPublishSite(ctx, message, res); err != nil {
			return res, err
		}
	} else {
		r.recorder.IncStepResult(StepBuild, metrics.ResultSkipped)
	}

	res.Sync = r.sync(ctx)

	if res.Shared, err = r.publish(ctx, StepPublishShared, r.paths.SharedContentRoot, message); err != nil {
		return res, err
	}

	r.logger.Info("publish workflow finished",
		"source", res.Source,
		"site", res.Site,
		"shared", res.Shared,
		"failed_items", len(res.Sync.Failed()))
	return res, nil
}

// BuildSite runs only the build, metadata copy and site publish steps.
func (r *Runner) BuildSite(ctx context.Context, message string) (*Result, error) {
	message, err := checkMessage(message)
	if err != nil {
		return nil, err
	}
	defer r.finish()

	res := &Result{}
	if err := r.buildAndPublishSite(ctx, message, res); err != nil {
		return res, err
	}
	return res, nil
}

// SyncContent runs only the shared content sync. Nothing is committed.
func (r *Runner) SyncContent(ctx context.Context) *sync.Report {
	defer r.finish()
	return r.sync(ctx)
}

func (r *Runner) buildAndPublishSite(ctx context.Context, message string, res *Result) error {
	err := r.step(StepBuild, func() (metrics.ResultLabel, error) {
		if r.opts.DryRun {
			r.logger.Info("[dry-run] would build site",
				"command", r.cfg.Build.Command,
				"config_files", r.cfg.Build.ConfigFiles)
			return metrics.ResultSkipped, nil
		}

		r.logger.Info("building site", "command", r.cfg.Build.Command, "source", r.paths.SourceRoot)
		if err := r.builder.Build(ctx, r.paths.SourceRoot, r.cfg.Build.ConfigFiles); err != nil {
			return metrics.ResultFailed, err
		}
		if err := site.VerifyOutput(r.paths.SiteOutputDir); err != nil {
			return metrics.ResultFailed, err
		}
		res.Built = true

		if name := r.cfg.Build.CNAMEFile; name != "" {
			copied, err := site.CopyMetadataFile(r.paths.SourceRoot, r.paths.SiteOutputDir, name)
			if err != nil {
				return metrics.ResultFailed, fmt.Errorf("%w: %w", site.ErrBuildFailed, err)
			}
			res.CNAMECopied = copied
			if !copied {
				r.logger.Info("no metadata file to copy", "file", name)
			}
		}
		return metrics.ResultSuccess, nil
	})
	if err != nil {
		return err
	}

	if !r.cfg.PublishSite() {
		r.recorder.IncStepResult(StepPublishSite, metrics.ResultSkipped)
		return nil
	}
	res.Site, err = r.publish(ctx, StepPublishSite, r.paths.SiteOutputDir, message)
	return err
}

func (r *Runner) publish(ctx context.Context, step, dir, message string) (git.Outcome, error) {
	var outcome git.Outcome
	err := r.step(step, func() (metrics.ResultLabel, error) {
		if r.opts.DryRun {
			r.logger.Info("[dry-run] would publish", "step", step, "dir", dir)
			return metrics.ResultSkipped, nil
		}
		r.logger.Info("publishing repository", "step", step, "dir", dir)
		var err error
		outcome, err = r.publisher.Publish(ctx, dir, message)
		if err != nil {
			return metrics.ResultFailed, fmt.Errorf("%s: %w", step, err)
		}
		return metrics.ResultSuccess, nil
	})
	return outcome, err
}

func (r *Runner) sync(ctx context.Context) *sync.Report {
	var report *sync.Report
	_ = r.step(StepSync, func() (metrics.ResultLabel, error) {
		report = r.syncer.Sync(ctx, r.paths.SourceRoot, r.paths.SharedContentRoot, r.cfg.Sync.Items)

		for _, item := range report.Items {
			r.recorder.AddSyncedFiles("added", item.Added)
			r.recorder.AddSyncedFiles("updated", item.Updated)
		}
		failed := report.Failed()
		for _, item := range failed {
			r.recorder.IncSyncItemFailure(item.Name)
		}
		if len(failed) > 0 {
			return metrics.ResultWarning, nil
		}
		return metrics.ResultSuccess, nil
	})
	return report
}

// step times fn and records its result
func (r *Runner) step(name string, fn func() (metrics.ResultLabel, error)) error {
	start := time.Now()
	result, err := fn()
	r.recorder.ObserveStepDuration(name, time.Since(start))
	r.recorder.IncStepResult(name, result)
	if err != nil {
		r.logger.Error("step failed", "step", name, "error", err)
	}
	return err
}

func (r *Runner) finish() {
	r.recorder.SetLastRun(time.Now())
	if err := r.recorder.Flush(); err != nil {
		r.logger.Warn("failed to write metrics", "error", err)
	}
}

func checkMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", prompt.ErrEmptyMessage
	}
	return message, nil
}
