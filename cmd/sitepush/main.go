package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/schaermu/sitepush/internal/config"
	"github.com/schaermu/sitepush/internal/git"
	"github.com/schaermu/sitepush/internal/metrics"
	"github.com/schaermu/sitepush/internal/pipeline"
	"github.com/schaermu/sitepush/internal/prompt"
	"github.com/schaermu/sitepush/internal/site"
	"github.com/schaermu/sitepush/internal/sync"
	"github.com/schaermu/sitepush/internal/watch"
)

// Exit codes
const (
	exitGeneral = 1
	exitConfig  = 7
	exitPublish = 8
	exitBuild   = 11
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile    string
	blogPath   string
	sharedPath string
	logLevel   string
	logFormat  string

	// Command flags
	message   string
	dryRun    bool
	skipBuild bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitepush",
	Short: "Publish a Jekyll blog and its shared content repositories",
	Long: `sitepush commits and pushes a blog source repository, optionally builds the
site with an external generator and publishes the generated output, then copies
shared layouts, includes and assets into a shared-content repository and
publishes that as well.

Paths are read from _paths_for_scripts.yml (searched in the working directory
and up to two parents) unless --config or --blog-path/--shared-path are given.`,
	SilenceUsage: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Run the full publish workflow",
	Long: `Publish commits and pushes the blog source, builds and publishes the site
(when enabled), syncs the shared content items and publishes the shared-content
repository. The same commit message is used for every repository.

A failing publish or build aborts the remaining steps. Shared items that fail
to copy are reported but do not fail the run.`,
	RunE: runPublish,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy shared content items without committing",
	RunE:  runSync,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the site, copy CNAME and publish the output directory",
	RunE:  runBuild,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-sync shared content whenever it changes",
	Long: `Watch performs an initial sync and then watches the configured shared items
in the blog source tree, re-running the sync after changes settle. Nothing is
committed or pushed.`,
	RunE: runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "sitepush %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is _paths_for_scripts.yml in . or up to two parents, or $SITEPUSH_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&blogPath, "blog-path", "", "blog source repository (requires --shared-path, skips the config file)")
	rootCmd.PersistentFlags().StringVar(&sharedPath, "shared-path", "", "shared content repository (requires --blog-path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	publishCmd.Flags().StringVarP(&message, "message", "m", "", "commit message (prompted for when empty)")
	publishCmd.Flags().BoolVar(&skipBuild, "skip-build", false, "skip building and publishing the site")
	publishCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be copied without writing")

	buildCmd.Flags().StringVarP(&message, "message", "m", "", "commit message (prompted for when empty)")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := runLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	msg, err := messageSource(cmd).Message(ctx)
	if err != nil {
		return err
	}

	runner := newRunner(cmd, cfg, logger, pipeline.Options{SkipBuild: skipBuild, DryRun: dryRun})
	res, err := runner.Run(ctx, msg)
	if err != nil {
		logger.Error("publish failed", "error", err)
		return err
	}
	reportFailures(logger, res.Sync)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := runLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runner := newRunner(cmd, cfg, logger, pipeline.Options{DryRun: dryRun})
	reportFailures(logger, runner.SyncContent(ctx))
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := runLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	msg, err := messageSource(cmd).Message(ctx)
	if err != nil {
		return err
	}

	if _, err := newRunner(cmd, cfg, logger, pipeline.Options{}).BuildSite(ctx, msg); err != nil {
		logger.Error("build failed", "error", err)
		return err
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := runLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	paths := cfg.PathSet()
	engine := sync.NewEngine(logger, sync.Options{Exclude: cfg.Sync.Exclude})
	w := watch.New(engine, watch.Options{
		SourceRoot: paths.SourceRoot,
		DestRoot:   paths.SharedContentRoot,
		Items:      cfg.Sync.Items,
		OnSync: func(report *sync.Report) {
			reportFailures(logger, report)
		},
	}, logger)
	return w.Run(ctx)
}

func newRunner(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, opts pipeline.Options) *pipeline.Runner {
	publisher := git.NewShellClient(
		cfg.Auth.SSHKeyFile,
		cfg.Auth.HTTPSTokenFile,
		git.PushTarget{Remote: cfg.Publish.Remote, Branch: cfg.Publish.Branch},
		logger)
	builder := site.NewBuilder(site.Options{
		Command:         cfg.Build.Command,
		Args:            cfg.Build.Args,
		ConfigSeparator: cfg.Build.ConfigSeparator,
		Output:          cmd.OutOrStdout(),
	}, logger)
	engine := sync.NewEngine(logger, sync.Options{DryRun: opts.DryRun, Exclude: cfg.Sync.Exclude})

	return pipeline.NewRunner(cfg, publisher, builder, engine, newRecorder(cfg), logger, opts)
}

func newRecorder(cfg *config.Config) metrics.Recorder {
	if cfg.Metrics.Textfile == "" {
		return metrics.NoopRecorder{}
	}
	return metrics.NewPrometheusRecorder(nil, cfg.Metrics.Textfile)
}

func messageSource(cmd *cobra.Command) prompt.MessageSource {
	if message != "" {
		return prompt.Static(message)
	}
	return prompt.NewReader(cmd.InOrStdin(), cmd.OutOrStdout())
}

func reportFailures(logger *slog.Logger, report *sync.Report) {
	if report == nil {
		return
	}
	for _, item := range report.Failed() {
		if item.Err != nil {
			logger.Warn("shared item not synced", "item", item.Name, "error", item.Err)
			continue
		}
		for _, fe := range item.FileErrors {
			logger.Warn("shared file not synced", "item", item.Name, "path", fe.Path, "error", fe.Err)
		}
	}
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrConfigNotFound), errors.Is(err, config.ErrConfigMalformed):
		return exitConfig
	case errors.Is(err, git.ErrPublishFailed):
		return exitPublish
	case errors.Is(err, site.ErrBuildFailed):
		return exitBuild
	default:
		return exitGeneral
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// runLogger tags every line of one invocation with a run id
func runLogger() *slog.Logger {
	return setupLogger().With("run_id", uuid.NewString())
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if blogPath != "" || sharedPath != "" {
		if blogPath == "" || sharedPath == "" {
			return nil, fmt.Errorf("%w: --blog-path and --shared-path must be given together", config.ErrConfigMalformed)
		}
		logger.Info("using paths from flags", "blog", blogPath, "shared", sharedPath)
		return config.FromPaths(blogPath, sharedPath)
	}

	configPath := cfgFile
	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		configPath, err = config.FindConfigFile(wd)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	paths := cfg.PathSet()
	logger.Debug("configuration loaded",
		"source", paths.SourceRoot,
		"shared", paths.SharedContentRoot,
		"site", paths.SiteOutputDir,
		"items", cfg.Sync.Items,
		"auth", cfg.AuthMethod())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
