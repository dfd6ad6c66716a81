package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// Options configures a sync engine
type Options struct {
	DryRun  bool
	Exclude []string // gitignore-style patterns, relative to the source root
}

// Engine copies shared-content items from a source tree into a destination tree.
// Copies merge into the destination: changed files are overwritten and files
// that only exist in the destination are left alone.
type Engine struct {
	logger  *slog.Logger
	dryRun  bool
	exclude *ignore.GitIgnore
}

// NewEngine creates a new sync engine
func NewEngine(logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger: logger,
		dryRun: opts.DryRun,
	}
	if len(opts.Exclude) > 0 {
		e.exclude = ignore.CompileIgnoreLines(opts.Exclude...)
	}
	return e
}

// Sync copies every item from sourceRoot into destRoot. A failing item is
// logged and recorded in the report; the remaining items are still processed.
func (e *Engine) Sync(ctx context.Context, sourceRoot, destRoot string, items []string) *Report {
	e.logger.Info("starting content sync",
		"source", sourceRoot,
		"dest", destRoot,
		"items", len(items),
		"dry_run", e.dryRun)

	report := &Report{Items: make([]ItemResult, 0, len(items))}
	for _, name := range items {
		var res ItemResult
		if err := ctx.Err(); err != nil {
			res = ItemResult{Name: name, Kind: KindUnknown, Err: err}
		} else {
			res = e.syncItem(sourceRoot, destRoot, name)
		}

		switch {
		case res.Err != nil:
			e.logger.Warn("failed to sync item", "item", name, "error", res.Err)
		case len(res.FileErrors) > 0:
			e.logger.Warn("item synced with errors",
				"item", name,
				"failed_files", len(res.FileErrors),
				"added", res.Added,
				"updated", res.Updated)
		default:
			e.logger.Info("item synced",
				"item", name,
				"kind", res.Kind,
				"added", res.Added,
				"updated", res.Updated,
				"unchanged", res.Unchanged)
		}
		report.Items = append(report.Items, res)
	}

	e.logger.Info("content sync finished",
		"copied", report.Copied(),
		"failed_items", len(report.Failed()))
	return report
}

// syncItem syncs one named directory or file
func (e *Engine) syncItem(sourceRoot, destRoot, name string) ItemResult {
	res := ItemResult{Name: name, Kind: KindUnknown}
	src := filepath.Join(sourceRoot, name)
	dst := filepath.Join(destRoot, name)

	info, err := os.Stat(src)
	if err != nil {
		res.Err = fmt.Errorf("source %s: %w", src, err)
		return res
	}

	var plan *Plan
	if info.IsDir() {
		res.Kind = KindDirectory
		plan, err = e.buildDirPlan(sourceRoot, src, dst)
	} else {
		res.Kind = KindFile
		plan, err = e.buildFilePlan(src, dst)
	}
	if err != nil {
		res.Err = err
		return res
	}

	res.Unchanged = plan.Unchanged
	res.FileErrors = plan.FileErrors

	if e.dryRun {
		e.logPlanDetails(plan)
		res.Added = len(plan.Add)
		res.Updated = len(plan.Update)
		return res
	}

	added, updated, fileErrs, err := e.applyPlan(plan)
	res.Added, res.Updated = added, updated
	res.FileErrors = append(res.FileErrors, fileErrs...)
	if err != nil {
		res.Err = err
	}
	return res
}

// buildDirPlan computes the copies needed to merge srcDir into destDir
func (e *Engine) buildDirPlan(sourceRoot, srcDir, destDir string) (*Plan, error) {
	plan := &Plan{Dirs: []string{destDir}}

	files, dirs, walkErrs, err := discoverFiles(sourceRoot, srcDir, e.excluded)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files in %s: %w", srcDir, err)
	}
	for _, we := range walkErrs {
		e.logger.Warn("failed to read source entry", "path", we.Path, "error", we.Err)
	}
	plan.FileErrors = append(plan.FileErrors, walkErrs...)

	for _, d := range dirs {
		rel, err := filepath.Rel(srcDir, d)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		plan.Dirs = append(plan.Dirs, filepath.Join(destDir, rel))
	}

	for _, srcPath := range files {
		rel, err := filepath.Rel(srcDir, srcPath)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		if err := e.classify(plan, srcPath, filepath.Join(destDir, rel)); err != nil {
			e.logger.Warn("failed to plan file", "source", srcPath, "error", err)
			plan.FileErrors = append(plan.FileErrors, FileError{Path: srcPath, Err: err})
		}
	}

	return plan, nil
}

// buildFilePlan computes the copy for a single-file item
func (e *Engine) buildFilePlan(src, dst string) (*Plan, error) {
	plan := &Plan{Dirs: []string{filepath.Dir(dst)}}
	if err := e.classify(plan, src, dst); err != nil {
		return nil, err
	}
	return plan, nil
}

// classify adds src->dst to the plan as an add, an update, or leaves it unchanged
func (e *Engine) classify(plan *Plan, src, dst string) error {
	dstInfo, err := os.Stat(dst)
	if errors.Is(err, os.ErrNotExist) {
		plan.Add = append(plan.Add, FileOp{SourcePath: src, DestPath: dst})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dst, err)
	}
	if dstInfo.IsDir() {
		return fmt.Errorf("destination %s is a directory", dst)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if srcInfo.Size() != dstInfo.Size() {
		plan.Update = append(plan.Update, FileOp{SourcePath: src, DestPath: dst})
		return nil
	}

	same, err := sameContent(src, dst)
	if err != nil {
		return fmt.Errorf("failed to compare %s: %w", src, err)
	}
	if same {
		plan.Unchanged++
		return nil
	}
	plan.Update = append(plan.Update, FileOp{SourcePath: src, DestPath: dst})
	return nil
}

func (e *Engine) excluded(rel string, isDir bool) bool {
	if e.exclude == nil {
		return false
	}
	if isDir && e.exclude.MatchesPath(rel+"/") {
		return true
	}
	return e.exclude.MatchesPath(rel)
}

// applyPlan executes the plan. File copy failures are collected and do not
// stop the remaining copies; failing to create the destination root does.
func (e *Engine) applyPlan(plan *Plan) (added, updated int, fileErrs []FileError, err error) {
	for i, dir := range plan.Dirs {
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			if i == 0 {
				return 0, 0, nil, fmt.Errorf("failed to create directory %s: %w", dir, mkErr)
			}
			fileErrs = append(fileErrs, FileError{Path: dir, Err: mkErr})
		}
	}

	for _, op := range plan.Add {
		e.logger.Debug("adding file", "dest", op.DestPath)
		if cpErr := e.copyFile(op.SourcePath, op.DestPath); cpErr != nil {
			e.logger.Warn("failed to copy file", "source", op.SourcePath, "dest", op.DestPath, "error", cpErr)
			fileErrs = append(fileErrs, FileError{Path: op.SourcePath, Err: cpErr})
			continue
		}
		added++
	}

	for _, op := range plan.Update {
		e.logger.Debug("updating file", "dest", op.DestPath)
		if cpErr := e.copyFile(op.SourcePath, op.DestPath); cpErr != nil {
			e.logger.Warn("failed to copy file", "source", op.SourcePath, "dest", op.DestPath, "error", cpErr)
			fileErrs = append(fileErrs, FileError{Path: op.SourcePath, Err: cpErr})
			continue
		}
		updated++
	}

	return added, updated, fileErrs, nil
}

// copyFile copies a file from src to dst with atomic write, keeping mode and mtime
func (e *Engine) copyFile(src, dst string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	// Open source
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".sitepush-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	// Copy content
	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Get source permissions
	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Set permissions on temp file
	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Close temp file
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, dst)
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, op := range plan.Add {
		e.logger.Info("[dry-run] would add", "dest", op.DestPath, "source", op.SourcePath)
	}
	for _, op := range plan.Update {
		e.logger.Info("[dry-run] would update", "dest", op.DestPath, "source", op.SourcePath)
	}
}

// sameContent compares two files by SHA256
func sameContent(a, b string) (bool, error) {
	ha, err := fileHash(a)
	if err != nil {
		return false, err
	}
	hb, err := fileHash(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ha, hb), nil
}

// fileHash computes the SHA256 hash of a file
func fileHash(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}
