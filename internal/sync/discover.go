package sync

import (
	"io/fs"
	"os"
	"path/filepath"
)

// skipDirs are never copied into the shared-content tree.
var skipDirs = map[string]bool{
	".git": true,
}

// discoverFiles walks dir and returns every regular file and every
// subdirectory below it. excluded is called with paths relative to
// sourceRoot; matching entries (and everything below excluded
// directories) are skipped. Symlinks to files are followed; symlinks to
// directories are skipped to avoid cycles. Entries below dir that cannot be
// read are returned in walkErrs and skipped; only a failure on dir itself
// is returned as err.
func discoverFiles(sourceRoot, dir string, excluded func(rel string, isDir bool) bool) (files, dirs []string, walkErrs []FileError, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			walkErrs = append(walkErrs, FileError{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(sourceRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skipDirs[d.Name()] || excluded(rel, true) {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		}

		if excluded(rel, false) {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			info, statErr := os.Stat(path)
			if statErr != nil || !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return files, dirs, walkErrs, nil
}
