package sync

// ItemKind tells whether a sync item names a directory or a single file
type ItemKind string

const (
	KindDirectory ItemKind = "directory"
	KindFile      ItemKind = "file"
	KindUnknown   ItemKind = "unknown"
)

// Plan represents the copy operations needed for one sync item
type Plan struct {
	Dirs      []string // destination directories to create
	Add       []FileOp
	Update    []FileOp
	Unchanged int
	// FileErrors holds entries that could not be planned; the rest of the item still syncs.
	FileErrors []FileError
}

// FileOp represents a file copy
type FileOp struct {
	SourcePath string // absolute path in the source tree
	DestPath   string // absolute path in the shared-content tree
}

// FileError records a single file that could not be copied
type FileError struct {
	Path string
	Err  error
}

// ItemResult is the outcome of syncing one item
type ItemResult struct {
	Name       string
	Kind       ItemKind
	Added      int
	Updated    int
	Unchanged  int
	Err        error       // item-level failure; nothing was copied
	FileErrors []FileError // per-file failures inside a directory item
}

// Failed reports whether the item, or any file within it, failed to copy.
func (r ItemResult) Failed() bool {
	return r.Err != nil || len(r.FileErrors) > 0
}

// Report collects the results of a sync run in item order
type Report struct {
	Items []ItemResult
}

// Failed returns the items that did not sync cleanly.
func (r *Report) Failed() []ItemResult {
	var failed []ItemResult
	for _, item := range r.Items {
		if item.Failed() {
			failed = append(failed, item)
		}
	}
	return failed
}

// Copied returns the number of files added or updated across all items.
func (r *Report) Copied() int {
	n := 0
	for _, item := range r.Items {
		n += item.Added + item.Updated
	}
	return n
}
