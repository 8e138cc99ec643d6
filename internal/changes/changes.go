// Package changes detects which files an agent invocation touched.
//
// Backends that run as opaque subprocesses report nothing reliable about
// their edits, so the tracker snapshots the working tree before the run and
// diffs a second snapshot afterwards. Comparison uses modification time and
// size rather than content hashing; agents rewrite files wholesale, so the
// cheap signal is sufficient and keeps large trees fast.
package changes

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// defaultSkipDirs are directory names excluded from snapshots at any depth.
// They hold VCS metadata, dependency trees, tool caches, and backend
// scratch space that churn constantly without representing agent edits.
var defaultSkipDirs = map[string]struct{}{
	".git":          {},
	".agentloop":    {},
	".venv":         {},
	".mypy_cache":   {},
	".pytest_cache": {},
	".ruff_cache":   {},
	"__pycache__":   {},
	"node_modules":  {},
	".codex":        {},
	".claude":       {},
}

// defaultSkipFiles are file names excluded from snapshots.
var defaultSkipFiles = map[string]struct{}{
	".DS_Store": {},
}

// fileStat is the per-file fingerprint recorded in a snapshot.
type fileStat struct {
	mtimeNS int64
	size    int64
}

// Snapshot maps slash-separated paths relative to the tracker root to their
// fingerprints at capture time.
type Snapshot map[string]fileStat

// ChangeSet describes the difference between two snapshots. Each slice is
// sorted and holds slash-separated paths relative to the tracker root.
type ChangeSet struct {
	Changed []string `json:"changed"`
	Added   []string `json:"added"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether the change set records no differences.
func (c ChangeSet) Empty() bool {
	return len(c.Changed) == 0 && len(c.Added) == 0 && len(c.Deleted) == 0
}

// All returns the union of changed, added, and deleted paths, sorted.
func (c ChangeSet) All() []string {
	all := make([]string, 0, len(c.Changed)+len(c.Added)+len(c.Deleted))
	all = append(all, c.Changed...)
	all = append(all, c.Added...)
	all = append(all, c.Deleted...)
	sort.Strings(all)
	return all
}

// Tracker captures before/after snapshots of a working tree.
type Tracker struct {
	root     string
	skipDirs map[string]struct{}
	baseline Snapshot
}

// NewTracker returns a tracker rooted at dir. Additional directory names to
// exclude, such as a relocated state directory, may be passed alongside the
// defaults.
func NewTracker(dir string, extraSkipDirs ...string) *Tracker {
	skips := make(map[string]struct{}, len(defaultSkipDirs)+len(extraSkipDirs))
	for name := range defaultSkipDirs {
		skips[name] = struct{}{}
	}
	for _, name := range extraSkipDirs {
		if name != "" {
			skips[name] = struct{}{}
		}
	}
	return &Tracker{root: dir, skipDirs: skips}
}

// Begin captures the baseline snapshot. Calling Begin again replaces the
// previous baseline.
func (t *Tracker) Begin() error {
	snap, err := t.snapshot()
	if err != nil {
		return err
	}
	t.baseline = snap
	return nil
}

// Diff captures a fresh snapshot and compares it against the baseline.
// A Diff without a prior Begin treats every file as added.
func (t *Tracker) Diff() (ChangeSet, error) {
	current, err := t.snapshot()
	if err != nil {
		return ChangeSet{}, err
	}
	return diffSnapshots(t.baseline, current), nil
}

// snapshot walks the tree and fingerprints every regular file that survives
// the skip lists. Files that vanish mid-walk are ignored.
func (t *Tracker) snapshot() (Snapshot, error) {
	snap := Snapshot{}

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := t.skipDirs[d.Name()]; skip && path != t.root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, skip := defaultSkipFiles[d.Name()]; skip {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return nil
		}

		snap[filepath.ToSlash(rel)] = fileStat{
			mtimeNS: info.ModTime().UnixNano(),
			size:    info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// diffSnapshots computes the sorted change set between two snapshots.
func diffSnapshots(before, after Snapshot) ChangeSet {
	var set ChangeSet

	for path, stat := range after {
		prev, existed := before[path]
		switch {
		case !existed:
			set.Added = append(set.Added, path)
		case prev != stat:
			set.Changed = append(set.Changed, path)
		}
	}
	for path := range before {
		if _, exists := after[path]; !exists {
			set.Deleted = append(set.Deleted, path)
		}
	}

	sort.Strings(set.Changed)
	sort.Strings(set.Added)
	sort.Strings(set.Deleted)
	return set
}
