// Package report implements the Reporter Driver (§4.D): a depth-first
// walk of a working copy that emits a minimal set of set_path/
// link_path/delete_path calls against a caller-supplied Consumer,
// sufficient for that consumer to compute an edit bringing the working
// copy to a target revision.
//
// Grounded on the update-reporter algorithm described by the original
// source's ra_reporter (report_directory), restructured per §9 Design
// Notes: entries are a flat per-directory map (entries.Store), and
// parent/child relationships are threaded positionally through the
// recursion rather than via parent pointers stored on the Entry.
package report

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rcowham/svn-wc-core/dirtree"
	"github.com/rcowham/svn-wc-core/entries"
	"github.com/rcowham/svn-wc-core/subst"
	"github.com/rcowham/svn-wc-core/textbase"
	"github.com/rcowham/svn-wc-core/wcerr"
	"github.com/sirupsen/logrus"
)

// Consumer is the Reporter's external collaborator (§4.D Consumer
// contract). Implementations typically forward these calls across a
// network connection to drive a repository-side edit.
type Consumer interface {
	SetPath(relpath string, revision int64, startEmpty bool, lockToken string) error
	LinkPath(relpath, url string, revision int64, startEmpty bool, lockToken string) error
	DeletePath(relpath string) error
	FinishReport() error
	AbortReport() error
}

// DirectoryReader is the Reporter's view of the Entries Store for one
// directory - narrowed to what report_directory needs, so tests can
// supply an in-memory fake without an adminarea.Area.
type DirectoryReader interface {
	Load(includeHidden bool) (map[string]entries.Entry, error)
}

// DiskStat reports what is actually present at a working-copy relative
// path: whether anything exists, and whether it is a directory. Tests
// can stub this; production code backs it with os.Lstat.
type DiskStat func(relpath string) (exists bool, isDir bool, err error)

// OSDiskStat implements DiskStat against a real filesystem rooted at
// root.
func OSDiskStat(root string) DiskStat {
	return func(relpath string) (bool, bool, error) {
		info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(relpath)))
		if os.IsNotExist(err) {
			return false, false, nil
		}
		if err != nil {
			return false, false, wcerr.Wrap(err, wcerr.ErrIOError, "stat "+relpath)
		}
		return true, info.IsDir(), nil
	}
}

// DirectoryReaderFunc resolves the DirectoryReader for a given working-
// copy relative directory path, so the Reporter can recurse without
// needing to know how administrative areas are laid out on disk.
type DirectoryReaderFunc func(relpath string) (DirectoryReader, error)

// DirLister enumerates the on-disk child names of a working-copy
// relative directory, so the Reporter can classify the ones absent
// from the Entries Store as unversioned (§4.D). May be nil, in which
// case unversioned children are never recorded.
type DirLister func(relpath string) ([]string, error)

// Restorer copies a file's text-base through the Translator into
// materialised form at the given relpath and reports the text-time to
// record for "unmodified since restore" bookkeeping (§4.D
// Restoration). Production wiring composes textbase.Store.Read,
// subst.TranslateStream, and the local filesystem.
type Restorer func(relpath string, e entries.Entry) (textTimeUnixNano int64, err error)

// Reporter drives one report run over a working copy rooted at root,
// reading Entries via dirs and consulting disk state via stat.
type Reporter struct {
	dirs     DirectoryReaderFunc
	stat     DiskStat
	list     DirLister
	restore  Restorer
	consumer Consumer
	cancel   func() error // returns non-nil (wcerr.ErrCancelled) if cancelled
	log      *logrus.Entry

	traversal   *dirtree.TraversalInfo
	unversioned *dirtree.Node
}

// New returns a Reporter. cancel may be nil (never cancels); restore
// may be nil if the caller never needs restoration (e.g. a dry-run
// reporter over a read-only mirror).
func New(dirs DirectoryReaderFunc, stat DiskStat, restore Restorer, consumer Consumer, cancel func() error, log *logrus.Entry) *Reporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cancel == nil {
		cancel = func() error { return nil }
	}
	return &Reporter{
		dirs: dirs, stat: stat, restore: restore, consumer: consumer, cancel: cancel, log: log,
		traversal:   dirtree.NewTraversalInfo(),
		unversioned: dirtree.NewRoot(false),
	}
}

// WithDirLister attaches a DirLister so Run also records which on-disk
// children have no corresponding Entry, retrievable afterwards via
// UnversionedPaths. caseInsensitive should match the working copy's
// filesystem, the same flag dirtree.NewRoot takes.
func (r *Reporter) WithDirLister(list DirLister, caseInsensitive bool) *Reporter {
	r.list = list
	r.unversioned = dirtree.NewRoot(caseInsensitive)
	return r
}

// Traversal returns the externals traversal-info accumulated during
// Run, for a post-update pass to inspect (§4.D External references).
func (r *Reporter) Traversal() *dirtree.TraversalInfo { return r.traversal }

// UnversionedPaths returns every on-disk child path seen during Run
// that had no corresponding Entry, recorded only when a DirLister was
// attached via WithDirLister.
func (r *Reporter) UnversionedPaths() []string {
	return r.unversioned.AllPaths()
}

// Run executes the full algorithm in §4.D steps 1-4: read the root
// self-entry, emit the initial report, recurse, and finish or abort.
func (r *Reporter) Run(ctx context.Context, parentRevision int64) error {
	err := r.run(ctx, parentRevision)
	if err != nil {
		if abortErr := r.consumer.AbortReport(); abortErr != nil {
			return fmt.Errorf("%w (additionally, abort_report failed: %v)", err, abortErr)
		}
		return err
	}
	return r.consumer.FinishReport()
}

func (r *Reporter) run(ctx context.Context, parentRevision int64) error {
	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	rootDir, err := r.dirs("")
	if err != nil {
		return err
	}
	all, err := rootDir.Load(true)
	if err != nil {
		return err
	}
	root, ok := all[entries.SelfEntryName]
	if !ok {
		return wcerr.Wrapf(wcerr.ErrEntryNotFound, wcerr.ErrEntryNotFound, "no self-entry at working copy root")
	}

	if root.Schedule == entries.ScheduleAdd || root.Absent {
		if err := r.consumer.SetPath("", parentRevision, true, ""); err != nil {
			return err
		}
		return r.consumer.DeletePath("")
	}

	if err := r.consumer.SetPath("", root.Revision, root.Incomplete, root.LockToken); err != nil {
		return err
	}
	return r.reportDirectory(ctx, "", root.URL, root.Revision, root.Incomplete)
}

func (r *Reporter) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wcerr.Wrap(err, wcerr.ErrCancelled, "reporter cancelled")
	}
	if err := r.cancel(); err != nil {
		return wcerr.Wrap(err, wcerr.ErrCancelled, "reporter cancelled")
	}
	return nil
}

// reportDirectory implements report_directory(dir, parent-rev), over
// the directory at dirRelpath whose self-entry URL is dirURL.
// startEmpty is true when the caller already told the consumer to
// assume no children exist, meaning every surviving child (not just
// disjoint ones) must get an explicit report (§4.D final paragraph).
func (r *Reporter) reportDirectory(ctx context.Context, dirRelpath, dirURL string, parentRev int64, startEmpty bool) error {
	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	dirReader, err := r.dirs(dirRelpath)
	if err != nil {
		return err
	}
	children, err := dirReader.Load(true)
	if err != nil {
		return err
	}

	for name, e := range children {
		if name == entries.SelfEntryName {
			continue
		}
		if err := r.checkCancel(ctx); err != nil {
			return err
		}
		childRelpath := path.Join(dirRelpath, name)
		expectedURL := dirURL + "/" + encodeSegment(name)
		exists, isDir, statErr := r.stat(childRelpath)
		if statErr != nil {
			return statErr
		}
		if err := r.reportEntry(ctx, childRelpath, expectedURL, parentRev, startEmpty, e, exists, isDir); err != nil {
			return err
		}
	}
	return r.recordUnversioned(dirRelpath, children)
}

// recordUnversioned classifies every on-disk child of dirRelpath that
// has no corresponding Entry as unversioned (§4.D), a no-op unless a
// DirLister was attached via WithDirLister.
func (r *Reporter) recordUnversioned(dirRelpath string, children map[string]entries.Entry) error {
	if r.list == nil {
		return nil
	}
	names, err := r.list(dirRelpath)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, versioned := children[name]; versioned {
			continue
		}
		childRelpath := path.Join(dirRelpath, name)
		_, isDir, statErr := r.stat(childRelpath)
		if statErr != nil {
			return statErr
		}
		if isDir {
			r.unversioned.AddDir(childRelpath)
		} else {
			r.unversioned.AddFile(childRelpath)
		}
	}
	return nil
}

func (r *Reporter) reportEntry(ctx context.Context, relpath, expectedURL string, parentRev int64, startEmpty bool, e entries.Entry, diskExists, diskIsDir bool) error {
	switch {
	case e.Deleted || e.Absent:
		if !startEmpty {
			return r.consumer.DeletePath(relpath)
		}
		return nil

	case e.Schedule == entries.ScheduleAdd:
		return nil

	case e.Kind == entries.KindFile:
		return r.reportFile(relpath, expectedURL, parentRev, startEmpty, e, diskExists, diskIsDir)

	case e.Kind == entries.KindDir:
		return r.reportSubdir(ctx, relpath, expectedURL, parentRev, startEmpty, e, diskExists, diskIsDir)

	default:
		return nil
	}
}

func (r *Reporter) reportFile(relpath, expectedURL string, parentRev int64, startEmpty bool, e entries.Entry, diskExists, diskIsDir bool) error {
	if diskExists && diskIsDir {
		return r.consumer.DeletePath(relpath)
	}
	if !diskExists {
		if e.Schedule == entries.ScheduleDelete || e.Schedule == entries.ScheduleReplace {
			return nil
		}
		if r.restore != nil {
			textTime, err := r.restore(relpath, e)
			if err != nil {
				return err
			}
			e.TextTime = textTime
		}
	}

	if e.URL != "" && e.URL != expectedURL {
		return r.consumer.LinkPath(relpath, e.URL, e.Revision, false, e.LockToken)
	}
	if e.Revision != parentRev || e.LockToken != "" || startEmpty {
		return r.consumer.SetPath(relpath, e.Revision, false, e.LockToken)
	}
	return nil
}

func (r *Reporter) reportSubdir(ctx context.Context, relpath, expectedURL string, parentRev int64, startEmpty bool, e entries.Entry, diskExists, diskIsDir bool) error {
	if !diskExists {
		return r.consumer.DeletePath(relpath)
	}
	if !diskIsDir {
		return wcerr.Wrapf(wcerr.ErrObstructedUpdate, wcerr.ErrObstructedUpdate, "%s: expected directory, found file", relpath)
	}

	switch {
	case e.URL != "" && e.URL != expectedURL:
		if err := r.consumer.LinkPath(relpath, e.URL, e.Revision, e.Incomplete, e.LockToken); err != nil {
			return err
		}
		return r.reportDirectory(ctx, relpath, e.URL, e.Revision, e.Incomplete)

	case e.Revision != parentRev || e.LockToken != "" || e.Incomplete || startEmpty:
		if err := r.consumer.SetPath(relpath, e.Revision, e.Incomplete, e.LockToken); err != nil {
			return err
		}
		return r.reportDirectory(ctx, relpath, e.URL, e.Revision, e.Incomplete)

	default:
		return r.reportDirectory(ctx, relpath, e.URL, e.Revision, false)
	}
}

// RecordExternals stores the before/after raw svn:externals property
// value for the directory at absPath, keyed for a post-update pass
// (§4.D External references).
func (r *Reporter) RecordExternals(absPath, rawValue string, isAfter bool) {
	r.traversal.Record(absPath, rawValue, isAfter)
}

// encodeSegment percent-encodes a single path segment the way a
// canonical repository URL requires, matching the self-entry-URL-is-
// prefix-of-child-URL invariant in §3.
func encodeSegment(name string) string {
	const hex = "0123456789ABCDEF"
	needsEscape := func(c byte) bool {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			return false
		case c == '-' || c == '_' || c == '.' || c == '~':
			return false
		default:
			return true
		}
	}
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if needsEscape(c) {
			out = append(out, '%', hex[c>>4], hex[c&0xf])
		} else {
			out = append(out, c)
		}
	}
	return string(out)
}

// RestoreViaTextbase builds a Restorer backed by a textbase.Store and
// the EOL/keyword Translator, the composition described in §4.D
// Restoration: copy the text-base through subst.TranslateStream into
// materialised form, then set the working file's modification time to
// the entry's text-time (or to nowUnixNano() when the entry records none).
func RestoreViaTextbase(root string, store *textbase.Store, optsForEntry func(entries.Entry) subst.Options, nowUnixNano func() int64) Restorer {
	return func(relpath string, e entries.Entry) (int64, error) {
		name := path.Base(relpath)
		src, err := store.Read(name)
		if err != nil {
			return 0, err
		}
		defer src.Close()

		dstPath := filepath.Join(root, filepath.FromSlash(relpath))
		dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return 0, wcerr.Wrap(err, wcerr.ErrIOError, "create restored file "+relpath)
		}
		defer dst.Close()

		if err := subst.TranslateStream(src, dst, optsForEntry(e)); err != nil {
			return 0, err
		}
		textTime := e.TextTime
		if textTime == 0 {
			textTime = nowUnixNano()
		}
		modTime := time.Unix(0, textTime)
		if err := os.Chtimes(dstPath, modTime, modTime); err != nil {
			return 0, wcerr.Wrap(err, wcerr.ErrIOError, "set restored file mtime")
		}
		return textTime, nil
	}
}
