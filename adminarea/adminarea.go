// Package adminarea implements the administrative area (§6
// "Persisted state layout"): the per-directory bundle of the Entries
// Store, the Text-Base Store, a write-lock sentinel, and a temporary
// scratch subarea, all keyed off a single-byte format-version prefix.
//
// The write-lock is grounded on libsvn_wc/lock.c's svn_wc__lock: an
// exclusive filesystem create of a sentinel file, retried with a short
// sleep, that fails permanently once a fixed number of retries
// (lockRetries) is exhausted.
package adminarea

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rcowham/svn-wc-core/entries"
	"github.com/rcowham/svn-wc-core/textbase"
	"github.com/rcowham/svn-wc-core/walog"
	"github.com/rcowham/svn-wc-core/wcerr"
	"github.com/sirupsen/logrus"
)

// AdminDirName is the reserved subdirectory name of a versioned
// directory's administrative area, analogous to ".svn".
const AdminDirName = ".svnwc"

const (
	lockFileName    = "lock"
	formatFileName  = "format"
	entriesFileName = "entries"
	walFileName     = "wal"
	tmpSubdir       = "tmp"
)

// FormatVersion is the single-byte format version this implementation
// writes and the highest version it understands. Per §6, an unknown
// higher version must be refused; lower, recognised versions may be
// auto-upgraded.
const FormatVersion byte = 1

// lockRetries and lockRetryDelay bound how long Lock will spin against
// an already-locked administrative area before giving up, mirroring
// svn_wc__lock's wait-and-retry loop (the original's units are whole
// seconds of retry count; this keeps the same shape with a shorter
// sleep suited to a library rather than a CLI waiting on a human).
const (
	lockRetries    = 10
	lockRetryDelay = 50 * time.Millisecond
)

// Area is one versioned directory's administrative area: its Entries
// Store, Text-Base Store, and write-lock state.
type Area struct {
	dir      string // the versioned directory itself
	adminDir string // dir/AdminDirName
	log      *logrus.Entry

	Entries  *entries.Store
	Textbase *textbase.Store

	locked bool
	wal    *walog.Log
}

// Format creates a fresh administrative area under dir if none exists,
// writing the format-version byte and the text-base/tmp layout. Safe to
// call on an already-formatted directory (idempotent).
func Format(dir string, log *logrus.Entry) (*Area, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	adminDir := filepath.Join(dir, AdminDirName)
	if err := os.MkdirAll(adminDir, 0755); err != nil {
		return nil, wcerr.Wrap(err, wcerr.ErrIOError, "create administrative area "+adminDir)
	}
	if err := os.MkdirAll(filepath.Join(adminDir, tmpSubdir), 0755); err != nil {
		return nil, wcerr.Wrap(err, wcerr.ErrIOError, "create tmp scratch area")
	}
	if err := writeFormatIfAbsent(adminDir); err != nil {
		return nil, err
	}
	return open(dir, adminDir, log)
}

func writeFormatIfAbsent(adminDir string) error {
	path := filepath.Join(adminDir, formatFileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte{FormatVersion}, 0644); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "write format file "+path)
	}
	return nil
}

// Open attaches to an already-formatted administrative area under dir,
// checking the format-version byte and refusing anything newer than
// FormatVersion (§6).
func Open(dir string, log *logrus.Entry) (*Area, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	adminDir := filepath.Join(dir, AdminDirName)
	version, err := readFormat(adminDir)
	if err != nil {
		return nil, err
	}
	if version > FormatVersion {
		return nil, wcerr.Wrapf(wcerr.ErrNotWorkingCopy, wcerr.ErrNotWorkingCopy,
			"administrative area %s has format %d, newer than supported version %d", adminDir, version, FormatVersion)
	}
	if version < FormatVersion {
		if err := upgradeFormat(adminDir, version); err != nil {
			return nil, err
		}
	}
	return open(dir, adminDir, log)
}

func readFormat(adminDir string) (byte, error) {
	raw, err := os.ReadFile(filepath.Join(adminDir, formatFileName))
	if os.IsNotExist(err) {
		return 0, wcerr.Wrapf(wcerr.ErrNotWorkingCopy, wcerr.ErrNotWorkingCopy, "%s is not a working copy directory", adminDir)
	}
	if err != nil {
		return 0, wcerr.Wrap(err, wcerr.ErrIOError, "read format file")
	}
	if len(raw) != 1 {
		return 0, wcerr.Wrapf(wcerr.ErrNotWorkingCopy, wcerr.ErrNotWorkingCopy, "malformed format file in %s", adminDir)
	}
	return raw[0], nil
}

// upgradeFormat handles the (currently empty) set of known lower
// versions. There is only one format version defined so far; this is
// the hook future versions attach migrations to.
func upgradeFormat(adminDir string, from byte) error {
	return os.WriteFile(filepath.Join(adminDir, formatFileName), []byte{FormatVersion}, 0644)
}

func open(dir, adminDir string, log *logrus.Entry) (*Area, error) {
	a := &Area{
		dir:      dir,
		adminDir: adminDir,
		log:      log,
		Entries:  entries.New(filepath.Join(adminDir, entriesFileName), log),
		Textbase: textbase.New(adminDir, log),
	}
	if err := a.Textbase.EnsureLayout(); err != nil {
		return nil, err
	}
	// Replay only when no other process holds the write-lock: a live
	// holder's write-ahead log is still in flight, not abandoned, and
	// replaying it here would race the holder's own mutations.
	if _, err := os.Stat(filepath.Join(adminDir, lockFileName)); os.IsNotExist(err) {
		if err := a.replayWAL(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// replayWAL finishes an operation interrupted mid-flight by a crash
// (§5): a write-ahead log on disk with no lock held means Unlock ran
// without a preceding Complete, or the process died before either ran.
// The only record with a safe redo is a text-base commit - os.Rename
// is all-or-nothing, so re-running it on an already-committed name is
// a harmless no-op. Entry mutations are purely in-memory until
// entries.Store.Sync, so a crash before Sync leaves nothing durable to
// redo; such records are only logged.
func (a *Area) replayWAL() error {
	path := a.walPath()
	if !walog.Exists(path) {
		return nil
	}
	err := walog.Replay(path, func(r walog.Record) error {
		switch r.Op {
		case walog.OpCommitTextBase:
			if !a.Textbase.HasTemp(r.Name) {
				return nil
			}
			if err := a.Textbase.CommitTemp(r.Name); err != nil {
				return err
			}
			a.log.WithField("name", r.Name).Info("replayed interrupted text-base commit")
		default:
			a.log.WithFields(logrus.Fields{"op": r.Op, "name": r.Name}).Warn("write-ahead log records an unsynced entry mutation; discarding")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (a *Area) walPath() string { return filepath.Join(a.adminDir, walFileName) }

// Lock acquires the directory's write-lock via an exclusive create of
// the lock sentinel, retrying lockRetries times with lockRetryDelay
// between attempts before failing with ErrLocked. Locks are not
// reentrant (§5): calling Lock twice without an intervening Unlock
// collides with one's own sentinel and fails with ErrLocked once the
// retries are exhausted.
func (a *Area) Lock() error {
	path := a.lockPath()
	var lastErr error
	for attempt := 0; attempt <= lockRetries; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			wal, err := walog.Create(a.walPath())
			if err != nil {
				os.Remove(path)
				return err
			}
			a.wal = wal
			a.locked = true
			return nil
		}
		if !os.IsExist(err) {
			return wcerr.Wrap(err, wcerr.ErrIOError, "create lock sentinel "+path)
		}
		lastErr = err
		time.Sleep(lockRetryDelay)
	}
	return wcerr.Wrapf(wcerr.ErrLocked, wcerr.ErrLocked, "working copy directory %s: %v", a.dir, lastErr)
}

// Complete marks the current operation as cleanly finished: it syncs
// the Entries Store and marks the write-ahead log complete, removing
// it. Call it once every intended mutation has been applied; an Unlock
// without a preceding Complete instead abandons the log, leaving it
// for the next Open to replay (§5).
func (a *Area) Complete() error {
	if err := a.Entries.Sync(); err != nil {
		return err
	}
	if a.wal != nil {
		if err := a.wal.Complete(); err != nil {
			return err
		}
		a.wal = nil
	}
	return nil
}

// Unlock releases the write-lock. Not an error if already unlocked. If
// Complete was never called first, the write-ahead log is abandoned
// rather than removed, leaving it for the next Open to replay.
func (a *Area) Unlock() error {
	if !a.locked {
		return nil
	}
	if a.wal != nil {
		if err := a.wal.Abandon(); err != nil {
			return err
		}
		a.wal = nil
	}
	if err := os.Remove(a.lockPath()); err != nil && !os.IsNotExist(err) {
		return wcerr.Wrap(err, wcerr.ErrIOError, "remove lock sentinel")
	}
	a.locked = false
	return nil
}

// ModifyEntry applies patch to the Entry named name via Entries.Modify,
// first appending a write-ahead record (§5) so a crash before the next
// Complete can be recognised on the directory's next Open.
func (a *Area) ModifyEntry(name string, patch entries.Entry, which entries.Field) error {
	if a.wal != nil {
		if err := a.wal.Append(walog.Record{Op: walog.OpModifyEntry, Name: name, Detail: walog.FormatDetail("fields", strconv.FormatUint(uint64(which), 10))}); err != nil {
			return err
		}
	}
	return a.Entries.Modify(name, patch, which)
}

// RemoveEntry deletes the Entry named name via Entries.Remove, logging
// the removal to the write-ahead log first.
func (a *Area) RemoveEntry(name string) error {
	if a.wal != nil {
		if err := a.wal.Append(walog.Record{Op: walog.OpDeleteEntry, Name: name}); err != nil {
			return err
		}
	}
	a.Entries.Remove(name)
	return nil
}

// CommitTextBase commits the temporary text-base for name via
// Textbase.CommitTemp, first logging the rename to the write-ahead log:
// os.Rename is all-or-nothing, so replaying this record by running the
// rename again is always safe.
func (a *Area) CommitTextBase(name string) error {
	if a.wal != nil {
		if err := a.wal.Append(walog.Record{Op: walog.OpCommitTextBase, Name: name}); err != nil {
			return err
		}
	}
	return a.Textbase.CommitTemp(name)
}

// Locked reports whether this Area instance currently holds the
// write-lock.
func (a *Area) Locked() bool { return a.locked }

// StaleLock reports whether a lock sentinel exists on disk without this
// Area instance holding the lock - the situation a crashed process leaves
// behind, which original_source/lock.c does not itself resolve (the
// upstream tool left stale-lock cleanup to a separate "cleanup"
// command). CleanupStaleLock removes such a sentinel unconditionally;
// callers are responsible for confirming no other process is actually
// running first.
func (a *Area) StaleLock() bool {
	if a.locked {
		return false
	}
	_, err := os.Stat(a.lockPath())
	return err == nil
}

// CleanupStaleLock forcibly removes the lock sentinel regardless of
// which process created it. Intended for an explicit "cleanup"
// operation, never called implicitly by Lock.
func (a *Area) CleanupStaleLock() error {
	if err := os.Remove(a.lockPath()); err != nil && !os.IsNotExist(err) {
		return wcerr.Wrap(err, wcerr.ErrIOError, "remove stale lock sentinel")
	}
	return nil
}

func (a *Area) lockPath() string { return filepath.Join(a.adminDir, lockFileName) }

// TempPath returns a path within the scratch subarea suitable for a
// short-lived temporary file, e.g. a merge's intermediate output before
// it is copied into place.
func (a *Area) TempPath(name string) string {
	return filepath.Join(a.adminDir, tmpSubdir, name)
}

// Dir returns the versioned directory this Area administers.
func (a *Area) Dir() string { return a.dir }
