// Package textbase implements the per-directory text-base store (§4.B):
// for each versioned file, at most two blobs - the committed text-base
// (canonical form as of the last-known revision) and, transiently, a
// temporary text-base used while an update or commit is in flight.
//
// Grounded on libsvn_wc/adm_files.c's pristine-text handling and
// libsvn_subr/io.c's svn_io_file_rename, which is what gives
// commit_temp its atomicity: a rename within one filesystem either
// lands in full or not at all.
package textbase

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/alitto/pond"
	"github.com/rcowham/svn-wc-core/wcerr"
	"github.com/sirupsen/logrus"
)

const (
	textBaseDir = "text-base"
	tmpDir      = "tmp"
	tmpSuffix   = ".tmp"
	baseSuffix  = ".svn-base"
)

// Store owns the text-base blobs for a single administrative area
// directory. It does not itself enforce the write-lock described in
// §4.C/§5 - callers (adminarea) are responsible for holding it around
// open_temp/commit_temp/discard_temp/delete.
type Store struct {
	adminDir string
	log      *logrus.Entry
}

// New returns a Store rooted at adminDir, the ".svn"-style
// administrative directory of a single versioned directory. adminDir
// must already exist; New does not create it (see adminarea.Open).
func New(adminDir string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{adminDir: adminDir, log: log}
}

// EnsureLayout creates the text-base and tmp subdirectories if absent.
// Called each time an administrative area is formatted or opened.
func (s *Store) EnsureLayout() error {
	for _, d := range []string{s.textBaseRoot(), s.tmpRoot()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return wcerr.Wrap(err, wcerr.ErrIOError, "create text-base directory "+d)
		}
	}
	return nil
}

func (s *Store) textBaseRoot() string { return filepath.Join(s.adminDir, textBaseDir) }
func (s *Store) tmpRoot() string      { return filepath.Join(s.adminDir, tmpDir) }

func (s *Store) committedPath(name string) string {
	return filepath.Join(s.textBaseRoot(), name+baseSuffix)
}

func (s *Store) tempPath(name string) string {
	return filepath.Join(s.tmpRoot(), name+tmpSuffix)
}

// Read opens the committed text-base for name as a stream of canonical
// bytes. The caller must Close it.
func (s *Store) Read(name string) (io.ReadCloser, error) {
	f, err := os.Open(s.committedPath(name))
	if err != nil {
		return nil, wcerr.Wrap(err, wcerr.ErrIOError, "open text-base for "+name)
	}
	return f, nil
}

// OpenTemp returns a writable stream for a new temporary text-base for
// name. The caller writes the full canonical content, then either
// CommitTemp or DiscardTemp.
func (s *Store) OpenTemp(name string) (io.WriteCloser, error) {
	f, err := os.OpenFile(s.tempPath(name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, wcerr.Wrap(err, wcerr.ErrIOError, "open temporary text-base for "+name)
	}
	return f, nil
}

// CommitTemp atomically replaces the committed text-base for name with
// its temporary counterpart via rename-within-filesystem: a crash
// leaves either the old or the new content intact, never a truncation.
// The tmp and text-base subdirectories are siblings under the same
// administrative area, so they share a filesystem and os.Rename is
// atomic on POSIX platforms.
func (s *Store) CommitTemp(name string) error {
	tmp := s.tempPath(name)
	if _, err := os.Stat(tmp); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "stat temporary text-base for "+name)
	}
	if err := os.Rename(tmp, s.committedPath(name)); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "commit temporary text-base for "+name)
	}
	s.log.WithField("name", name).Debug("committed text-base")
	return nil
}

// HasTemp reports whether a temporary text-base is pending for name -
// used by replay to tell an in-flight commit (finish it) from one that
// never started (nothing to redo).
func (s *Store) HasTemp(name string) bool {
	_, err := os.Stat(s.tempPath(name))
	return err == nil
}

// DiscardTemp removes a temporary text-base without committing it. Not
// an error if it never existed - an aborted operation may call this
// defensively.
func (s *Store) DiscardTemp(name string) error {
	if err := os.Remove(s.tempPath(name)); err != nil && !os.IsNotExist(err) {
		return wcerr.Wrap(err, wcerr.ErrIOError, "discard temporary text-base for "+name)
	}
	return nil
}

// Checksum computes the MD5 digest of the committed text-base for
// name, matching the checksum invariant in §4.B: after CommitTemp, this
// must equal the digest recorded by the caller (typically an Entry's
// checksum field in the entries store).
func (s *Store) Checksum(name string) ([]byte, error) {
	f, err := s.Read(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, wcerr.Wrap(err, wcerr.ErrIOError, "digest text-base for "+name)
	}
	return h.Sum(nil), nil
}

// VerifyChecksum recomputes the digest of the committed text-base for
// name and compares it against want (typically an Entry's Checksum
// field, the raw 16-byte digest). A mismatch is fatal per §4.B: the caller
// must never transmit a delta against a text-base that fails this
// check.
func (s *Store) VerifyChecksum(name string, want []byte) error {
	got, err := s.Checksum(name)
	if err != nil {
		return err
	}
	if !md5Equal(got, want) {
		return wcerr.Wrapf(wcerr.ErrCorruptTextBase, wcerr.ErrCorruptTextBase,
			"text-base %s: expected digest %s, got %s", name, hex.EncodeToString(want), hex.EncodeToString(got))
	}
	return nil
}

func md5Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Delete removes both the committed and any temporary text-base for
// name. Used when a versioned file is removed from the working copy
// entirely.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.committedPath(name)); err != nil && !os.IsNotExist(err) {
		return wcerr.Wrap(err, wcerr.ErrIOError, "delete committed text-base for "+name)
	}
	return s.DiscardTemp(name)
}

// Exists reports whether a committed text-base is present for name.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.committedPath(name))
	return err == nil
}

// VerifyMany runs VerifyChecksum concurrently across want, a map of
// text-base name to expected digest, bounded to runtime.NumCPU()
// workers via a pond.WorkerPool - the same bounded-pool shape the
// teacher uses for concurrent blob compression, retargeted here from
// writing blobs to verifying them. Returns one error per name that
// failed, omitting names that verified clean.
func (s *Store) VerifyMany(want map[string][]byte) map[string]error {
	if len(want) == 0 {
		return nil
	}
	pool := pond.New(runtime.NumCPU(), 0, pond.MinWorkers(1))
	defer pool.StopAndWait()

	var mu sync.Mutex
	failures := make(map[string]error)
	for name, digest := range want {
		name, digest := name, digest
		pool.Submit(func() {
			if err := s.VerifyChecksum(name, digest); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		})
	}
	return failures
}
