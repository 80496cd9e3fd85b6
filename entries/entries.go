// Package entries implements the per-directory Entries Store (§4.C): a
// durable map from child name to Entry, plus a distinguished self-entry
// describing the directory itself.
//
// Grounded on libsvn_wc/entries.c's read/write-to-disk cycle, adapted to
// a structured on-disk encoding (this implementation's format choice,
// per §6: "format choices; only the semantics matter") using
// gopkg.in/yaml.v2, the serialisation library the teacher already
// depends on for its own config file.
package entries

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rcowham/svn-wc-core/wcerr"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Kind distinguishes what an Entry describes on disk.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindDir
)

// Schedule is the pending local operation recorded against an Entry.
type Schedule int

const (
	ScheduleNormal Schedule = iota
	ScheduleAdd
	ScheduleDelete
	ScheduleReplace
)

// SelfEntryName is the sentinel key for a directory's own Entry within
// its Entries-of-Directory map, matching SVN_WC_ENTRY_THIS_DIR.
const SelfEntryName = ""

// Entry records one versioned object - a file, a directory, or (at key
// SelfEntryName) the directory owning this map. Field set matches §3
// Data Model verbatim.
type Entry struct {
	Name     string   `yaml:"name"`
	Kind     Kind     `yaml:"kind"`
	Schedule Schedule `yaml:"schedule"`

	Revision int64  `yaml:"revision"` // -1 means "invalid"
	URL      string `yaml:"url"`

	CopiedFromURL      string `yaml:"copied_from_url,omitempty"`
	CopiedFromRevision int64  `yaml:"copied_from_revision,omitempty"`
	Copied             bool   `yaml:"copied,omitempty"`

	Checksum []byte `yaml:"checksum,omitempty"` // 16-byte MD5 digest

	TextTime int64 `yaml:"text_time,omitempty"` // unix nanos
	Size     int64 `yaml:"size,omitempty"`      // working file size as of TextTime, in bytes
	PropTime int64 `yaml:"prop_time,omitempty"`

	LockToken string `yaml:"lock_token,omitempty"`

	// ConflictText holds up to three artifact names (older, left, right);
	// ConflictProp holds one. Empty string means "no such artifact".
	ConflictText [3]string `yaml:"conflict_text,omitempty"`
	ConflictProp string    `yaml:"conflict_prop,omitempty"`

	Deleted    bool `yaml:"deleted,omitempty"`
	Absent     bool `yaml:"absent,omitempty"`
	Incomplete bool `yaml:"incomplete,omitempty"`
}

const invalidRevision int64 = -1

// NewEntry returns a normal-schedule Entry with an invalid revision,
// the starting state Modify fills in for a name not yet in the store.
func NewEntry(name string, kind Kind) Entry {
	return Entry{Name: name, Kind: kind, Schedule: ScheduleNormal, Revision: invalidRevision}
}

// Hidden reports whether an Entry is conventionally excluded from a
// Load that requests visible entries only - deleted or absent records
// kept around for bookkeeping, not presence.
func (e Entry) Hidden() bool { return e.Deleted || e.Absent }

// UnmodifiedSince reports whether a working file's on-disk state still
// matches this Entry's recorded TextTime/Size fingerprint, the cheap
// local-changes check performed before falling back to a full checksum
// comparison (§4.B local-changes detection): a size mismatch is
// conclusive on its own, and a modification time matching TextTime
// exactly means nothing has touched the file since it was last
// recorded as clean.
func (e Entry) UnmodifiedSince(diskSize, diskModTimeUnixNano int64) bool {
	return e.Size == diskSize && e.TextTime == diskModTimeUnixNano
}

// Field identifies one mutable attribute of an Entry for use in the
// bitset passed to Store.Modify, mirroring svn_wc_entry_t's
// SVN_WC__ENTRY_MODIFY_* flags.
type Field uint32

const (
	FieldSchedule Field = 1 << iota
	FieldRevision
	FieldURL
	FieldCopiedFrom
	FieldChecksum
	FieldTextTime
	FieldSize
	FieldPropTime
	FieldLockToken
	FieldConflict
	FieldDeleted
	FieldAbsent
	FieldIncomplete
)

// Store owns the Entries-of-Directory map for one administrative area
// directory, cached in memory once loaded. Modify and Sync require the
// caller to already hold the directory's write-lock (§5); Store itself
// does not acquire it - see adminarea.Area.
type Store struct {
	path string // file holding the serialised map
	log  *logrus.Entry

	mu      sync.Mutex
	loaded  bool
	entries map[string]Entry
	dirty   bool
}

// New returns a Store backed by path, the entries file within an
// administrative area. The file need not exist yet; Load then starts
// from a map holding only the self-entry (a freshly-formatted working
// directory).
func New(path string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{path: path, log: log}
}

type onDisk struct {
	Entries map[string]Entry `yaml:"entries"`
}

// Load reads the durable map into memory (idempotent: a second call
// returns the cached map without re-reading disk). includeHidden
// controls whether deleted/absent entries are included in the returned
// copy; the underlying cache always retains them.
func (s *Store) Load(includeHidden bool) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return nil, err
		}
	}
	return s.snapshotLocked(includeHidden), nil
}

func (s *Store) loadLocked() error {
	raw, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.entries = map[string]Entry{SelfEntryName: NewEntry(SelfEntryName, KindDir)}
		s.loaded = true
		return nil
	}
	if err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "read entries file "+s.path)
	}
	var doc onDisk
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "parse entries file "+s.path)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]Entry{}
	}
	if _, ok := doc.Entries[SelfEntryName]; !ok {
		return wcerr.Wrapf(wcerr.ErrNotWorkingCopy, wcerr.ErrNotWorkingCopy, "entries file %s has no self-entry", s.path)
	}
	s.entries = doc.Entries
	s.loaded = true
	return nil
}

func (s *Store) snapshotLocked(includeHidden bool) map[string]Entry {
	out := make(map[string]Entry, len(s.entries))
	for name, e := range s.entries {
		if !includeHidden && name != SelfEntryName && e.Hidden() {
			continue
		}
		out[name] = e
	}
	return out
}

// Get returns a single Entry by name, loading the store if needed.
func (s *Store) Get(name string) (Entry, bool, error) {
	all, err := s.Load(true)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := all[name]
	return e, ok, nil
}

// Modify applies the fields of patch named by which to the stored
// Entry for name (creating it if absent), leaving every other field at
// its prior value. Callers must hold the directory's write-lock.
func (s *Store) Modify(name string, patch Entry, which Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return err
		}
	}
	cur, existed := s.entries[name]
	if !existed {
		cur = NewEntry(name, patch.Kind)
	}
	applyField(&cur, patch, which)
	s.entries[name] = cur
	s.dirty = true
	s.log.WithFields(logrus.Fields{"name": name, "existed": existed}).Debug("entry modified")
	return nil
}

func applyField(cur *Entry, patch Entry, which Field) {
	if which&FieldSchedule != 0 {
		cur.Schedule = patch.Schedule
	}
	if which&FieldRevision != 0 {
		cur.Revision = patch.Revision
	}
	if which&FieldURL != 0 {
		cur.URL = patch.URL
	}
	if which&FieldCopiedFrom != 0 {
		cur.CopiedFromURL = patch.CopiedFromURL
		cur.CopiedFromRevision = patch.CopiedFromRevision
		cur.Copied = patch.Copied
	}
	if which&FieldChecksum != 0 {
		cur.Checksum = patch.Checksum
	}
	if which&FieldTextTime != 0 {
		cur.TextTime = patch.TextTime
	}
	if which&FieldSize != 0 {
		cur.Size = patch.Size
	}
	if which&FieldPropTime != 0 {
		cur.PropTime = patch.PropTime
	}
	if which&FieldLockToken != 0 {
		cur.LockToken = patch.LockToken
	}
	if which&FieldConflict != 0 {
		cur.ConflictText = patch.ConflictText
		cur.ConflictProp = patch.ConflictProp
	}
	if which&FieldDeleted != 0 {
		cur.Deleted = patch.Deleted
	}
	if which&FieldAbsent != 0 {
		cur.Absent = patch.Absent
	}
	if which&FieldIncomplete != 0 {
		cur.Incomplete = patch.Incomplete
	}
}

// Remove deletes name from the in-memory map entirely (as opposed to
// setting its Deleted flag), used when a parent entry's destruction
// cascades to its children (§3 Lifecycle).
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
	s.dirty = true
}

// Sync writes all pending modifications durably. A no-op if nothing is
// dirty. Callers must hold the directory's write-lock.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	out, err := yaml.Marshal(onDisk{Entries: s.entries})
	if err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "marshal entries")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "create entries directory")
	}
	tmp := s.path + ".tmp"
	if err := ioutil.WriteFile(tmp, out, 0644); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "write entries temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "commit entries file")
	}
	s.dirty = false
	return nil
}

// WalkFunc is invoked once per entry during Walk. Returning a non-nil
// error stops the walk and is returned from Walk.
type WalkFunc func(name string, e Entry) error

// Walk invokes fn once per entry (excluding the self-entry) in an order
// that is consistent within one call, per §4.C. includeHidden mirrors
// Load's flag.
func (s *Store) Walk(includeHidden bool, fn WalkFunc) error {
	all, err := s.Load(includeHidden)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		if name == SelfEntryName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := fn(name, all[name]); err != nil {
			return err
		}
	}
	return nil
}
