// Package walog implements a per-directory write-ahead log of pending
// administrative-area mutations (§5 "Resource scoping": every
// temporary file and committed rename has a scoped lifetime, released
// or completed on every exit path including a crash).
//
// Adapted from the teacher's journal.Journal, which wrote an
// append-only sequence of "@pv@ ..."-delimited records describing
// Perforce metadata changes. The record-append shape survives -
// sequential, self-delimited text lines appended to one file and
// replayed in order - retargeted from depot-revision bookkeeping to
// working-copy bookkeeping: one record per in-flight entries.Modify or
// textbase.CommitTemp, replayed to finish or roll back an operation
// interrupted mid-flight. Unlike the teacher's Journal, failures are
// reported as errors rather than panics: this is a library, not a
// one-shot conversion tool, and a library must let its caller decide
// how to react to an I/O failure.
package walog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rcowham/svn-wc-core/wcerr"
)

// Op identifies which administrative-area mutation a Record describes.
type Op string

const (
	OpCommitTextBase Op = "commit-text-base"
	OpModifyEntry    Op = "modify-entry"
	OpDeleteEntry    Op = "delete-entry"
)

// Record is one logged mutation: Op acting on Name (an entry or
// text-base key), with an arbitrary detail string (e.g. the affected
// field names) for diagnostic replay logging.
type Record struct {
	Op     Op
	Name   string
	Detail string
}

const fieldSep = "\x1f" // ASCII unit separator, never legal in Name/Detail

// Log appends Records to a single on-disk file and can replay them
// back in order. One Log instance owns one administrative area's write-
// ahead file; the caller's write-lock (adminarea.Area.Lock) serialises
// access the same way it serialises entries.Store.Modify.
type Log struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// Create truncates (or creates) the write-ahead log file at path,
// ready to receive Append calls for a fresh operation.
func Create(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, wcerr.Wrap(err, wcerr.ErrIOError, "create write-ahead log "+path)
	}
	return &Log{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record and flushes it to the OS immediately -
// a log entry must be durable before the mutation it describes is
// allowed to proceed, or replay after a crash cannot tell what was in
// flight.
func (l *Log) Append(r Record) error {
	line := fmt.Sprintf("%s%s%s%s%s\n", r.Op, fieldSep, escape(r.Name), fieldSep, escape(r.Detail))
	if _, err := l.w.WriteString(line); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "append write-ahead record")
	}
	if err := l.w.Flush(); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "flush write-ahead log")
	}
	if err := l.f.Sync(); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "sync write-ahead log")
	}
	return nil
}

// Complete removes the write-ahead log once every logged mutation has
// been durably applied - the normal end of a successful operation.
func (l *Log) Complete() error {
	if err := l.f.Close(); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "close write-ahead log")
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return wcerr.Wrap(err, wcerr.ErrIOError, "remove completed write-ahead log")
	}
	return nil
}

// Abandon closes the log handle without removing the file, leaving it
// in place for a future Replay - used when an operation is cancelled
// (§5 Cancellation) rather than completed.
func (l *Log) Abandon() error {
	if err := l.f.Close(); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "close abandoned write-ahead log")
	}
	return nil
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\n", "\\n")
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == 'n' || s[i+1] == '\\') {
			if s[i+1] == 'n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte('\\')
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Replay reads every Record from path in append order, invoking fn for
// each. A missing file replays zero records (the common case: no crash
// occurred). Used on adminarea.Open to finish interrupted mutations
// before any new operation begins.
func Replay(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "open write-ahead log "+path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rec, err := parseLine(scanner.Text())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return wcerr.Wrap(err, wcerr.ErrIOError, "scan write-ahead log")
	}
	return nil
}

func parseLine(line string) (Record, error) {
	parts := strings.Split(line, fieldSep)
	if len(parts) != 3 {
		return Record{}, wcerr.Wrapf(wcerr.ErrIOError, wcerr.ErrIOError, "malformed write-ahead record: %q", line)
	}
	return Record{Op: Op(parts[0]), Name: unescape(parts[1]), Detail: unescape(parts[2])}, nil
}

// Exists reports whether a write-ahead log is present at path,
// indicating an interrupted prior operation that needs replay.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FormatDetail renders a small set of named fields into a Record's
// Detail string for diagnostics, e.g. FormatDetail("fields", "revision,url").
func FormatDetail(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(pairs[i+1])
	}
	return b.String()
}

// ParseCount replays the log at path once and returns how many records
// it holds (zero for a missing log).
func ParseCount(path string) (int, error) {
	n := 0
	err := Replay(path, func(Record) error {
		n++
		return nil
	})
	return n, err
}
