package textbase

import (
	"crypto/md5"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rcowham/svn-wc-core/wcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(dir, nil)
	require.NoError(t, s.EnsureLayout())
	return s
}

func TestOpenCommitRead(t *testing.T) {
	s := newTestStore(t)
	w, err := s.OpenTemp("foo.txt")
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello canonical world\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, s.CommitTemp("foo.txt"))
	assert.True(t, s.Exists("foo.txt"))

	r, err := s.Read("foo.txt")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello canonical world\n", string(data))
}

func TestCommitTempLeavesNoStaleTemp(t *testing.T) {
	s := newTestStore(t)
	w, err := s.OpenTemp("foo.txt")
	require.NoError(t, err)
	io.WriteString(w, "content")
	require.NoError(t, w.Close())
	require.NoError(t, s.CommitTemp("foo.txt"))

	_, err = os.Stat(s.tempPath("foo.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDiscardTempDoesNotTouchCommitted(t *testing.T) {
	s := newTestStore(t)
	w, _ := s.OpenTemp("foo.txt")
	io.WriteString(w, "original")
	w.Close()
	require.NoError(t, s.CommitTemp("foo.txt"))

	w2, _ := s.OpenTemp("foo.txt")
	io.WriteString(w2, "in-flight update")
	w2.Close()
	require.NoError(t, s.DiscardTemp("foo.txt"))

	r, err := s.Read("foo.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "original", string(data))
}

func TestChecksumMatchesCommittedBytes(t *testing.T) {
	s := newTestStore(t)
	w, _ := s.OpenTemp("foo.txt")
	content := "checksum me please"
	io.WriteString(w, content)
	w.Close()
	require.NoError(t, s.CommitTemp("foo.txt"))

	want := md5.Sum([]byte(content))
	got, err := s.Checksum("foo.txt")
	require.NoError(t, err)
	assert.Equal(t, want[:], got)
}

func TestVerifyChecksumDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	w, _ := s.OpenTemp("foo.txt")
	io.WriteString(w, "original content")
	w.Close()
	require.NoError(t, s.CommitTemp("foo.txt"))

	staleDigest := md5.Sum([]byte("different content"))
	err := s.VerifyChecksum("foo.txt", staleDigest[:])
	require.Error(t, err)
	assert.ErrorIs(t, err, wcerr.ErrCorruptTextBase)
}

func TestDeleteRemovesCommittedAndTemp(t *testing.T) {
	s := newTestStore(t)
	w, _ := s.OpenTemp("foo.txt")
	io.WriteString(w, "x")
	w.Close()
	require.NoError(t, s.CommitTemp("foo.txt"))

	w2, _ := s.OpenTemp("foo.txt")
	io.WriteString(w2, "y")
	w2.Close()

	require.NoError(t, s.Delete("foo.txt"))
	assert.False(t, s.Exists("foo.txt"))
	_, err := os.Stat(s.tempPath("foo.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteOfMissingTextBaseIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete("never-existed.txt"))
}

func TestEnsureLayoutCreatesSubdirs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	require.NoError(t, s.EnsureLayout())
	assert.DirExists(t, filepath.Join(dir, textBaseDir))
	assert.DirExists(t, filepath.Join(dir, tmpDir))
}

func TestReadMissingTextBaseFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("nope.txt")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "nope.txt") || os.IsNotExist(err))
}

func TestVerifyManyReportsOnlyFailures(t *testing.T) {
	s := newTestStore(t)
	names := []string{"a.txt", "b.txt", "c.txt"}
	want := make(map[string][]byte)
	for _, name := range names {
		w, err := s.OpenTemp(name)
		require.NoError(t, err)
		io.WriteString(w, "content of "+name)
		require.NoError(t, w.Close())
		require.NoError(t, s.CommitTemp(name))
		digest := md5.Sum([]byte("content of " + name))
		want[name] = digest[:]
	}
	staleDigest := md5.Sum([]byte("tampered"))
	want["b.txt"] = staleDigest[:]

	failures := s.VerifyMany(want)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures["b.txt"], wcerr.ErrCorruptTextBase)
}

func TestVerifyManyOfEmptySetReportsNothing(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.VerifyMany(nil))
}
