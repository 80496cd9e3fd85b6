package walog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplayInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(Record{Op: OpModifyEntry, Name: "foo.txt", Detail: FormatDetail("revision", "7")}))
	require.NoError(t, l.Append(Record{Op: OpCommitTextBase, Name: "foo.txt"}))
	require.NoError(t, l.Abandon())

	var got []Record
	err = Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, OpModifyEntry, got[0].Op)
	assert.Equal(t, "foo.txt", got[0].Name)
	assert.Equal(t, "revision=7", got[0].Detail)
	assert.Equal(t, OpCommitTextBase, got[1].Op)
}

func TestCompleteRemovesLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Record{Op: OpDeleteEntry, Name: "bar.txt"}))
	require.NoError(t, l.Complete())

	assert.False(t, Exists(path))
}

func TestReplayOfMissingLogIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written")
	n, err := ParseCount(path)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEscapingRoundTripsNewlinesAndBackslashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Record{Op: OpModifyEntry, Name: "weird\\name", Detail: "line1\nline2"}))
	require.NoError(t, l.Abandon())

	var got Record
	err = Replay(path, func(r Record) error {
		got = r
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "weird\\name", got.Name)
	assert.Equal(t, "line1\nline2", got.Detail)
}
