package report

import (
	"context"
	"errors"
	"testing"

	"github.com/rcowham/svn-wc-core/entries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDir is an in-memory DirectoryReader keyed by working-copy
// relative directory path, letting tests build a whole tree of
// entries.Entry maps without touching disk.
type fakeDir struct {
	entries map[string]entries.Entry
}

func (f *fakeDir) Load(includeHidden bool) (map[string]entries.Entry, error) {
	out := make(map[string]entries.Entry, len(f.entries))
	for name, e := range f.entries {
		if !includeHidden && name != entries.SelfEntryName && e.Hidden() {
			continue
		}
		out[name] = e
	}
	return out, nil
}

type recordingConsumer struct {
	setPaths  []setPathCall
	linkPaths []linkPathCall
	deletes   []string
	finished  bool
	aborted   bool
}

type setPathCall struct {
	Relpath    string
	Revision   int64
	StartEmpty bool
	LockToken  string
}

type linkPathCall struct {
	Relpath    string
	URL        string
	Revision   int64
	StartEmpty bool
	LockToken  string
}

func (c *recordingConsumer) SetPath(relpath string, revision int64, startEmpty bool, lockToken string) error {
	c.setPaths = append(c.setPaths, setPathCall{relpath, revision, startEmpty, lockToken})
	return nil
}

func (c *recordingConsumer) LinkPath(relpath, url string, revision int64, startEmpty bool, lockToken string) error {
	c.linkPaths = append(c.linkPaths, linkPathCall{relpath, url, revision, startEmpty, lockToken})
	return nil
}

func (c *recordingConsumer) DeletePath(relpath string) error {
	c.deletes = append(c.deletes, relpath)
	return nil
}

func (c *recordingConsumer) FinishReport() error { c.finished = true; return nil }
func (c *recordingConsumer) AbortReport() error  { c.aborted = true; return nil }

// Scenario 6: Reporter disjoint URL. Root /trunk has children A (same
// URL prefix) and B (switched to a branches URL).
func TestRun_ReporterDisjointURL(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Revision: 5, URL: "http://host/trunk"},
			"A":                   {Kind: entries.KindFile, Revision: 5, URL: "http://host/trunk/A"},
			"B":                   {Kind: entries.KindFile, Revision: 5, URL: "http://host/branches/foo"},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) { return true, false, nil },
		nil,
		consumer,
		nil,
		nil,
	)

	require.NoError(t, rep.Run(context.Background(), 5))

	require.Len(t, consumer.setPaths, 1)
	assert.Equal(t, setPathCall{"", 5, false, ""}, consumer.setPaths[0])
	require.Len(t, consumer.linkPaths, 1)
	assert.Equal(t, linkPathCall{"B", "http://host/branches/foo", 5, false, ""}, consumer.linkPaths[0])
	assert.Empty(t, consumer.deletes)
	assert.True(t, consumer.finished)
	assert.False(t, consumer.aborted)
}

func TestRun_RootScheduledAddEmitsSetThenDelete(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Schedule: entries.ScheduleAdd, Revision: -1},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) { return false, false, nil },
		nil, consumer, nil, nil,
	)
	require.NoError(t, rep.Run(context.Background(), 9))

	require.Len(t, consumer.setPaths, 1)
	assert.True(t, consumer.setPaths[0].StartEmpty)
	assert.Equal(t, []string{""}, consumer.deletes)
	assert.True(t, consumer.finished)
}

func TestRun_DeletedChildEmitsDeletePath(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk"},
			"gone.txt":             {Kind: entries.KindFile, Revision: 3, URL: "http://host/trunk/gone.txt", Deleted: true},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) { return false, false, nil },
		nil, consumer, nil, nil,
	)
	require.NoError(t, rep.Run(context.Background(), 3))
	assert.Equal(t, []string{"gone.txt"}, consumer.deletes)
}

func TestRun_ScheduleAddChildSkipped(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk"},
			"new.txt":              {Kind: entries.KindFile, Schedule: entries.ScheduleAdd, Revision: -1},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) { return true, false, nil },
		nil, consumer, nil, nil,
	)
	require.NoError(t, rep.Run(context.Background(), 3))
	assert.Empty(t, consumer.linkPaths)
	assert.Empty(t, consumer.deletes)
}

func TestRun_DirectoryObstructedByFileFails(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk"},
			"sub":                 {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk/sub"},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) {
			if relpath == "sub" {
				return true, false, nil // present but a file, not a directory
			}
			return true, true, nil
		},
		nil, consumer, nil, nil,
	)
	err := rep.Run(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, consumer.aborted)
}

func TestRun_FileObstructedByDirectoryEmitsDeletePath(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk"},
			"readme.txt":          {Kind: entries.KindFile, Revision: 3, URL: "http://host/trunk/readme.txt"},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) {
			if relpath == "readme.txt" {
				return true, true, nil // present but a directory, not a file
			}
			return true, true, nil
		},
		nil, consumer, nil, nil,
	)
	require.NoError(t, rep.Run(context.Background(), 3))
	assert.Equal(t, []string{"readme.txt"}, consumer.deletes)
	assert.Empty(t, consumer.setPaths[1:])
	assert.True(t, consumer.finished)
}

type abortingConsumer struct {
	recordingConsumer
	abortErr error
}

func (c *abortingConsumer) AbortReport() error {
	c.aborted = true
	return c.abortErr
}

func TestRun_AbortFailureIsChainedOntoOriginalError(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk"},
			"sub":                 {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk/sub"},
		}},
	}
	loadErr := errors.New("disk read failed")
	abortErr := errors.New("abort transport down")
	consumer := &abortingConsumer{abortErr: abortErr}
	rep := New(
		func(relpath string) (DirectoryReader, error) {
			if relpath == "sub" {
				return nil, loadErr
			}
			return dirs[relpath], nil
		},
		func(relpath string) (bool, bool, error) { return true, true, nil },
		nil, consumer, nil, nil,
	)

	err := rep.Run(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, loadErr)
	assert.Contains(t, err.Error(), abortErr.Error())
	assert.True(t, consumer.aborted)
}

func TestRun_WithDirListerRecordsUnversionedChildren(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Revision: 3, URL: "http://host/trunk"},
			"tracked.txt":         {Kind: entries.KindFile, Revision: 3, URL: "http://host/trunk/tracked.txt"},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) {
			switch relpath {
			case "scratch":
				return true, true, nil
			default:
				return true, false, nil
			}
		},
		nil, consumer, nil, nil,
	).WithDirLister(func(relpath string) ([]string, error) {
		if relpath == "" {
			return []string{"tracked.txt", "untracked.txt", "scratch"}, nil
		}
		return nil, nil
	}, false)

	require.NoError(t, rep.Run(context.Background(), 3))
	assert.ElementsMatch(t, []string{"untracked.txt", "scratch"}, rep.UnversionedPaths())
}

func TestRun_StartEmptyParentForcesReportOnEveryChild(t *testing.T) {
	dirs := map[string]*fakeDir{
		"": {entries: map[string]entries.Entry{
			entries.SelfEntryName: {Kind: entries.KindDir, Schedule: entries.ScheduleNormal, Revision: 5, URL: "http://host/trunk", Incomplete: true},
			"same.txt":             {Kind: entries.KindFile, Revision: 5, URL: "http://host/trunk/same.txt"},
		}},
	}
	consumer := &recordingConsumer{}
	rep := New(
		func(relpath string) (DirectoryReader, error) { return dirs[relpath], nil },
		func(relpath string) (bool, bool, error) { return true, false, nil },
		nil, consumer, nil, nil,
	)
	require.NoError(t, rep.Run(context.Background(), 5))

	require.Len(t, consumer.setPaths, 2) // root + same.txt, even though same.txt matches parent rev
	assert.Equal(t, "same.txt", consumer.setPaths[1].Relpath)
}
