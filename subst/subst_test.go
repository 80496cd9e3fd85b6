package subst

import (
	"bytes"
	"io"
	"testing"

	"github.com/rcowham/svn-wc-core/wcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values() Values {
	return BuildValues("foo.txt", "42", "2026-07-30 10:00:00 +0000", "jrandom", "http://example.com/repos/foo.txt")
}

func TestTranslateStream_EOLOnly(t *testing.T) {
	src := "one\ntwo\nthree\n"
	out, err := TranslateBytes([]byte(src), Options{EOLBytes: []byte("\r\n")})
	require.NoError(t, err)
	assert.Equal(t, "one\r\ntwo\r\nthree\r\n", string(out))
}

func TestTranslateStream_InconsistentEOLRejected(t *testing.T) {
	src := "one\ntwo\r\nthree\n"
	_, err := TranslateBytes([]byte(src), Options{EOLBytes: []byte("\n")})
	require.Error(t, err)
	assert.ErrorIs(t, err, wcerr.ErrInconsistentEOL)
}

func TestTranslateStream_RepairToleratesMixedEOL(t *testing.T) {
	src := "one\ntwo\r\nthree\n"
	out, err := TranslateBytes([]byte(src), Options{EOLBytes: []byte("\n"), Repair: true})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(out))
}

func TestTranslateStream_KeywordUnexpandedToExpanded(t *testing.T) {
	src := "rev is $Rev$ and $LastChangedBy$\n"
	out, err := TranslateBytes([]byte(src), Options{
		Keywords: ParseKeywordSet("Rev Author"),
		Values:   values(),
		Expand:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "rev is $LastChangedRevision: 42 $ and $LastChangedBy: jrandom $\n", string(out))
}

func TestTranslateStream_KeywordExpandedToContracted(t *testing.T) {
	src := "rev is $LastChangedRevision: 42 $\n"
	out, err := TranslateBytes([]byte(src), Options{
		Keywords: ParseKeywordSet("Revision"),
		Values:   values(),
		Expand:   false,
	})
	require.NoError(t, err)
	assert.Equal(t, "rev is $LastChangedRevision$\n", string(out))
}

func TestTranslateStream_KeywordFixedWidthPreservesWidth(t *testing.T) {
	src := "$Id:: " + spaces(20) + "$\n"
	out, err := TranslateBytes([]byte(src), Options{
		Keywords: ParseKeywordSet("Id"),
		Values:   values(),
		Expand:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, len(src), len(out))
}

func TestTranslateStream_KeywordFixedWidthTruncatesWithMarker(t *testing.T) {
	src := "$Author:: " + spaces(4) + "$\n"
	out, err := TranslateBytes([]byte(src), Options{
		Keywords: ParseKeywordSet("Author"),
		Values:   values(),
		Expand:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, len(src), len(out))
	assert.Contains(t, string(out), "#$")
}

func TestTranslateStream_MaterializeThenCanonicalizeRoundTrips(t *testing.T) {
	original := "Id is $Id$\nsee $HeadURL$\n"
	kws := ParseKeywordSet("Id URL")

	materialised, err := TranslateBytes([]byte(original), Options{
		Keywords: kws, Values: values(), Expand: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, original, string(materialised))

	canonicalised, err := TranslateBytes(materialised, Options{
		Keywords: kws, Values: values(), Expand: false,
	})
	require.NoError(t, err)
	assert.Equal(t, original, string(canonicalised))
}

func TestTranslateStream_NoTranslationRequestedCopiesVerbatim(t *testing.T) {
	src := "binary\x00ish\r\ncontent\n$Id$"
	out, err := TranslateBytes([]byte(src), Options{})
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
}

func TestTranslateStream_UnrecognisedDollarPassesThrough(t *testing.T) {
	src := "price: $5.00, cost $3.00\n"
	out, err := TranslateBytes([]byte(src), Options{
		Keywords: ParseKeywordSet("Revision"),
		Values:   values(),
		Expand:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
}

func TestTranslateStream_ChunkBoundarySplitsKeyword(t *testing.T) {
	src := "abc $LastChangedRevision$ def"
	var out bytes.Buffer
	r := &byteAtATimeReader{data: []byte(src)}
	err := TranslateStream(r, &out, Options{
		Keywords: ParseKeywordSet("Revision"),
		Values:   values(),
		Expand:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc $LastChangedRevision: 42 $ def", out.String())
}

func TestTranslateStream_ChunkBoundarySplitsCRLF(t *testing.T) {
	src := "one\r\ntwo\r\n"
	r := &byteAtATimeReader{data: []byte(src)}

	var buf bytes.Buffer
	err := TranslateStream(r, &buf, Options{EOLBytes: []byte("\n")})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", buf.String())
}

// byteAtATimeReader forces TranslateStream's chunked reader to see one
// byte per Read call, exercising the keywordBuf/newlineBuf carry-over
// logic across chunk boundaries.
type byteAtATimeReader struct {
	data []byte
	pos  int
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}
