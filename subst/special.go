package subst

import (
	"bytes"
	"io"
	"os"

	"github.com/h2non/filetype"
	"github.com/rcowham/svn-wc-core/wcerr"
)

// specialLinkPrefix is the textual marker that must begin any special
// file's canonical representation, matching SVN_SUBST__SPECIAL_LINK_STR.
const specialLinkPrefix = "link "

// CanonicalizeSpecial reads the symlink at path and returns its canonical
// representation: the literal bytes "link <target>", no trailing
// newline. If the platform or filesystem entry does not support symlinks,
// callers should fall back to CopyLiteral.
func CanonicalizeSpecial(path string) ([]byte, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return nil, wcerr.Wrap(err, wcerr.ErrIOError, "read symlink target")
	}
	return []byte(specialLinkPrefix + target), nil
}

// MaterializeSpecial creates a symlink at dst pointing at the target
// encoded in the canonical special-file bytes. If the platform does not
// support symlinks, it falls back to writing the literal bytes as a
// regular file, matching svn_subst_copy_and_translate2's fallback to
// svn_io_copy_file on SVN_ERR_UNSUPPORTED_FEATURE.
func MaterializeSpecial(dst string, canonical []byte) error {
	target, ok := bytes.CutPrefix(canonical, []byte(specialLinkPrefix))
	if !ok {
		return wcerr.Wrapf(wcerr.ErrIOError, wcerr.ErrIOError, "unsupported special file type %q", firstToken(canonical))
	}
	if err := os.Symlink(string(target), dst); err != nil {
		return writeLiteralFallback(dst, canonical)
	}
	return nil
}

func writeLiteralFallback(dst string, canonical []byte) error {
	f, err := os.Create(dst)
	if err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "create special-file fallback")
	}
	defer f.Close()
	if _, err := f.Write(canonical); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "write special-file fallback")
	}
	return nil
}

func firstToken(b []byte) []byte {
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		return b[:i]
	}
	return b
}

// LooksBinary is an advisory heuristic (not a correctness gate): it warns
// callers who enable EOL/keyword translation on content that looks
// binary, mirroring the teacher's use of h2non/filetype to classify git
// blobs before deciding how to store them. Translation still proceeds if
// explicitly requested - this never blocks it.
func LooksBinary(r io.Reader) bool {
	head := make([]byte, 261)
	n, _ := io.ReadFull(r, head)
	if n == 0 {
		return false
	}
	head = head[:n]
	return filetype.IsImage(head) || filetype.IsVideo(head) ||
		filetype.IsArchive(head) || filetype.IsAudio(head)
}
