// Package subst implements the EOL/keyword translator (§4.A): the byte
// stream filter between a file's canonical repository form (LF-only line
// endings, contracted keywords) and its materialised working form (native
// line endings, expanded keywords). It is grounded on
// libsvn_subr/subst.c's svn_subst_translate_stream.
package subst

import (
	"bytes"
	"io"
	"runtime"

	"github.com/rcowham/svn-wc-core/wcerr"
	"github.com/sirupsen/logrus"
)

// EOLStyle selects how line terminators are rewritten.
type EOLStyle int

const (
	EOLNone EOLStyle = iota
	EOLFixedLF
	EOLFixedCR
	EOLFixedCRLF
	EOLNative
)

// NativeEOL is the platform's canonical terminator, substituted for
// EOLNative. Runtime GOOS selects it the way APR_EOL_STR does at compile
// time in the original.
func NativeEOL() []byte {
	if runtime.GOOS == "windows" {
		return []byte("\r\n")
	}
	return []byte("\n")
}

// EOLStyleFromValue parses an svn:eol-style property value, mirroring
// svn_subst_eol_style_from_value.
func EOLStyleFromValue(value string) (style EOLStyle, eol []byte, ok bool) {
	switch value {
	case "":
		return EOLNone, nil, true
	case "native":
		return EOLNative, NativeEOL(), true
	case "LF":
		return EOLFixedLF, []byte("\n"), true
	case "CR":
		return EOLFixedCR, []byte("\r"), true
	case "CRLF":
		return EOLFixedCRLF, []byte("\r\n"), true
	default:
		return EOLNone, nil, false
	}
}

// MaxKeywordLen bounds a recognised keyword occurrence, including its
// delimiting '$' characters. Anything longer is passed through verbatim.
const MaxKeywordLen = 255

const chunkSize = 4096

// Options configures one direction of translation. Expand=true is
// "materialise" (repository form -> working form); Expand=false is
// "canonicalise" (working form -> repository form).
type Options struct {
	EOLBytes []byte // nil disables EOL translation
	Repair   bool
	Keywords map[Keyword]bool
	Values   Values
	Expand   bool
	Logger   *logrus.Logger
}

func (o Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// enabledValue returns the value to substitute for k if k is enabled,
// and whether k is enabled at all. Contraction (Expand=false) always
// substitutes an empty "unexpand" regardless of Values.
func (o Options) enabledValue(k Keyword) (string, bool) {
	if !o.Keywords[k] {
		return "", false
	}
	if !o.Expand {
		return "", true
	}
	return o.Values.forKeyword(k), true
}

// translator carries the small amount of state that must survive across
// chunk boundaries: a partial keyword candidate, a partial CRLF pair, and
// the first EOL sequence seen (for consistency checking in non-repair
// mode).
type translator struct {
	opts       Options
	keywordBuf []byte
	newlineBuf []byte
	srcFormat  []byte
}

// TranslateStream copies src to dst, translating EOLs and/or keywords
// according to opts. When neither opts.EOLBytes nor opts.Keywords is set,
// src is copied to dst unchanged.
func TranslateStream(src io.Reader, dst io.Writer, opts Options) error {
	if opts.EOLBytes == nil && len(opts.Keywords) == 0 {
		if _, err := io.Copy(dst, src); err != nil {
			return wcerr.Wrap(err, wcerr.ErrIOError, "copy without translation")
		}
		return nil
	}
	t := &translator{opts: opts}
	buf := make([]byte, chunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := t.processChunk(buf[:n], dst); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return wcerr.Wrap(rerr, wcerr.ErrIOError, "read source stream")
		}
	}
	return t.flush(dst)
}

// TranslateBytes is the in-memory convenience form, grounded on
// svn_subst_translate_cstring.
func TranslateBytes(src []byte, opts Options) ([]byte, error) {
	var out bytes.Buffer
	if err := TranslateStream(bytes.NewReader(src), &out, opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (t *translator) flush(dst io.Writer) error {
	if len(t.newlineBuf) > 0 {
		if err := t.emitNewline(dst); err != nil {
			return err
		}
	}
	if len(t.keywordBuf) > 0 {
		if _, err := dst.Write(t.keywordBuf); err != nil {
			return wcerr.Wrap(err, wcerr.ErrIOError, "flush keyword buffer")
		}
		t.keywordBuf = nil
	}
	return nil
}

// processChunk scans p for the "interesting" bytes ('$', '\r', '\n'),
// copying runs of boring bytes straight through and routing interesting
// ones to the keyword/newline sub-state-machines. This never buffers more
// than a residual keyword candidate or a CR plus a following LF.
func (t *translator) processChunk(p []byte, dst io.Writer) error {
	keywordsOn := len(t.opts.Keywords) > 0
	i := 0
	for i < len(p) {
		// Resolve any pending newline state first - a lone '\r' from a
		// previous chunk might be immediately followed by '\n' here.
		if len(t.newlineBuf) > 0 {
			if p[i] == '\n' {
				t.newlineBuf = append(t.newlineBuf, p[i])
				i++
			}
			if err := t.emitNewline(dst); err != nil {
				return err
			}
			continue
		}
		if keywordsOn && len(t.keywordBuf) > 0 {
			switch {
			case p[i] == '$':
				t.keywordBuf = append(t.keywordBuf, '$')
				i++
				if ok, err := t.emitKeyword(dst); err != nil {
					return err
				} else if !ok {
					// Treat this '$' as the start of a fresh candidate:
					// the old buffer (minus the closing '$' we just
					// appended) was not a real keyword.
					leftover := t.keywordBuf[:len(t.keywordBuf)-1]
					if _, err := dst.Write(leftover); err != nil {
						return wcerr.Wrap(err, wcerr.ErrIOError, "write keyword-buffer literal")
					}
					t.keywordBuf = []byte{'$'}
				}
				continue
			case len(t.keywordBuf) == MaxKeywordLen-1 || p[i] == '\r' || p[i] == '\n':
				if _, err := dst.Write(t.keywordBuf); err != nil {
					return wcerr.Wrap(err, wcerr.ErrIOError, "flush unterminated keyword buffer")
				}
				t.keywordBuf = nil
			default:
				t.keywordBuf = append(t.keywordBuf, p[i])
				i++
				continue
			}
		}

		// Boring state: copy a run up to the next interesting byte.
		start := i
		for i < len(p) && p[i] != '$' && p[i] != '\r' && p[i] != '\n' {
			i++
		}
		if !keywordsOn {
			for i < len(p) && p[i] != '\r' && p[i] != '\n' {
				i++
			}
		}
		if i > start {
			if _, err := dst.Write(p[start:i]); err != nil {
				return wcerr.Wrap(err, wcerr.ErrIOError, "write literal run")
			}
		}
		if i == len(p) {
			break
		}
		switch p[i] {
		case '$':
			if keywordsOn {
				t.keywordBuf = append(t.keywordBuf, '$')
				i++
			} else {
				if _, err := dst.Write(p[i : i+1]); err != nil {
					return wcerr.Wrap(err, wcerr.ErrIOError, "write literal $")
				}
				i++
			}
		case '\r':
			t.newlineBuf = append(t.newlineBuf, p[i])
			i++
		case '\n':
			t.newlineBuf = append(t.newlineBuf, p[i])
			i++
			if err := t.emitNewline(dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitNewline translates one accumulated line terminator (t.newlineBuf,
// length 1 or 2) and writes the requested target, enforcing the
// inconsistent-EOL check unless repair mode is on.
func (t *translator) emitNewline(dst io.Writer) error {
	nl := t.newlineBuf
	t.newlineBuf = nil
	if t.opts.EOLBytes == nil {
		if _, err := dst.Write(nl); err != nil {
			return wcerr.Wrap(err, wcerr.ErrIOError, "write untranslated eol")
		}
		return nil
	}
	if t.srcFormat == nil {
		t.srcFormat = append([]byte(nil), nl...)
	} else if !t.opts.Repair && !bytes.Equal(t.srcFormat, nl) {
		return wcerr.Wrap(wcerr.ErrInconsistentEOL, wcerr.ErrInconsistentEOL, "mixed line endings")
	}
	if _, err := dst.Write(t.opts.EOLBytes); err != nil {
		return wcerr.Wrap(err, wcerr.ErrIOError, "write translated eol")
	}
	return nil
}

// emitKeyword attempts to translate the accumulated candidate
// (t.keywordBuf, beginning and ending with '$') against every enabled
// keyword. It reports whether a translation was recognised; if not, the
// caller must treat the trailing '$' as the start of the next candidate.
func (t *translator) emitKeyword(dst io.Writer) (bool, error) {
	buf := t.keywordBuf
	t.keywordBuf = nil
	translated, ok := translateKeywordCandidate(buf, t.opts)
	if !ok {
		t.keywordBuf = buf
		return false, nil
	}
	if _, err := dst.Write(translated); err != nil {
		return false, wcerr.Wrap(err, wcerr.ErrIOError, "write translated keyword")
	}
	return true, nil
}

// translateKeywordCandidate implements the grammar in spec.md §4.A: a
// keyword occurrence is "$Name$" (unexpanded), "$Name: value $"
// (expanded), or "$Name:: padded $" (fixed-length). buf includes both
// delimiting '$'.
func translateKeywordCandidate(buf []byte, opts Options) ([]byte, bool) {
	if len(buf) < 3 || buf[0] != '$' || buf[len(buf)-1] != '$' {
		return nil, false
	}
	body := buf[1:]
	for kw, tokens := range keywordMatchTokens {
		value, enabled := opts.enabledValue(kw)
		if !enabled {
			continue
		}
		for _, tok := range tokens {
			if out, ok := translateOneToken(body, tok, value, opts.Keywords[kw]); ok {
				return out, true
			}
		}
	}
	return nil, false
}

func translateOneToken(body []byte, token string, value string, enabled bool) ([]byte, bool) {
	if !enabled || len(body) < len(token) || string(body[:len(token)]) != token {
		return nil, false
	}
	rest := body[len(token):]
	long := keywordToken[aliasToKeyword(token)]

	// Fixed-length form: "::<spaces-or-value>$" with total width preserved,
	// so the keyword name is kept as written rather than its long form.
	if len(rest) >= 3 && rest[0] == ':' && rest[1] == ':' && rest[2] == ' ' {
		inner := rest[3 : len(rest)-1]
		if len(inner) >= 1 && (inner[len(inner)-1] == ' ' || inner[len(inner)-1] == '#') {
			return buildFixedWidth(token, inner, value), true
		}
	}

	// Unexpanded form: "$" or ":$"
	if len(rest) >= 1 && rest[0] == '$' {
		return buildExpansion(long, value), true
	}
	if len(rest) >= 2 && rest[0] == ':' && rest[1] == '$' {
		return buildExpansion(long, value), true
	}

	// Expanded form: ": value $"
	if len(rest) >= 2 && rest[0] == ':' && rest[1] == ' ' && rest[len(rest)-1] == '$' {
		return buildExpansion(long, value), true
	}
	return nil, false
}

func aliasToKeyword(token string) Keyword {
	kw, _ := lookupAlias(token)
	return kw
}

// buildExpansion renders "$Name$" when value is empty (always so when
// contracting) or "$Name: value $" otherwise. An empty value while
// materialising therefore also yields "$Name$"; the "$Name: $" form is
// never produced.
func buildExpansion(name, value string) []byte {
	var out bytes.Buffer
	out.WriteByte('$')
	out.WriteString(name)
	if value == "" {
		out.WriteByte('$')
		return out.Bytes()
	}
	out.WriteString(": ")
	maxVal := MaxKeywordLen - 5 - len(name)
	if maxVal < 0 {
		maxVal = 0
	}
	if len(value) > maxVal {
		value = value[:maxVal]
	}
	out.WriteString(value)
	out.WriteString(" $")
	return out.Bytes()
}

// buildFixedWidth renders "$Name:: value   $" preserving the total width
// of the content area (everything between "Name:: " and the closing
// "$"), truncating with a trailing '#' marker when the value does not
// fit.
func buildFixedWidth(name string, inner []byte, value string) []byte {
	width := len(inner)
	var out bytes.Buffer
	out.WriteByte('$')
	out.WriteString(name)
	out.WriteString(":: ")
	switch {
	case value == "":
		out.WriteString(spaces(width))
	case len(value) <= width:
		out.WriteString(value)
		out.WriteString(spaces(width - len(value)))
	default:
		if width > 0 {
			out.WriteString(value[:width-1])
		}
		out.WriteByte('#')
	}
	out.WriteByte('$')
	return out.Bytes()
}

func spaces(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
