package merge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultContext is the number of unchanged lines shown around each
// hunk in UnifiedDiff, matching the conventional default of GNU diff.
const DefaultContext = 3

// UnifiedDiff renders a, b in canonical unified-diff form (§4.E
// "Two-way unified diff output"): `@@ -old,len +new,len @@` headers,
// space/`-`/`+` line prefixes, and a `\ No newline at end of file`
// marker for any side whose last shown line lacks a terminator.
func UnifiedDiff(a, b []byte, context int) []byte {
	if context <= 0 {
		context = DefaultContext
	}
	aLines := splitLines(a)
	bLines := splitLines(b)
	matcher := difflib.NewMatcher(aLines, bLines)
	groups := matcher.GetGroupedOpCodes(context)

	var out bytes.Buffer
	for _, group := range groups {
		writeHunk(&out, group, aLines, bLines)
	}
	return out.Bytes()
}

func writeHunk(out *bytes.Buffer, group []difflib.OpCode, aLines, bLines []string) {
	if len(group) == 0 {
		return
	}
	first, last := group[0], group[len(group)-1]
	oldStart, oldLen := hunkRange(first.I1, last.I2)
	newStart, newLen := hunkRange(first.J1, last.J2)
	fmt.Fprintf(out, "@@ -%d,%d +%d,%d @@\n", oldStart, oldLen, newStart, newLen)

	for _, op := range group {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				emitLine(out, " ", aLines[i])
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				emitLine(out, "-", aLines[i])
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				emitLine(out, "+", bLines[j])
			}
		case 'r':
			for i := op.I1; i < op.I2; i++ {
				emitLine(out, "-", aLines[i])
			}
			for j := op.J1; j < op.J2; j++ {
				emitLine(out, "+", bLines[j])
			}
		}
	}
}

// hunkRange converts a half-open [start,end) line-index range into the
// 1-based (start,len) pair unified diff headers use. An empty range
// reports its start as the line before it (or 0), matching GNU diff's
// convention for pure insertions/deletions.
func hunkRange(start, end int) (int, int) {
	length := end - start
	if length == 0 {
		return start, 0
	}
	return start + 1, length
}

func emitLine(out *bytes.Buffer, prefix, line string) {
	content, hadTerminator := chompLine(line)
	out.WriteString(prefix)
	out.WriteString(content)
	out.WriteByte('\n')
	if !hadTerminator {
		out.WriteString("\\ No newline at end of file\n")
	}
}

func chompLine(line string) (content string, hadTerminator bool) {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], true
	}
	if strings.HasSuffix(line, "\n") || strings.HasSuffix(line, "\r") {
		return line[:len(line)-1], true
	}
	return line, false
}
