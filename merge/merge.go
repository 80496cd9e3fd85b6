// Package merge implements the Three-Way Merge Engine (§4.E): given
// ancestor, theirs and mine streams, produces an output with conflict
// markers, plus a two-way unified-diff mode for display.
//
// The line-level diff is computed with github.com/pmezard/go-difflib's
// SequenceMatcher (a Go port of Python's difflib, itself an
// implementation of the Ratcliff-Obershelp / longest-matching-block
// algorithm) - the same library the pack already reaches for wherever
// a line-oriented diff is needed. The fold-two-diffs-into-hunks step
// and the conflict/clean classification are this package's own
// contribution, grounded on the textual algorithm in §4.E.
package merge

import (
	"bytes"
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

// Labels names the three sides for conflict-marker rendering.
type Labels struct {
	Mine     string
	Ancestor string
	Theirs   string
}

// DefaultLabels matches the conventional labels used by most three-way
// merge tools.
func DefaultLabels() Labels {
	return Labels{Mine: "mine", Ancestor: "ancestor", Theirs: "theirs"}
}

// Result is the outcome of a Merge call.
type Result struct {
	Output    []byte
	Conflicts int

	// Artifacts names the three conflict-marker labels actually written
	// to Output, populated only when Conflicts > 0. A caller that writes
	// ancestor/theirs/mine out as separate ".merge-left.r123"-style
	// sibling files (§4.E "Conflict handling") uses these names to know
	// which label corresponds to which file.
	Artifacts ConflictArtifacts
}

// ConflictArtifacts names the three sides of a conflict the way they
// were labelled in the output, mirroring libsvn_wc's convention of a
// ".mine", ".r<ancestor>" and ".r<theirs>" artifact per conflicted file
// (§4.E). Old is the ancestor (left) side, New is theirs (right), and
// Working is mine.
type ConflictArtifacts struct {
	Old     string
	New     string
	Working string
}

// Merge computes the three-way merge of ancestor, theirs and mine,
// applying the trivial shortcuts from §4.E before falling back to the
// general hunk-folding algorithm.
func Merge(ancestor, theirs, mine []byte, labels Labels) (Result, error) {
	if bytes.Equal(ancestor, mine) {
		return Result{Output: theirs}, nil
	}
	if bytes.Equal(ancestor, theirs) {
		return Result{Output: mine}, nil
	}
	if bytes.Equal(theirs, mine) {
		return Result{Output: mine}, nil
	}

	ancLines := splitLines(ancestor)
	theirsLines := splitLines(theirs)
	mineLines := splitLines(mine)

	theirsChanges := changesFromOpCodes(difflib.NewMatcher(ancLines, theirsLines).GetOpCodes())
	mineChanges := changesFromOpCodes(difflib.NewMatcher(ancLines, mineLines).GetOpCodes())

	clusters := clusterChanges(theirsChanges, mineChanges)

	var out bytes.Buffer
	conflicts := 0
	cursor := 0
	for _, cl := range clusters {
		// Unchanged ancestor lines between the previous cluster and this
		// one pass straight through.
		for ; cursor < cl.ancStart(); cursor++ {
			out.WriteString(ancLines[cursor])
		}
		if cl.isConflict() {
			conflicts++
			writeConflict(&out, labels, cl, ancLines, theirsLines, mineLines)
		} else {
			writeClean(&out, cl, ancLines, theirsLines, mineLines)
		}
		cursor = cl.ancEnd()
	}
	for ; cursor < len(ancLines); cursor++ {
		out.WriteString(ancLines[cursor])
	}

	result := Result{Output: out.Bytes(), Conflicts: conflicts}
	if conflicts > 0 {
		result.Artifacts = ConflictArtifacts{Old: labels.Ancestor, New: labels.Theirs, Working: labels.Mine}
	}
	return result, nil
}

// change is one non-equal opcode from a two-way diff against the
// ancestor, in ancestor-line-index coordinates plus the corresponding
// range on the other side.
type change struct {
	side                 side
	ancStart, ancEnd     int
	otherStart, otherEnd int
}

type side int

const (
	sideTheirs side = iota
	sideMine
)

func (c change) isInsert() bool { return c.ancStart == c.ancEnd }

// intersectsWindow reports whether c falls inside the half-open
// ancestor range [start,end). A pure insertion has zero width, so it
// is tested against the window's boundaries inclusively - an insertion
// point exactly at start or end still belongs to that window, which is
// the common case for a cluster made up solely of same-point
// insertions (its own ancStart/ancEnd collapse to that single point).
func intersectsWindow(c change, start, end int) bool {
	if c.isInsert() {
		return c.ancStart >= start && c.ancStart <= end
	}
	return c.ancStart < end && c.ancEnd > start
}

func changesFromOpCodes(ops []difflib.OpCode) []change {
	var out []change
	for _, op := range ops {
		if op.Tag == 'e' {
			continue
		}
		out = append(out, change{ancStart: op.I1, ancEnd: op.I2, otherStart: op.J1, otherEnd: op.J2})
	}
	return out
}

// cluster groups one or more change entries (from either side) that
// the conflict rule below treats as a single merge decision.
type cluster struct {
	members []change
}

func (cl cluster) ancStart() int {
	start := cl.members[0].ancStart
	for _, m := range cl.members[1:] {
		if m.ancStart < start {
			start = m.ancStart
		}
	}
	return start
}

func (cl cluster) ancEnd() int {
	end := cl.members[0].ancEnd
	for _, m := range cl.members[1:] {
		if m.ancEnd > end {
			end = m.ancEnd
		}
	}
	return end
}

func (cl cluster) has(s side) bool {
	for _, m := range cl.members {
		if m.side == s {
			return true
		}
	}
	return false
}

// isConflict reports whether this cluster represents theirs and mine
// disagreeing, as opposed to a one-sided change or an identical change
// on both sides.
func (cl cluster) isConflict() bool {
	return cl.has(sideTheirs) && cl.has(sideMine)
}

// rangesConflict implements the adjacency rule resolving §4.E's
// conflicting "aggressive" description against the concrete worked
// examples (see DESIGN.md): two non-empty ancestor ranges that merely
// touch at a boundary do not conflict (each modifies genuinely
// disjoint ancestor content), but two insertions at the very same
// ancestor gap-point do, since their relative order is ambiguous, as
// does an insertion point landing strictly inside the other side's
// replaced span.
func rangesConflict(aStart, aEnd, bStart, bEnd int) bool {
	aIsInsert := aStart == aEnd
	bIsInsert := bStart == bEnd
	switch {
	case aIsInsert && bIsInsert:
		return aStart == bStart
	case aIsInsert:
		return aStart > bStart && aStart < bEnd
	case bIsInsert:
		return bStart > aStart && bStart < aEnd
	default:
		return aStart < bEnd && bStart < aEnd
	}
}

// clusterChanges merges theirsChanges and mineChanges into clusters,
// each a transitive closure under rangesConflict of changes that
// pairwise conflict, sorted by ancestor position. A change with no
// conflicting counterpart on the other side is its own one-member
// cluster (a clean, one-sided hunk).
func clusterChanges(theirsChanges, mineChanges []change) []cluster {
	all := make([]change, 0, len(theirsChanges)+len(mineChanges))
	for _, c := range theirsChanges {
		c.side = sideTheirs
		all = append(all, c)
	}
	for _, c := range mineChanges {
		c.side = sideMine
		all = append(all, c)
	}
	sortChanges(all)

	used := make([]bool, len(all))
	var clusters []cluster
	for i := range all {
		if used[i] {
			continue
		}
		cl := cluster{members: []change{all[i]}}
		used[i] = true
		grew := true
		for grew {
			grew = false
			for j := range all {
				if used[j] {
					continue
				}
				if clusterConflictsWith(cl, all[j]) {
					cl.members = append(cl.members, all[j])
					used[j] = true
					grew = true
				}
			}
		}
		sortChanges(cl.members)
		clusters = append(clusters, cl)
	}
	sortClusters(clusters)
	return clusters
}

func clusterConflictsWith(cl cluster, c change) bool {
	for _, m := range cl.members {
		if m.side != c.side && rangesConflict(m.ancStart, m.ancEnd, c.ancStart, c.ancEnd) {
			return true
		}
	}
	return false
}

func sortChanges(cs []change) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ancStart < cs[j].ancStart })
}

func sortClusters(cls []cluster) {
	sort.Slice(cls, func(i, j int) bool { return cls[i].ancStart() < cls[j].ancStart() })
}

// renderSide reconstructs what side would display across ancestor
// range [start,end): ancestor content wherever that side made no
// change (the "equal" gaps), and that side's own lines wherever one of
// the given changes intersects the range.
func renderSide(changes []change, s side, start, end int, ancLines, otherLines []string) []string {
	var out []string
	cursor := start
	for _, c := range changes {
		if c.side != s || !intersectsWindow(c, start, end) {
			continue
		}
		for ; cursor < c.ancStart; cursor++ {
			out = append(out, ancLines[cursor])
		}
		out = append(out, otherLines[c.otherStart:c.otherEnd]...)
		cursor = c.ancEnd
	}
	for ; cursor < end; cursor++ {
		out = append(out, ancLines[cursor])
	}
	return out
}

func writeClean(out *bytes.Buffer, cl cluster, ancLines, theirsLines, mineLines []string) {
	start, end := cl.ancStart(), cl.ancEnd()
	var rendered []string
	if cl.has(sideTheirs) {
		rendered = renderSide(allFromCluster(cl, sideTheirs), sideTheirs, start, end, ancLines, theirsLines)
	} else {
		rendered = renderSide(allFromCluster(cl, sideMine), sideMine, start, end, ancLines, mineLines)
	}
	for _, l := range rendered {
		out.WriteString(l)
	}
}

func allFromCluster(cl cluster, s side) []change {
	var out []change
	for _, m := range cl.members {
		if m.side == s {
			out = append(out, m)
		}
	}
	return out
}

func writeConflict(out *bytes.Buffer, labels Labels, cl cluster, ancLines, theirsLines, mineLines []string) {
	start, end := cl.ancStart(), cl.ancEnd()
	mineRendered := renderSide(allFromCluster(cl, sideMine), sideMine, start, end, ancLines, mineLines)
	theirsRendered := renderSide(allFromCluster(cl, sideTheirs), sideTheirs, start, end, ancLines, theirsLines)

	writeMarkerLine(out, "<<<<<<< ", labels.Mine)
	for _, l := range mineRendered {
		out.WriteString(l)
	}
	writeMarkerLine(out, "||||||| ", labels.Ancestor)
	for i := start; i < end; i++ {
		out.WriteString(ancLines[i])
	}
	out.WriteString("=======\n")
	for _, l := range theirsRendered {
		out.WriteString(l)
	}
	writeMarkerLine(out, ">>>>>>> ", labels.Theirs)
}

func writeMarkerLine(out *bytes.Buffer, marker, label string) {
	out.WriteString(marker)
	out.WriteString(label)
	out.WriteByte('\n')
}

// splitLines divides data into lines, each including whatever line
// terminator followed it (LF, CRLF, or bare CR, per §4.E's "must also
// accept CRLF and CR"). The final line has no terminator if data does
// not end with one.
func splitLines(data []byte) []string {
	var lines []string
	start := 0
	i := 0
	for i < len(data) {
		switch data[i] {
		case '\n':
			lines = append(lines, string(data[start:i+1]))
			i++
			start = i
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				lines = append(lines, string(data[start:i+2]))
				i += 2
			} else {
				lines = append(lines, string(data[start:i+1]))
				i++
			}
			start = i
		default:
			i++
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
