// Package merge reconciles two edits of a common ancestor line by line.
package merge

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Conflict markers written around divergent regions.
const (
	MarkerMine   = "<<<<<<< mine"
	MarkerSep    = "======="
	MarkerTheirs = ">>>>>>> theirs"
)

var reConflict = regexp.MustCompile(`(?s)<<<<<<<.+=======.+>>>>>>>`)

// HasConflictMarkers reports whether text still contains an unresolved
// conflict region.
func HasConflictMarkers(text string) bool {
	return reConflict.MatchString(text)
}

// hunk replaces base lines [start, end) with lines.
type hunk struct {
	start, end int
	lines      []string
	theirs     bool
}

// ThreeWay merges mine and theirs, both derived from base. Changes to
// disjoint regions are combined; regions changed differently by both sides
// are emitted between conflict markers and conflict is true.
func ThreeWay(base, mine, theirs string) (merged string, conflict bool) {
	if mine == theirs {
		return mine, false
	}
	if base == mine {
		return theirs, false
	}
	if base == theirs {
		return mine, false
	}

	baseLines := splitLines(base)
	hunks := append(diffHunks(base, mine, false), diffHunks(base, theirs, true)...)
	sort.SliceStable(hunks, func(i, j int) bool { return hunks[i].start < hunks[j].start })

	var out []string
	pos := 0
	for i := 0; i < len(hunks); {
		gStart, gEnd := hunks[i].start, hunks[i].end
		j := i + 1
		for j < len(hunks) && hunks[j].start <= gEnd {
			if hunks[j].end > gEnd {
				gEnd = hunks[j].end
			}
			j++
		}
		group := hunks[i:j]
		i = j

		out = append(out, baseLines[pos:gStart]...)
		pos = gEnd

		mineSide, mineChanged := applyGroup(baseLines, gStart, gEnd, group, false)
		theirSide, theirChanged := applyGroup(baseLines, gStart, gEnd, group, true)
		switch {
		case !theirChanged:
			out = append(out, mineSide...)
		case !mineChanged:
			out = append(out, theirSide...)
		case strings.Join(mineSide, "") == strings.Join(theirSide, ""):
			out = append(out, mineSide...)
		default:
			conflict = true
			out = append(out, MarkerMine+"\n")
			out = append(out, terminated(mineSide)...)
			out = append(out, MarkerSep+"\n")
			out = append(out, terminated(theirSide)...)
			out = append(out, MarkerTheirs+"\n")
		}
	}
	out = append(out, baseLines[pos:]...)
	return strings.Join(out, ""), conflict
}

// applyGroup returns base[start:end] with the hunks of one side applied and
// whether that side changed anything in the region.
func applyGroup(base []string, start, end int, group []hunk, theirs bool) ([]string, bool) {
	var result []string
	pos := start
	changed := false
	for _, h := range group {
		if h.theirs != theirs {
			continue
		}
		changed = true
		result = append(result, base[pos:h.start]...)
		result = append(result, h.lines...)
		pos = h.end
	}
	result = append(result, base[pos:end]...)
	return result, changed
}

func diffHunks(base, other string, theirs bool) []hunk {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var hunks []hunk
	pos := 0
	var cur *hunk
	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			pos += len(lines)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &hunk{start: pos, end: pos, theirs: theirs}
			}
			pos += len(lines)
			cur.end = pos
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &hunk{start: pos, end: pos, theirs: theirs}
			}
			cur.lines = append(cur.lines, lines...)
		}
	}
	flush()
	return hunks
}

// splitLines splits text after every newline. The last line may lack one.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func terminated(lines []string) []string {
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		lines = append(lines[:n-1:n-1], lines[n-1]+"\n")
	}
	return lines
}
