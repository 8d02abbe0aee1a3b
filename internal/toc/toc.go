// Package toc builds the heading outline of rendered HTML, assigns every
// heading a stable anchor and injects a table of contents.
package toc

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MinHeadings is the heading count above which a table of contents is added.
const MinHeadings = 4

var reHeading = regexp.MustCompile(`(?s)<h(\d)\b[^>]*>(.+?)</h\d>`)

var stripTags = bluemonday.StrictPolicy()

// InvalidOutlineError is returned when heading levels do not nest.
type InvalidOutlineError struct {
	Heading  Heading
	Expected []int
}

func (e *InvalidOutlineError) Error() string {
	if len(e.Expected) == 1 {
		return fmt.Sprintf("headings should start from h%d but found <h%d>%s</h%d>",
			e.Expected[0], e.Heading.Level, e.Heading.HTML, e.Heading.Level)
	}
	return fmt.Sprintf("invalid level of headings: expected h%d or h%d but found <h%d>%s</h%d>",
		e.Expected[0], e.Expected[1], e.Heading.Level, e.Heading.HTML, e.Heading.Level)
}

// DuplicateAnchorError is returned when two headings share a path.
type DuplicateAnchorError struct {
	Path string
}

func (e *DuplicateAnchorError) Error() string {
	return fmt.Sprintf("duplicate heading path not allowed: %s", strings.ReplaceAll(e.Path, "\t", " > "))
}

// Heading is an <hN> element of a document.
type Heading struct {
	Level int
	HTML  string
}

// Node is a heading in the outline. Path is the tab-joined chain of its
// ancestors' texts and its own.
type Node struct {
	Heading
	Path     string
	Children []*Node
}

// Anchor returns the element id of the node.
func (n *Node) Anchor() string {
	return Anchor(n.Path)
}

// Anchor returns the element id for a heading path.
func Anchor(path string) string {
	sum := md5.Sum([]byte(path))
	return "h_" + hex.EncodeToString(sum[:])
}

// Extract returns the headings of html in document order.
func Extract(html string) []Heading {
	matches := reHeading.FindAllStringSubmatch(html, -1)
	headings := make([]Heading, 0, len(matches))
	for _, m := range matches {
		level, _ := strconv.Atoi(m[1])
		headings = append(headings, Heading{Level: level, HTML: m[2]})
	}
	return headings
}

// Outline nests headings and computes their paths. The first heading must
// be h1, a heading may go at most one level deeper than its predecessor and
// no two headings may share a path.
func Outline(headings []Heading) ([]*Node, error) {
	if len(headings) == 0 {
		return nil, nil
	}
	if headings[0].Level != 1 {
		return nil, &InvalidOutlineError{Heading: headings[0], Expected: []int{1}}
	}

	b := &outlineBuilder{headings: headings}
	roots, err := b.children(1, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(headings))
	for _, p := range Paths(roots) {
		if seen[p] {
			return nil, &DuplicateAnchorError{Path: p}
		}
		seen[p] = true
	}
	return roots, nil
}

type outlineBuilder struct {
	headings []Heading
	pos      int
}

// children consumes consecutive headings of level, each followed by its
// deeper descendants, and stops at the first shallower heading.
func (b *outlineBuilder) children(level int, parentPath string) ([]*Node, error) {
	var nodes []*Node
	for b.pos < len(b.headings) {
		h := b.headings[b.pos]
		switch {
		case h.Level == level:
			path := h.HTML
			if parentPath != "" {
				path = parentPath + "\t" + h.HTML
			}
			node := &Node{Heading: h, Path: path}
			b.pos++
			kids, err := b.children(level+1, path)
			if err != nil {
				return nil, err
			}
			node.Children = kids
			nodes = append(nodes, node)
		case h.Level < level:
			return nodes, nil
		default:
			return nil, &InvalidOutlineError{Heading: h, Expected: []int{level - 1, level}}
		}
	}
	return nodes, nil
}

// Paths returns the paths of the outline in pre-order.
func Paths(nodes []*Node) []string {
	var paths []string
	walk(nodes, func(n *Node) { paths = append(paths, n.Path) })
	return paths
}

func walk(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		walk(n.Children, fn)
	}
}

// Validate checks that html has a well-formed outline.
func Validate(html string) error {
	_, err := Outline(Extract(html))
	return err
}

// Generate adds a permalink anchor to every heading of html and, when there
// are more than MinHeadings headings, a table of contents before the first.
func Generate(html string) (string, error) {
	headings := Extract(html)
	outline, err := Outline(headings)
	if err != nil {
		return "", err
	}

	var nodes []*Node
	walk(outline, func(n *Node) { nodes = append(nodes, n) })

	contents := ""
	if len(headings) > MinHeadings {
		contents = `<div class="toc"><h1>Table of Contents</h1>` + renderList(outline) + `</div>`
	}

	i := 0
	return reHeading.ReplaceAllStringFunc(html, func(string) string {
		n := nodes[i]
		anchor := n.Anchor()
		out := fmt.Sprintf(`<h%d>%s <a id="%s" href="#%s" class="caret-target">#</a></h%d>`,
			n.Level, n.HTML, anchor, anchor, n.Level)
		if i == 0 {
			out = contents + out
		}
		i++
		return out
	}), nil
}

func renderList(nodes []*Node) string {
	if len(nodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<ol>")
	for _, n := range nodes {
		fmt.Fprintf(&b, `<li><div><a href="#%s">%s</a></div>`, n.Anchor(), stripTags.Sanitize(n.HTML))
		b.WriteString(renderList(n.Children))
		b.WriteString("</li>")
	}
	b.WriteString("</ol>")
	return b.String()
}
