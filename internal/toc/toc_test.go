package toc

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func headings(pairs ...interface{}) []Heading {
	var hs []Heading
	for i := 0; i < len(pairs); i += 2 {
		hs = append(hs, Heading{Level: pairs[i].(int), HTML: pairs[i+1].(string)})
	}
	return hs
}

func TestOutline_Paths(t *testing.T) {
	outline, err := Outline(headings(1, "A", 1, "B", 2, "B1", 2, "B2", 1, "C"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A", "B", "B\tB1", "B\tB2", "C"}
	if diff := cmp.Diff(want, Paths(outline)); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
	if len(outline) != 3 || len(outline[1].Children) != 2 {
		t.Errorf("unexpected outline shape")
	}
}

func TestOutline_ClosesToAnyOpenLevel(t *testing.T) {
	outline, err := Outline(headings(1, "A", 2, "B", 3, "C", 1, "D"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A", "A\tB", "A\tB\tC", "D"}
	if diff := cmp.Diff(want, Paths(outline)); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestOutline_Duplicate(t *testing.T) {
	_, err := Outline(headings(1, "A", 1, "A"))
	var dup *DuplicateAnchorError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAnchorError, got %v", err)
	}
	if dup.Path != "A" {
		t.Errorf("expected duplicate path A, got %q", dup.Path)
	}

	// The same text under different parents is not a duplicate.
	if _, err := Outline(headings(1, "A", 2, "X", 1, "B", 2, "X")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOutline_Invalid(t *testing.T) {
	tests := map[string][]Heading{
		"starts below h1": headings(2, "A"),
		"skips a level":   headings(1, "A", 3, "Deep"),
	}
	for name, hs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Outline(hs)
			var invalid *InvalidOutlineError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidOutlineError, got %v", err)
			}
			if !strings.Contains(err.Error(), hs[len(hs)-1].HTML) {
				t.Errorf("expected error to name the heading, got %q", err.Error())
			}
		})
	}
}

func TestExtract(t *testing.T) {
	html := "<h1 id=\"x\">Title</h1><p>text</p><h2>Sub\n<em>line</em></h2><header>no</header>"
	want := headings(1, "Title", 2, "Sub\n<em>line</em>")
	if diff := cmp.Diff(want, Extract(html)); diff != "" {
		t.Errorf("headings mismatch (-want +got):\n%s", diff)
	}
}

func TestAnchor(t *testing.T) {
	// md5("A") = 7fc56270e7a70fa81a5935b72eacbe29
	if got := Anchor("A"); got != "h_7fc56270e7a70fa81a5935b72eacbe29" {
		t.Errorf("unexpected anchor %q", got)
	}
}

func TestGenerate_FewHeadings(t *testing.T) {
	got, err := Generate("<h1>A</h1><p>x</p><h2>B</h2>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, b := Anchor("A"), Anchor("A\tB")
	want := `<h1>A <a id="` + a + `" href="#` + a + `" class="caret-target">#</a></h1><p>x</p>` +
		`<h2>B <a id="` + b + `" href="#` + b + `" class="caret-target">#</a></h2>`
	if got != want {
		t.Errorf("unexpected output:\n got: %s\nwant: %s", got, want)
	}
}

func TestGenerate_TableOfContents(t *testing.T) {
	html := "<p>intro</p><h1>A</h1><h1>B</h1><h2><em>B1</em></h2><h2>B2</h2><h1>C</h1>"
	got, err := Generate(html)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTOC := `<div class="toc"><h1>Table of Contents</h1><ol>` +
		`<li><div><a href="#` + Anchor("A") + `">A</a></div></li>` +
		`<li><div><a href="#` + Anchor("B") + `">B</a></div><ol>` +
		`<li><div><a href="#` + Anchor("B\t<em>B1</em>") + `">B1</a></div></li>` +
		`<li><div><a href="#` + Anchor("B\tB2") + `">B2</a></div></li>` +
		`</ol></li>` +
		`<li><div><a href="#` + Anchor("C") + `">C</a></div></li>` +
		`</ol></div>`
	if !strings.HasPrefix(got, "<p>intro</p>"+wantTOC+"<h1>A ") {
		t.Errorf("expected table of contents before the first heading, got:\n%s", got)
	}
	if strings.Count(got, `class="caret-target"`) != 5 {
		t.Errorf("expected 5 permalinks, got:\n%s", got)
	}
}

func TestGenerate_Invalid(t *testing.T) {
	if _, err := Generate("<h1>A</h1><h1>A</h1>"); err == nil {
		t.Error("expected duplicate error")
	}
	if err := Validate("<h2>Late</h2>"); err == nil {
		t.Error("expected invalid outline error")
	}
	if err := Validate("<p>no headings</p>"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
