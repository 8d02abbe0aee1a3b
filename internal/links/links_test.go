package links

import (
	"testing"

	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/schema"

	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	body := ".schema Book\n" +
		"See [[Gödel]] and [[Escher]] and [[Gödel]] again.\n" +
		"Written by [[author::Douglas Hofstadter]].\n" +
		"Self: [[Books/GEB]]. Query: [[=schema:\"Book\"]]\n" +
		"```\n[[In Code]]\n```\n"
	d := content.Data{
		"name":        {{Datatype: schema.Text, Value: "Books/GEB"}},
		"author":      {{Datatype: schema.Link, Value: "Douglas Hofstadter"}},
		"illustrator": {{Datatype: schema.Link, Value: "M. C. Escher"}},
		"isbn":        {{Datatype: schema.Text, Value: "0465026567"}},
	}

	got := Extract("Books/GEB", "Book", body, d)

	want := data.Links{
		"Book/relatedTo":   {"Books", "Escher", "Gödel"},
		"Book/author":      {"Douglas Hofstadter"},
		"Book/illustrator": {"M. C. Escher"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outlinks mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_NestedAncestors(t *testing.T) {
	got := Extract("A/B/C", "Article", "", nil)
	want := data.Links{"Article/relatedTo": {"A", "A/B"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outlinks mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_Empty(t *testing.T) {
	if got := Extract("Alone", "Article", "No links here.", nil); got.Len() != 0 {
		t.Errorf("expected no outlinks, got %v", got)
	}
}

func TestWikilinks(t *testing.T) {
	got := Wikilinks("[[A]] [[ rel :: B ]] [[=q]] [[::C]] [[]]")
	want := []Target{{RelatedTo, "A"}, {"rel", "B"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wikilinks mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitRelation(t *testing.T) {
	typ, prop := SplitRelation("Book/author")
	if typ != "Book" || prop != "author" {
		t.Errorf("unexpected split %q %q", typ, prop)
	}
	typ, prop = SplitRelation("author")
	if typ != "" || prop != "author" {
		t.Errorf("unexpected split %q %q", typ, prop)
	}
}
