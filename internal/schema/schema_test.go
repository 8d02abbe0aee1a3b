package schema

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func setupRegistryTest(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("failed to load default registry: %v", err)
	}
	return r
}

func TestRegistry_TypePath(t *testing.T) {
	r := setupRegistryTest(t)

	tests := map[string]string{
		"Thing":       "Thing/",
		"Article":     "Thing/CreativeWork/Article/",
		"Book":        "Thing/CreativeWork/Book/",
		"BlogPosting": "Thing/CreativeWork/Article/BlogPosting/",
		"Person":      "Thing/Person/",
	}
	for typ, want := range tests {
		got, err := r.TypePath(typ)
		if err != nil {
			t.Errorf("TypePath(%q) returned error: %v", typ, err)
			continue
		}
		if got != want {
			t.Errorf("TypePath(%q) = %q, want %q", typ, got, want)
		}
	}

	_, err := r.TypePath("Spaceship")
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) || unknown.Type != "Spaceship" {
		t.Errorf("expected UnknownTypeError, got %v", err)
	}
}

func TestRegistry_Classify(t *testing.T) {
	r := setupRegistryTest(t)

	tests := []struct {
		name     string
		itemType string
		prop     string
		raw      string
		want     Property
		wantErr  bool
	}{
		{"undeclared property is text", "Article", "mood", " happy ", Property{Text, "happy"}, false},
		{"inherited link", "Book", "author", "Douglas Hofstadter", Property{Link, "Douglas Hofstadter"}, false},
		{"integer", "Book", "numberOfPages", "777", Property{Integer, "777"}, false},
		{"bad integer", "Book", "numberOfPages", "many", Property{}, true},
		{"number canonical form", "Place", "latitude", "37.50", Property{Number, "37.5"}, false},
		{"date day", "Book", "datePublished", "1979-01-01", Property{Date, "1979-01-01"}, false},
		{"date year", "Book", "datePublished", "1979", Property{Date, "1979"}, false},
		{"bad date", "Book", "datePublished", "yesterday", Property{}, true},
		{"url", "Thing", "url", "https://example.com/a", Property{URL, "https://example.com/a"}, false},
		{"relative url", "Thing", "url", "/a/b", Property{}, true},
		{"boolean", "Event", "isAccessibleForFree", "TRUE", Property{Boolean, "true"}, false},
		{"empty link", "Book", "author", "  ", Property{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Classify(tt.itemType, tt.prop, tt.raw)
			if tt.wantErr {
				var invalid *InvalidPropertyError
				if !errors.As(err, &invalid) {
					t.Fatalf("expected InvalidPropertyError, got %v", err)
				}
				if invalid.Name != tt.prop {
					t.Errorf("expected error to name %q, got %q", tt.prop, invalid.Name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("property mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistry_ClassifyUnknownType(t *testing.T) {
	r := setupRegistryTest(t)
	if _, err := r.Classify("Spaceship", "name", "x"); err == nil {
		t.Error("expected error for unknown item type")
	}
}

func TestRegistry_HumaneProperty(t *testing.T) {
	r := setupRegistryTest(t)

	if got := r.HumaneProperty("Book", "datePublished", false); got != "Date published" {
		t.Errorf("unexpected label %q", got)
	}
	if got := r.HumaneProperty("Book", "author", true); got != "Works" {
		t.Errorf("unexpected inverse label %q", got)
	}
	if got := r.HumaneProperty("Article", "relatedTo", true); got != "Related pages" {
		t.Errorf("unexpected inverse label %q", got)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown datatype": "types:\n  A:\n    properties:\n      x: Colour\n",
		"unknown parent":   "types:\n  A:\n    parent: B\n",
		"cycle":            "types:\n  A:\n    parent: B\n  B:\n    parent: A\n",
		"not yaml":         "types: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
