// Package links derives the outbound relations of a page from its title,
// body and structured data.
package links

import (
	"regexp"
	"strings"

	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/data"
)

// RelatedTo is the relation of plain wikilinks and of hierarchical parents.
const RelatedTo = "relatedTo"

var (
	reWikilink   = regexp.MustCompile(`\[\[([^\]\n]+)\]\]`)
	reFencedCode = regexp.MustCompile("(?ms)^```.*?^```[ \\t]*$")
)

// Relation returns the relation name of property under itemType.
func Relation(itemType, property string) string {
	return itemType + "/" + property
}

// SplitRelation splits a relation name into its item type and property.
func SplitRelation(rel string) (itemType, property string) {
	if i := strings.IndexByte(rel, '/'); i != -1 {
		return rel[:i], rel[i+1:]
	}
	return "", rel
}

// Extract returns the outlinks of a page. Links to the page itself are
// dropped and every relation is sorted and deduplicated.
func Extract(title, itemType, body string, d content.Data) data.Links {
	out := data.Links{}
	add := func(rel, target string) {
		target = strings.TrimSpace(target)
		if target == "" || target == title {
			return
		}
		out.Add(rel, target)
	}

	paths := content.Paths(title)
	for _, p := range paths[:len(paths)-1] {
		add(Relation(itemType, RelatedTo), p.Path)
	}

	for _, target := range Wikilinks(content.RemoveMetadata(body)) {
		add(Relation(itemType, target.Property), target.Title)
	}

	for name, values := range d {
		for _, v := range values {
			if v.IsLink() {
				add(Relation(itemType, name), v.Value)
			}
		}
	}
	return out
}

// Target is a wikilink reference found in a body.
type Target struct {
	Property string
	Title    string
}

// Wikilinks returns the [[target]] and [[property::target]] references of
// body in document order. References in fenced code and [[=query]] embeds
// are skipped.
func Wikilinks(body string) []Target {
	body = reFencedCode.ReplaceAllString(body, "")

	var targets []Target
	for _, m := range reWikilink.FindAllStringSubmatch(body, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" || strings.HasPrefix(inner, "=") {
			continue
		}
		t := Target{Property: RelatedTo, Title: inner}
		if prop, title, ok := strings.Cut(inner, "::"); ok {
			t = Target{Property: strings.TrimSpace(prop), Title: strings.TrimSpace(title)}
			if t.Property == "" {
				continue
			}
		}
		targets = append(targets, t)
	}
	return targets
}
