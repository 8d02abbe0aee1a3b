// Package markdown renders page text to sanitised HTML.
package markdown

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"go-wiki-engine/internal/content"
)

// Renderer turns page text into HTML.
type Renderer interface {
	Render(text string) string
}

var (
	reWikiSyntax = regexp.MustCompile(`(\{\{|\[\[)([^\]}]+?)(\}\}|\]\])`)
	reImage      = regexp.MustCompile(`(?s)<p>\s*(<img [^>]*>)\s*</p>`)
	reHashbang   = regexp.MustCompile(`<code[^>]*>#!([^\n;<]+)[\n;]`)
	reMath       = regexp.MustCompile(`(?s)(\\\(.+\\\)|\$\$.+\$\$)`)
)

// Goldmark is the default Renderer: CommonMark with the GFM and definition
// list extensions, wiki syntax expanded beforehand and the output passed
// through a bluemonday policy.
type Goldmark struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// New creates the default renderer.
func New() *Goldmark {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.DefinitionList),
		goldmark.WithParserOptions(parser.WithAttribute()),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)
	return &Goldmark{md: md, sanitizer: Policy()}
}

// Policy returns the sanitising policy for rendered pages: the bluemonday
// UGC policy plus microdata and styling attributes.
func Policy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowAttrs("id").Globally()
	p.AllowAttrs("itemprop", "itemscope", "itemtype").Globally()
	return p
}

// Render implements Renderer.
func (g *Goldmark) Render(text string) string {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(ExpandWikiSyntax(text)), &buf); err != nil {
		return "<pre>" + html.EscapeString(text) + "</pre>"
	}
	out := g.sanitizer.Sanitize(buf.String())
	return reImage.ReplaceAllString(out, `<p class="img-container">$1</p>`)
}

// ExpandWikiSyntax rewrites wiki links and inline data assertions into
// HTML. Fenced code blocks and code spans are left untouched.
//
//	[[Title]]         link to a page
//	[[name::Title]]   link carrying the microdata property name
//	{{name::value}}   text carrying the microdata property name
//	{{.name::value}}  text with the class name
//	[[=query]]        embedded query, rendered as a placeholder
func ExpandWikiSyntax(text string) string {
	lines := strings.Split(text, "\n")
	fence := ""
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if marker := fenceMarker(trimmed); marker != "" {
			if fence == "" {
				fence = marker
			} else if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}
		lines[i] = expandLine(line)
	}
	return strings.Join(lines, "\n")
}

func fenceMarker(line string) string {
	for _, m := range []string{"```", "~~~"} {
		if strings.HasPrefix(line, m) {
			return m
		}
	}
	return ""
}

// expandLine expands the segments of line outside code spans.
func expandLine(line string) string {
	if !strings.Contains(line, "[[") && !strings.Contains(line, "{{") {
		return line
	}
	parts := strings.Split(line, "`")
	for i := 0; i < len(parts); i += 2 {
		// An unmatched trailing backtick leaves the last part as plain text.
		parts[i] = reWikiSyntax.ReplaceAllStringFunc(parts[i], expandMatch)
	}
	return strings.Join(parts, "`")
}

func expandMatch(m string) string {
	sub := reWikiSyntax.FindStringSubmatch(m)
	open, inner, closing := sub[1], sub[2], sub[3]
	if (open == "[[") != (closing == "]]") {
		return m
	}

	name, value, isData := strings.Cut(inner, "::")
	if open == "{{" {
		if !isData {
			return m
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if cls, ok := strings.CutPrefix(name, "."); ok {
			return `<span class="` + html.EscapeString(cls) + `">` + html.EscapeString(value) + `</span>`
		}
		return `<span itemprop="` + html.EscapeString(name) + `">` + html.EscapeString(value) + `</span>`
	}

	if !isData {
		if query, ok := strings.CutPrefix(inner, "="); ok {
			return `<span class="wikiquery">` + html.EscapeString(query) + `</span>`
		}
		return pageLink(strings.TrimSpace(inner))
	}
	name, value = strings.TrimSpace(name), strings.TrimSpace(value)
	return `<span itemprop="` + html.EscapeString(name) + `">` + pageLink(value) + `</span>`
}

func pageLink(title string) string {
	return `<a class="wikipage" href="/` + html.EscapeString(content.TitleToPath(title)) + `">` +
		html.EscapeString(title) + `</a>`
}

// Hashbangs returns the names of the "#!" markers opening code blocks of
// rendered, plus "mathjax" when it contains TeX delimiters.
func Hashbangs(rendered string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range reHashbang.FindAllStringSubmatch(rendered, -1) {
		name := strings.TrimSpace(m[1])
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if reMath.MatchString(rendered) {
		names = append(names, "mathjax")
	}
	return names
}
