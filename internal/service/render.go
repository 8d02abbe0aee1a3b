package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/links"
	"go-wiki-engine/internal/markdown"
	"go-wiki-engine/internal/recommend"
	"go-wiki-engine/internal/schema"
	"go-wiki-engine/internal/toc"
)

// MaxSuggestions bounds the suggested pages shown under a page.
const MaxSuggestions = 10

// RenderPage returns the HTML of page: its body, incoming links, suggested
// pages, table of contents and structured data. A cache miss renders the
// stored page, which may be newer than page.
func (s *PageService) RenderPage(ctx context.Context, page *data.Page) (string, error) {
	if page.Revision == 0 {
		return s.render(page, nil), nil
	}
	return s.cache.RenderedBody(page.Title, func() (string, error) {
		current, err := s.records.Load(ctx, page.Title)
		if err != nil {
			return "", err
		}
		if current.Revision == 0 {
			return s.render(current, nil), nil
		}
		d, err := s.pageData(ctx, current)
		if err != nil {
			return "", err
		}
		return s.render(current, d), nil
	})
}

// Preview renders body as it would look once saved as title. Nothing is
// stored or cached.
func (s *PageService) Preview(ctx context.Context, title, body string) (string, error) {
	page, err := s.records.Load(ctx, title)
	if err != nil {
		return "", err
	}
	draft := *page
	draft.Body = body
	d, err := s.parseData(title, &draft)
	if err != nil {
		return "", err
	}
	return s.render(&draft, d), nil
}

// Hashbangs returns the code block markers used on page.
func (s *PageService) Hashbangs(ctx context.Context, page *data.Page) ([]string, error) {
	return s.cache.Hashbangs(page.Title, func() ([]string, error) {
		rendered, err := s.RenderPage(ctx, page)
		if err != nil {
			return nil, err
		}
		return markdown.Hashbangs(rendered), nil
	})
}

// PageMetadata returns the parsed metadata of page.
func (s *PageService) PageMetadata(ctx context.Context, page *data.Page) (map[string]string, error) {
	return s.cache.Metadata(page.Title, func() (map[string]string, error) {
		current, err := s.records.Load(ctx, page.Title)
		if err != nil {
			return nil, err
		}
		// Stored bodies were validated when saved, so only the parsed
		// directives matter here.
		md, _ := content.ParseMetadata(current.Body)
		return md, nil
	})
}

// PageData returns the structured data of page, read from the stored row
// on a cache miss.
func (s *PageService) PageData(ctx context.Context, page *data.Page) (content.Data, error) {
	return cache.Memo(s.cache, cache.DataKey(page.Title), nil, func() (content.Data, error) {
		current, err := s.records.Load(ctx, page.Title)
		if err != nil {
			return nil, err
		}
		return s.parseData(page.Title, current)
	})
}

// pageData is PageData for a page just loaded from the store.
func (s *PageService) pageData(ctx context.Context, current *data.Page) (content.Data, error) {
	return cache.Memo(s.cache, cache.DataKey(current.Title), nil, func() (content.Data, error) {
		return s.parseData(current.Title, current)
	})
}

func (s *PageService) render(page *data.Page, d content.Data) string {
	parts := []string{content.RemoveMetadata(page.Body)}

	if page.Inlinks.Len() > 0 {
		lines := []string{"# Incoming Links"}
		for _, rel := range page.Inlinks.Relations() {
			itemType, prop := links.SplitRelation(rel)
			lines = append(lines, "## "+s.schema.HumaneProperty(itemType, prop, true))
			for _, t := range page.Inlinks[rel] {
				lines = append(lines, "* [["+t+"]]")
			}
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if related := recommend.RelatedByScore(page); len(related) > 0 {
		lines := []string{"# Suggested Pages"}
		for i, r := range related {
			if i == MaxSuggestions {
				break
			}
			lines = append(lines, fmt.Sprintf("* {{.score::%.3f}} [[%s]]", r.Score, r.Title))
		}
		lines = append(lines, "", fmt.Sprintf("[More suggestions...](/+%s)", content.TitleToPath(page.Title)))
		parts = append(parts, strings.Join(lines, "\n"))
	}

	rendered := s.renderer.Render(content.RemoveDataBlock(strings.Join(parts, "\n\n")))
	withTOC, err := toc.Generate(rendered)
	if err != nil {
		s.log.With(map[string]interface{}{"title": page.Title}).Warn("Rendered page has no valid outline: " + err.Error())
		withTOC = rendered
	}
	return s.renderData(page, d) + withTOC
}

// renderData renders the structured data of page as a definition list.
// Pages with nothing besides their name and type get no block.
func (s *PageService) renderData(page *data.Page, d content.Data) string {
	type row struct {
		name, label string
		values      []schema.Property
	}
	itemType := content.DefaultSchema
	if md, _ := content.ParseMetadata(page.Body); md != nil {
		itemType = md[content.KeySchema]
	}

	var rows []row
	for name, values := range d {
		if name == "schema" {
			continue
		}
		rows = append(rows, row{name: name, label: s.schema.HumaneProperty(itemType, name, false), values: values})
	}
	if len(rows) <= 1 {
		return ""
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].label < rows[j].label })

	var b strings.Builder
	b.WriteString(`<div class="structured-data"><h1>Structured data</h1><dl>`)
	for _, r := range rows {
		name := html.EscapeString(r.name)
		fmt.Fprintf(&b, `<dt class="key key-%s">%s</dt>`, name, html.EscapeString(r.label))
		for _, v := range r.values {
			value := html.EscapeString(v.Value)
			if v.IsLink() {
				value = fmt.Sprintf(`<a class="wikipage" href="/%s">%s</a>`,
					html.EscapeString(content.TitleToPath(v.Value)), value)
			}
			fmt.Fprintf(&b, `<dd class="value value-%s"><span itemprop="%s">%s</span></dd>`, name, name, value)
		}
	}
	b.WriteString(`</dl></div>`)
	return b.String()
}
