package handler

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"time"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/middleware"
)

const atomNS = "http://www.w3.org/2005/Atom"

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomEntry struct {
	Title   string      `xml:"title"`
	ID      string      `xml:"id"`
	Link    atomLink    `xml:"link"`
	Updated string      `xml:"updated"`
	Summary string      `xml:"summary,omitempty"`
	Author  *atomAuthor `xml:"author,omitempty"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Xmlns   string      `xml:"xmlns,attr"`
	Title   string      `xml:"title"`
	ID      string      `xml:"id"`
	Link    []atomLink  `xml:"link"`
	Updated string      `xml:"updated"`
	Entries []atomEntry `xml:"entry"`
}

func isoTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// entryTime is the publish time of a post, or its last update.
func entryTime(p *data.Page) *time.Time {
	if p.PublishedAt != nil {
		return p.PublishedAt
	}
	return p.UpdatedAt
}

// postsAtom serves the posts published to page as a feed.
func (h *PageHandler) postsAtom(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	offset, limit := paging(r)
	posts, err := h.pageService.Posts(r.Context(), page.Title, middleware.GetUserInfo(r.Context()).User(), offset, limit)
	if err != nil {
		return appError(err, "Failed to list posts")
	}
	return h.writeFeed(w, r, page.Title, pageURL(page.Title), posts)
}

// writeFeed writes pages as an Atom feed titled title. self is the local
// URL of the HTML form of the list.
func (h *PageHandler) writeFeed(w http.ResponseWriter, r *http.Request, title, self string, pages []*data.Page) *middleware.AppError {
	feed := atomFeed{
		Xmlns: atomNS,
		Title: title,
		ID:    h.baseURL + self,
		Link:  []atomLink{{Href: h.baseURL + self}, {Href: h.baseURL + r.URL.RequestURI(), Rel: "self"}},
	}
	var newest time.Time
	for _, p := range pages {
		at := entryTime(p)
		if at != nil && at.After(newest) {
			newest = *at
		}
		entry := atomEntry{
			Title:   p.Title,
			ID:      h.baseURL + pageURL(p.Title),
			Link:    atomLink{Href: h.baseURL + pageURL(p.Title)},
			Updated: isoTime(at),
			Summary: p.Description,
		}
		if p.Modifier != nil {
			entry.Author = &atomAuthor{Name: *p.Modifier}
		}
		feed.Entries = append(feed.Entries, entry)
	}
	if !newest.IsZero() {
		feed.Updated = isoTime(&newest)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to generate feed", Code: http.StatusInternalServerError}
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	buf.WriteTo(w)
	return nil
}
