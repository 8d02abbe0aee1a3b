package handler

import (
	"net/http"
	"strconv"
	"strings"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/recommend"
	"go-wiki-engine/internal/service"
)

// listing is a page of titles shown by the change, post and index lists.
type listing struct {
	Title string
	Pages []*data.Page
	// Next is the URL of the following page of results, if any.
	Next string
	// Feed is the URL of the Atom form of the list.
	Feed string
}

var listRepresentations = representations[*listing]{
	{FormatHTML, ViewDefault}: (*PageHandler).listHTML,
	{FormatJSON, ViewDefault}: (*PageHandler).listJSON,
	{FormatAtom, ViewDefault}: (*PageHandler).listAtom,
}

// titleList is the result of a title query.
type titleList struct {
	Title  string
	Query  string
	Titles []string
}

var titleRepresentations = representations[*titleList]{
	{FormatHTML, ViewDefault}: (*PageHandler).titlesHTML,
	{FormatJSON, ViewDefault}: (*PageHandler).titlesJSON,
}

type related struct {
	Page   *data.Page
	Scores []recommend.Scored
}

var relatedRepresentations = representations[*related]{
	{FormatHTML, ViewDefault}: (*PageHandler).relatedHTML,
	{FormatJSON, ViewDefault}: (*PageHandler).relatedJSON,
}

// paging reads the "index" and "count" parameters.
func paging(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	offset, _ = strconv.Atoi(q.Get("index"))
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.Atoi(q.Get("count"))
	if limit <= 0 || limit > service.MaxListCount {
		limit = service.MaxListCount
	}
	return offset, limit
}

// nextURL returns the URL of the page of results after offset, or "" when
// the current page was not full.
func nextURL(r *http.Request, offset, limit, got int) string {
	if got < limit {
		return ""
	}
	q := r.URL.Query()
	q.Set("index", strconv.Itoa(offset+limit))
	q.Set("count", strconv.Itoa(limit))
	return r.URL.Path + "?" + q.Encode()
}

func feedURL(r *http.Request) string {
	q := r.URL.Query()
	q.Set("_type", FormatAtom)
	return r.URL.Path + "?" + q.Encode()
}

// changesHandler lists recently updated pages.
func (h *PageHandler) changesHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	offset, limit := paging(r)
	pages, err := h.pageService.Changes(r.Context(), middleware.GetUserInfo(r.Context()).User(), offset, limit)
	if err != nil {
		return appError(err, "Failed to list changes")
	}
	return listRepresentations.serve(h, w, r, &listing{
		Title: "Recent changes",
		Pages: pages,
		Next:  nextURL(r, offset, limit, len(pages)),
		Feed:  feedURL(r),
	})
}

// postsHandler lists the posts published to the "target" page.
func (h *PageHandler) postsHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	target := r.URL.Query().Get("target")
	if target == "" {
		return &middleware.AppError{Message: "Missing target page.", Code: http.StatusBadRequest}
	}
	offset, limit := paging(r)
	pages, err := h.pageService.Posts(r.Context(), target, middleware.GetUserInfo(r.Context()).User(), offset, limit)
	if err != nil {
		return appError(err, "Failed to list posts")
	}
	return listRepresentations.serve(h, w, r, &listing{
		Title: "Posts of " + target,
		Pages: pages,
		Next:  nextURL(r, offset, limit, len(pages)),
		Feed:  feedURL(r),
	})
}

// indexHandler lists every readable page.
func (h *PageHandler) indexHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pages, err := h.pageService.Index(r.Context(), middleware.GetUserInfo(r.Context()).User())
	if err != nil {
		return appError(err, "Failed to list pages")
	}
	return listRepresentations.serve(h, w, r, &listing{Title: "All pages", Pages: pages})
}

func (h *PageHandler) listHTML(w http.ResponseWriter, r *http.Request, l *listing) *middleware.AppError {
	return h.render(w, r, http.StatusOK, "list.html", map[string]interface{}{
		"Title": l.Title,
		"Pages": l.Pages,
		"Next":  l.Next,
		"Feed":  l.Feed,
	})
}

type listItem struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

func (h *PageHandler) listJSON(w http.ResponseWriter, r *http.Request, l *listing) *middleware.AppError {
	items := make([]listItem, 0, len(l.Pages))
	for _, p := range l.Pages {
		items = append(items, listItem{
			Title:       p.Title,
			Description: p.Description,
			UpdatedAt:   isoTime(p.UpdatedAt),
			PublishedAt: isoTime(p.PublishedAt),
		})
	}
	return h.writeJSON(w, http.StatusOK, map[string]interface{}{"pages": items, "next": l.Next})
}

func (h *PageHandler) listAtom(w http.ResponseWriter, r *http.Request, l *listing) *middleware.AppError {
	return h.writeFeed(w, r, l.Title, r.URL.Path, l.Pages)
}

// titlesHandler returns every title readable by the user as JSON.
func (h *PageHandler) titlesHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	titles, err := h.pageService.Titles(r.Context(), middleware.GetUserInfo(r.Context()).User())
	if err != nil {
		return appError(err, "Failed to list titles")
	}
	return h.writeJSON(w, http.StatusOK, titles)
}

// searchHandler finds pages with a title resembling "q". With "redir" set,
// an exact match redirects to the page.
func (h *PageHandler) searchHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	user := middleware.GetUserInfo(ctx).User()
	q := strings.TrimSpace(r.URL.Query().Get("q"))

	titles, err := h.pageService.Titles(ctx, user)
	if err != nil {
		return appError(err, "Failed to search")
	}
	exists := false
	for _, t := range titles {
		if t == q {
			exists = true
			break
		}
	}
	if exists && r.URL.Query().Get("redir") == "1" {
		http.Redirect(w, r, pageURL(q), http.StatusSeeOther)
		return nil
	}

	similar, err := h.pageService.SimilarTitles(ctx, user, q)
	if err != nil {
		return appError(err, "Failed to search")
	}
	if middleware.GetRepresentation(ctx).Format == FormatJSON {
		return h.writeJSON(w, http.StatusOK, similar)
	}
	return h.render(w, r, http.StatusOK, "search.html", map[string]interface{}{
		"Title":   "Search",
		"Query":   q,
		"Exists":  exists,
		"Similar": similar,
	})
}

// queryHandler lists the pages whose structured data matches
// "name::value".
func (h *PageHandler) queryHandler(w http.ResponseWriter, r *http.Request, query string) *middleware.AppError {
	name, value, ok := strings.Cut(query, "::")
	if !ok || name == "" {
		return &middleware.AppError{Message: "A query has the form name::value.", Code: http.StatusBadRequest}
	}
	titles, err := h.pageService.QueryTitles(r.Context(), middleware.GetUserInfo(r.Context()).User(), name, value)
	if err != nil {
		return appError(err, "Failed to run query")
	}
	return titleRepresentations.serve(h, w, r, &titleList{Title: "Query", Query: query, Titles: titles})
}

func (h *PageHandler) titlesHTML(w http.ResponseWriter, r *http.Request, l *titleList) *middleware.AppError {
	return h.render(w, r, http.StatusOK, "titles.html", map[string]interface{}{
		"Title":  l.Title,
		"Query":  l.Query,
		"Titles": l.Titles,
	})
}

func (h *PageHandler) titlesJSON(w http.ResponseWriter, r *http.Request, l *titleList) *middleware.AppError {
	return h.writeJSON(w, http.StatusOK, l.Titles)
}

// relatedHandler lists the pages related to title, best first.
func (h *PageHandler) relatedHandler(w http.ResponseWriter, r *http.Request, title string) *middleware.AppError {
	ctx := r.Context()
	user := middleware.GetUserInfo(ctx).User()
	page, err := h.pageService.ViewPage(ctx, title, user)
	if err != nil {
		return appError(err, "Failed to load page")
	}
	scores, err := h.pageService.LinkScores(ctx, title, user)
	if err != nil {
		return appError(err, "Failed to load related pages")
	}
	return relatedRepresentations.serve(h, w, r, &related{Page: page, Scores: scores})
}

func (h *PageHandler) relatedHTML(w http.ResponseWriter, r *http.Request, rel *related) *middleware.AppError {
	return h.render(w, r, http.StatusOK, "related.html", map[string]interface{}{
		"Title":  "Related to " + rel.Page.Title,
		"Page":   rel.Page,
		"Scores": rel.Scores,
	})
}

type scoreItem struct {
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

func (h *PageHandler) relatedJSON(w http.ResponseWriter, r *http.Request, rel *related) *middleware.AppError {
	items := make([]scoreItem, 0, len(rel.Scores))
	for _, s := range rel.Scores {
		items = append(items, scoreItem{Title: s.Title, Score: s.Score})
	}
	return h.writeJSON(w, http.StatusOK, items)
}
