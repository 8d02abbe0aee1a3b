package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/service"
	"go-wiki-engine/internal/view"
)

// HomeTitle is the page "/" redirects to.
const HomeTitle = "Home"

// PageHandler holds the dependencies for the page handlers.
type PageHandler struct {
	pageService service.PageServicer
	view        *view.View
	log         logger.Logger
	baseURL     string
}

// NewPageHandler creates a new PageHandler with the given dependencies.
// baseURL is the absolute URL of the site, used in feeds.
func NewPageHandler(ps service.PageServicer, v *view.View, log logger.Logger, baseURL string) *PageHandler {
	return &PageHandler{
		pageService: ps,
		view:        v,
		log:         log,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
	}
}

var pageRepresentations = representations[*data.Page]{
	{FormatHTML, ViewDefault}: (*PageHandler).viewHTML,
	{FormatHTML, "edit"}:      (*PageHandler).editHTML,
	{FormatHTML, "bodyonly"}:  (*PageHandler).bodyOnlyHTML,
	{FormatHTML, "history"}:   (*PageHandler).historyHTML,
	{FormatJSON, ViewDefault}: (*PageHandler).pageJSON,
	{FormatJSON, "history"}:   (*PageHandler).historyJSON,
	{FormatText, ViewDefault}: (*PageHandler).pageText,
	{FormatAtom, ViewDefault}: (*PageHandler).postsAtom,
}

// titleParam returns the page title addressed by the wildcard of the route.
func titleParam(r *http.Request) string {
	return content.PathToTitle(chi.URLParam(r, "*"))
}

// pageURL returns the local URL of title.
func pageURL(title string) string {
	return "/" + content.TitleToPath(title)
}

// render executes a template with the data every layout expects. The
// template is executed before status is written, so a failing template
// still produces an error page.
func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]interface{}) *middleware.AppError {
	data["Site"] = h.pageService.SiteConfig(r.Context())
	data["UserInfo"] = middleware.GetUserInfo(r.Context())
	if _, ok := data["Title"]; !ok {
		data["Title"] = ""
	}
	var buf bytes.Buffer
	if err := h.view.Render(&buf, name, data); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render " + name, Code: http.StatusInternalServerError}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
	return nil
}

func (h *PageHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) *middleware.AppError {
	b, err := json.Marshal(v)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to encode response", Code: http.StatusInternalServerError}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(b)
	return nil
}

// getHandler serves every GET below "/" that is not a special page. Titles
// starting with '+' list related pages, titles starting with '=' run a
// structured-data query.
func (h *PageHandler) getHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	raw := chi.URLParam(r, "*")
	switch {
	case raw == "":
		http.Redirect(w, r, pageURL(HomeTitle), http.StatusFound)
		return nil
	case strings.HasPrefix(raw, "+"):
		return h.relatedHandler(w, r, content.PathToTitle(raw[1:]))
	case strings.HasPrefix(raw, "="):
		return h.queryHandler(w, r, content.PathToTitle(raw[1:]))
	}

	title := titleParam(r)
	page, err := h.pageService.ViewPage(r.Context(), title, middleware.GetUserInfo(r.Context()).User())
	if err != nil {
		return appError(err, "Failed to load page")
	}
	return pageRepresentations.serve(h, w, r, page)
}

// viewHTML renders a page, or one of its past revisions when the "rev"
// parameter is set. Pages with a redirect send the client to the target
// unless "noredirect" is set.
func (h *PageHandler) viewHTML(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	ctx := r.Context()
	user := middleware.GetUserInfo(ctx).User()
	q := r.URL.Query()

	if page.Redirect != "" && q.Get("noredirect") == "" && q.Get("rev") == "" {
		http.Redirect(w, r, pageURL(page.Redirect), http.StatusSeeOther)
		return nil
	}

	d := map[string]interface{}{
		"Title":    page.Title,
		"Page":     page,
		"CanWrite": h.pageService.CanWrite(ctx, page, user),
	}

	if v := q.Get("rev"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return &middleware.AppError{Error: err, Message: "Invalid revision number", Code: http.StatusBadRequest}
		}
		rev, err := h.pageService.Revision(ctx, page.Title, n, user)
		if err != nil {
			return appError(err, "Failed to load revision")
		}
		if rev == nil {
			return &middleware.AppError{Message: "No such revision", Code: http.StatusNotFound}
		}
		body, err := h.pageService.Preview(ctx, page.Title, rev.Body)
		if err != nil {
			return appError(err, "Failed to render revision")
		}
		d["Body"] = body
		d["Revision"] = rev.Revision
		return h.render(w, r, http.StatusOK, "view.html", d)
	}

	body, err := h.pageService.RenderPage(ctx, page)
	if err != nil {
		return appError(err, "Failed to render page")
	}
	d["Body"] = body

	posts, err := h.pageService.Posts(ctx, page.Title, user, 0, 10)
	if err != nil {
		return appError(err, "Failed to load posts")
	}
	d["Posts"] = posts

	if page.Revision == 0 {
		similar, err := h.pageService.SimilarTitles(ctx, user, page.Title)
		if err != nil {
			return appError(err, "Failed to find similar pages")
		}
		d["Similar"] = similar
	}

	status := http.StatusOK
	if page.Revision == 0 {
		status = http.StatusNotFound
	}
	return h.render(w, r, status, "view.html", d)
}

// editHTML shows the edit form. A "body" parameter prefills the form.
func (h *PageHandler) editHTML(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	ctx := r.Context()
	if !h.pageService.CanWrite(ctx, page, middleware.GetUserInfo(ctx).User()) {
		return &middleware.AppError{Message: "You are not allowed to edit this page.", Code: http.StatusForbidden}
	}
	body := page.Body
	if v := r.URL.Query().Get("body"); v != "" {
		body = v
	}
	return h.render(w, r, http.StatusOK, "edit.html", map[string]interface{}{
		"Title":        page.Title,
		"Page":         page,
		"Body":         body,
		"BaseRevision": page.Revision,
	})
}

func (h *PageHandler) bodyOnlyHTML(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	body, err := h.pageService.RenderPage(r.Context(), page)
	if err != nil {
		return appError(err, "Failed to render page")
	}
	var buf bytes.Buffer
	if err := h.view.Render(&buf, "bodyonly.html", map[string]interface{}{"Body": body}); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render page", Code: http.StatusInternalServerError}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
	return nil
}

func (h *PageHandler) historyHTML(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	revs, err := h.pageService.Revisions(r.Context(), page.Title, middleware.GetUserInfo(r.Context()).User())
	if err != nil {
		return appError(err, "Failed to load history")
	}
	return h.render(w, r, http.StatusOK, "history.html", map[string]interface{}{
		"Title":     page.Title,
		"Page":      page,
		"Revisions": revs,
	})
}

// pageDocument is the JSON form of a page.
type pageDocument struct {
	Title       string       `json:"title"`
	Revision    int          `json:"revision"`
	Modifier    string       `json:"modifier,omitempty"`
	UpdatedAt   *time.Time   `json:"updated_at"`
	Body        string       `json:"body"`
	Description string       `json:"description"`
	ACLRead     string       `json:"acl_read"`
	ACLWrite    string       `json:"acl_write"`
	Redirect    string       `json:"redirect,omitempty"`
	Inlinks     data.Links   `json:"inlinks"`
	Outlinks    data.Links   `json:"outlinks"`
	Data        content.Data `json:"data,omitempty"`
}

func (h *PageHandler) pageJSON(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	d, err := h.pageService.PageData(r.Context(), page)
	if err != nil {
		return appError(err, "Failed to read structured data")
	}
	doc := pageDocument{
		Title:       page.Title,
		Revision:    page.Revision,
		UpdatedAt:   page.UpdatedAt,
		Body:        page.Body,
		Description: page.Description,
		ACLRead:     page.ACLRead,
		ACLWrite:    page.ACLWrite,
		Redirect:    page.Redirect,
		Inlinks:     page.Inlinks,
		Outlinks:    page.Outlinks,
		Data:        d,
	}
	if page.Modifier != nil {
		doc.Modifier = *page.Modifier
	}
	status := http.StatusOK
	if page.Revision == 0 {
		status = http.StatusNotFound
	}
	return h.writeJSON(w, status, doc)
}

type revisionDocument struct {
	Revision  int       `json:"revision"`
	Modifier  string    `json:"modifier,omitempty"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *PageHandler) historyJSON(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	revs, err := h.pageService.Revisions(r.Context(), page.Title, middleware.GetUserInfo(r.Context()).User())
	if err != nil {
		return appError(err, "Failed to load history")
	}
	docs := make([]revisionDocument, 0, len(revs))
	for _, rev := range revs {
		doc := revisionDocument{Revision: rev.Revision, Comment: rev.Comment, CreatedAt: rev.CreatedAt}
		if rev.Modifier != nil {
			doc.Modifier = *rev.Modifier
		}
		docs = append(docs, doc)
	}
	return h.writeJSON(w, http.StatusOK, docs)
}

func (h *PageHandler) pageText(w http.ResponseWriter, r *http.Request, page *data.Page) *middleware.AppError {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if page.Revision == 0 {
		w.WriteHeader(http.StatusNotFound)
	}
	w.Write([]byte(page.Body))
	return nil
}

// putHandler saves a new body. With "preview" set, the body is rendered and
// nothing is stored.
func (h *PageHandler) putHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	title := titleParam(r)
	if err := r.ParseForm(); err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid form", Code: http.StatusBadRequest}
	}
	body := r.FormValue("body")

	if r.FormValue("preview") == "1" {
		html, err := h.pageService.Preview(ctx, title, body)
		if err != nil {
			return appError(err, "Failed to render preview")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
		return nil
	}

	base, err := strconv.Atoi(r.FormValue("revision"))
	if err != nil {
		base = 0
	}
	user := middleware.GetUserInfo(ctx).User()
	res, err := h.pageService.Propose(ctx, service.ProposeRequest{
		Title:        title,
		Body:         body,
		BaseRevision: base,
		Comment:      r.FormValue("comment"),
		User:         user,
	})
	var conflict *service.ConflictError
	if errors.As(err, &conflict) && isHTML(r) {
		return h.conflictHTML(w, r, conflict)
	}
	if err != nil {
		return appError(err, "Failed to save page")
	}

	h.log.With(map[string]interface{}{"title": title, "changed": res.Changed, "merged": res.Merged}).Debug("Edit accepted")
	http.Redirect(w, r, redirectTarget(r, res.Page.Title), http.StatusSeeOther)
	return nil
}

// conflictHTML shows the merged text with its conflict markers for the
// editor to resolve.
func (h *PageHandler) conflictHTML(w http.ResponseWriter, r *http.Request, conflict *service.ConflictError) *middleware.AppError {
	ctx := r.Context()
	page, err := h.pageService.ViewPage(ctx, conflict.Title, middleware.GetUserInfo(ctx).User())
	if err != nil {
		return appError(err, "Failed to load page")
	}
	return h.render(w, r, http.StatusConflict, "edit.html", map[string]interface{}{
		"Title":        page.Title,
		"Page":         page,
		"Body":         conflict.Merged,
		"BaseRevision": page.Revision,
		"Conflict":     conflict,
	})
}

// postHandler accepts HTML forms. A "_method" of PUT replaces the body,
// otherwise the posted body is appended to the current one.
func (h *PageHandler) postHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	if err := r.ParseForm(); err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid form", Code: http.StatusBadRequest}
	}
	if strings.EqualFold(r.PostFormValue("_method"), http.MethodPut) {
		return h.putHandler(w, r)
	}

	ctx := r.Context()
	user := middleware.GetUserInfo(ctx).User()
	page, err := h.pageService.ViewPage(ctx, titleParam(r), user)
	if err != nil {
		return appError(err, "Failed to load page")
	}
	addition := r.PostFormValue("body")
	if strings.TrimSpace(addition) == "" {
		return &middleware.AppError{Message: "Nothing to append.", Code: http.StatusBadRequest}
	}
	body := addition
	if page.Body != "" {
		body = strings.TrimRight(page.Body, "\n") + "\n\n" + addition
	}
	res, err := h.pageService.Propose(ctx, service.ProposeRequest{
		Title:        page.Title,
		Body:         body,
		BaseRevision: page.Revision,
		Comment:      r.PostFormValue("comment"),
		User:         user,
	})
	if err != nil {
		return appError(err, "Failed to save page")
	}
	http.Redirect(w, r, redirectTarget(r, res.Page.Title), http.StatusSeeOther)
	return nil
}

func (h *PageHandler) deleteHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	if err := h.pageService.DeletePage(ctx, titleParam(r), middleware.GetUserInfo(ctx).User()); err != nil {
		return appError(err, "Failed to delete page")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func isHTML(r *http.Request) bool {
	f := middleware.GetRepresentation(r.Context()).Format
	return f == "" || f == FormatHTML
}

// redirectTarget keeps a non-HTML format across the redirect after a save.
func redirectTarget(r *http.Request, title string) string {
	target := pageURL(title)
	if !isHTML(r) {
		target += "?" + url.Values{"_type": {middleware.GetRepresentation(r.Context()).Format}}.Encode()
	}
	return target
}
