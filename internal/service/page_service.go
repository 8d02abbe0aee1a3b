package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/graph"
	"go-wiki-engine/internal/links"
	"go-wiki-engine/internal/lock"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/markdown"
	"go-wiki-engine/internal/merge"
	"go-wiki-engine/internal/metrics"
	"go-wiki-engine/internal/recommend"
	"go-wiki-engine/internal/toc"
)

// DescriptionLength bounds the generated page description.
const DescriptionLength = 200

// PageServicer defines the interface for interacting with pages.
type PageServicer interface {
	Propose(ctx context.Context, req ProposeRequest) (*ProposeResult, error)
	ViewPage(ctx context.Context, title string, user *acl.User) (*data.Page, error)
	RenderPage(ctx context.Context, page *data.Page) (string, error)
	Preview(ctx context.Context, title, body string) (string, error)
	Hashbangs(ctx context.Context, page *data.Page) ([]string, error)
	PageData(ctx context.Context, page *data.Page) (content.Data, error)
	DeletePage(ctx context.Context, title string, user *acl.User) error
	Revisions(ctx context.Context, title string, user *acl.User) ([]*data.Revision, error)
	Revision(ctx context.Context, title string, revision int, user *acl.User) (*data.Revision, error)
	Changes(ctx context.Context, user *acl.User, offset, limit int) ([]*data.Page, error)
	Posts(ctx context.Context, target string, user *acl.User, offset, limit int) ([]*data.Page, error)
	Index(ctx context.Context, user *acl.User) ([]*data.Page, error)
	Titles(ctx context.Context, user *acl.User) ([]string, error)
	QueryTitles(ctx context.Context, user *acl.User, name, value string) ([]string, error)
	SimilarTitles(ctx context.Context, user *acl.User, title string) (content.SimilarTitles, error)
	LinkScores(ctx context.Context, title string, user *acl.User) ([]recommend.Scored, error)
	RefreshRecommendations(ctx context.Context, iterations int, recentOnly bool) ([]string, error)
	Reconcile(ctx context.Context, limit int) (graph.ReconcileResult, error)
	Reindex(ctx context.Context, title string) error
	SiteConfig(ctx context.Context) *SiteConfig
	CanWrite(ctx context.Context, page *data.Page, user *acl.User) bool
}

// Deps bundles the collaborators of a PageService.
type Deps struct {
	Pages       PageRepository
	Revisions   RevisionStore
	Index       IndexStore
	Jobs        graph.JobQueue
	Cache       *cache.Coordinator
	Schema      Schema
	Renderer    markdown.Renderer
	Locks       *lock.Keyed
	Log         logger.Logger
	Metrics     *metrics.Collector
	Defaults    acl.Rules
	MaxDistance int
	Concurrency int
	// Now defaults to time.Now.
	Now func() time.Time
}

// PageService provides business logic for managing pages.
type PageService struct {
	pages       PageRepository
	revisions   RevisionStore
	index       IndexStore
	records     *graph.Records
	graph       *graph.Maintainer
	recommender *recommend.Recommender
	cache       *cache.Coordinator
	schema      Schema
	renderer    markdown.Renderer
	locks       *lock.Keyed
	log         logger.Logger
	metrics     *metrics.Collector
	defaults    acl.Rules
	now         func() time.Time
}

var _ PageServicer = (*PageService)(nil)

// NewPageService wires a PageService and the graph components it drives.
func NewPageService(d Deps) *PageService {
	if d.Locks == nil {
		d.Locks = lock.New()
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	records := graph.NewRecords(d.Pages, d.Locks)
	maintainer := graph.NewMaintainer(records, d.Jobs, d.Log.With(map[string]interface{}{"component": "graph"}), d.Metrics)
	s := &PageService{
		pages:     d.Pages,
		revisions: d.Revisions,
		index:     d.Index,
		records:   records,
		graph:     maintainer,
		recommender: recommend.New(records, d.Pages, d.Log.With(map[string]interface{}{"component": "recommend"}),
			d.Metrics, d.MaxDistance, d.Concurrency, recommend.WithClock(d.Now)),
		cache:    d.Cache,
		schema:   d.Schema,
		renderer: d.Renderer,
		locks:    d.Locks,
		log:      d.Log,
		metrics:  d.Metrics,
		defaults: d.Defaults,
		now:      d.Now,
	}
	maintainer.SetRebuilder(s)
	return s
}

// ProposeRequest is an edit of one page.
type ProposeRequest struct {
	Title string
	Body  string
	// BaseRevision is the revision the editor started from. An older base
	// is merged with the current text.
	BaseRevision int
	Comment      string
	User         *acl.User
	// ForceUpdate saves an unchanged body and leaves updated_at alone.
	ForceUpdate bool
	// NoRevision updates the page without appending to its history.
	NoRevision bool
}

// ProposeResult describes an accepted edit.
type ProposeResult struct {
	Page    *data.Page
	Changed bool
	// Merged is set when the body was merged with a newer revision.
	Merged bool
	// Touched lists the other pages whose rows changed.
	Touched []string
}

// edit is a validated proposal ready to be stored.
type edit struct {
	body     string
	parsed   *content.Parsed
	typePath string
	outlinks data.Links
}

// Propose validates and stores a new body of req.Title. Validation happens
// before anything is written; failures of the derived updates that follow
// the save are logged and queued, never returned.
func (s *PageService) Propose(ctx context.Context, req ProposeRequest) (*ProposeResult, error) {
	start := s.now()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, &content.ValidationError{Problems: []string{"title must not be empty"}}
	}
	user := req.User
	if user == nil {
		user = acl.Anonymous()
	}

	unlock := s.locks.Lock(lock.Edit + title)
	defer unlock()

	current, err := s.records.Load(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", title, err)
	}
	if !s.rules(ctx, current).CanWrite(user) {
		return nil, denied(title, "write", user)
	}

	body, merged, err := s.reconcileBase(ctx, current, req)
	if err != nil {
		s.metrics.RecordEdit("conflict", time.Since(start))
		return nil, err
	}
	if !req.ForceUpdate && body == current.Body {
		s.metrics.RecordEdit("unchanged", time.Since(start))
		return &ProposeResult{Page: current, Merged: merged}, nil
	}

	e, err := s.validate(ctx, title, body)
	if err != nil {
		s.metrics.RecordEdit("invalid", time.Since(start))
		return nil, err
	}

	page, old, err := s.store(ctx, title, e, req, user)
	if err != nil {
		s.metrics.RecordEdit("error", time.Since(start))
		return nil, err
	}

	touched := s.propagate(ctx, page, old, e)
	s.metrics.RecordEdit("saved", time.Since(start))
	s.log.With(map[string]interface{}{
		"title":    title,
		"revision": page.Revision,
		"touched":  len(touched),
		"merged":   merged,
	}).Info("Page updated")

	return &ProposeResult{Page: page, Changed: true, Merged: merged, Touched: touched}, nil
}

// reconcileBase returns the body to store: req.Body when it is based on
// the current revision, or the three-way merge of the current body (mine)
// with it (theirs). ForceUpdate does not bypass the merge.
func (s *PageService) reconcileBase(ctx context.Context, current *data.Page, req ProposeRequest) (string, bool, error) {
	switch {
	case req.BaseRevision > current.Revision:
		return "", false, &StaleRevisionError{Title: current.Title, Base: req.BaseRevision, Current: current.Revision}
	case req.BaseRevision == current.Revision:
		return req.Body, false, nil
	}

	baseBody := ""
	if req.BaseRevision > 0 {
		rev, err := s.revisions.GetRevision(ctx, current.Title, req.BaseRevision)
		if err != nil {
			return "", false, fmt.Errorf("failed to load base revision: %w", err)
		}
		if rev != nil {
			baseBody = rev.Body
		}
	}
	merged, conflict := merge.ThreeWay(baseBody, current.Body, req.Body)
	if conflict {
		return "", false, &ConflictError{
			Title:    current.Title,
			Base:     req.BaseRevision,
			Provided: req.Body,
			Merged:   merged,
		}
	}
	return merged, true, nil
}

// validate parses body and checks every rule that must hold before it may
// be stored.
func (s *PageService) validate(ctx context.Context, title, body string) (*edit, error) {
	if merge.HasConflictMarkers(body) {
		return nil, &content.ValidationError{Problems: []string{"unresolved conflict markers"}}
	}
	parsed, err := content.Parse(s.schema, title, body)
	if err != nil {
		return nil, err
	}
	md := parsed.Metadata
	if err := s.records.CheckRedirect(ctx, title, md[content.KeyRedirect]); err != nil {
		return nil, err
	}
	if err := toc.Validate(s.renderer.Render(content.RemoveDataBlock(content.RemoveMetadata(body)))); err != nil {
		return nil, err
	}
	typePath, err := s.schema.TypePath(parsed.ItemType())
	if err != nil {
		return nil, err
	}
	if title == ConfigTitle {
		if _, err := ParseSiteConfig(body, s.defaults); err != nil {
			return nil, &content.ValidationError{Problems: []string{err.Error()}}
		}
	}

	// Read-restricted pages do not reveal their links to other pages.
	raw := data.Links{}
	if read := acl.Parse(md[content.KeyRead]); len(read) == 0 || !(acl.Rules{Read: read}).Restricted() {
		raw = links.Extract(title, parsed.ItemType(), body, parsed.Data)
	}
	outlinks, err := s.graph.ResolveLinks(ctx, title, raw)
	if err != nil {
		return nil, err
	}
	return &edit{body: body, parsed: parsed, typePath: typePath, outlinks: outlinks}, nil
}

// store saves the content fields of the page and its revision snapshot. It
// returns the saved page and a copy of the page before the edit.
func (s *PageService) store(ctx context.Context, title string, e *edit, req ProposeRequest, user *acl.User) (*data.Page, *data.Page, error) {
	md := e.parsed.Metadata
	now := s.now().UTC()
	var old *data.Page
	res, err := s.records.Mutate(ctx, title, func(p *data.Page) bool {
		snapshot := *p
		snapshot.Outlinks = p.Outlinks.Clone()
		old = &snapshot

		p.Body = e.body
		p.Description = content.MakeDescription(e.body, DescriptionLength)
		p.ACLRead = md[content.KeyRead]
		p.ACLWrite = md[content.KeyWrite]
		p.Comment = req.Comment
		p.ItemtypePath = e.typePath
		p.Redirect = md[content.KeyRedirect]
		p.Outlinks = e.outlinks
		if user.LoggedIn() {
			email := user.Email
			p.Modifier = &email
		}
		if !req.NoRevision || p.Revision == 0 {
			p.Revision++
		}
		if !req.ForceUpdate || p.UpdatedAt == nil {
			p.UpdatedAt = &now
		}
		return true
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save %q: %w", title, err)
	}
	page := res.Page

	if !req.NoRevision || old.Revision == 0 {
		rev := &data.Revision{
			Title:     title,
			Revision:  page.Revision,
			Body:      page.Body,
			Comment:   page.Comment,
			Modifier:  page.Modifier,
			CreatedAt: now,
		}
		if err := s.revisions.SaveRevision(ctx, rev); err != nil {
			return nil, nil, err
		}
	}
	return page, old, nil
}

// propagate brings every derived structure in line with the saved page and
// returns the other titles it touched.
func (s *PageService) propagate(ctx context.Context, page, old *data.Page, e *edit) []string {
	md := e.parsed.Metadata

	pubTouched, err := s.updatePubState(ctx, page.Title, old, md.Has(content.KeyPub), md[content.KeyPub])
	if err != nil {
		s.deferRepublish(ctx, page.Title, err, old.PublishedTo, md[content.KeyPub])
	}

	touched := s.graph.Apply(ctx, graph.Change{
		Title:       page.Title,
		OldRedirect: old.Redirect,
		NewRedirect: page.Redirect,
		OldOutlinks: old.Outlinks,
		NewOutlinks: page.Outlinks,
	})

	s.updateIndex(ctx, page.Title, old, e.parsed.Data)

	all := append(touched, pubTouched...)
	s.invalidate(page.Title, all...)
	if page.Modifier != nil {
		s.cache.AddRecentEditor(*page.Modifier)
	}
	return all
}

func (s *PageService) updateIndex(ctx context.Context, title string, old *data.Page, d content.Data) {
	entries := indexEntries(title, d)
	var err error
	if oldData, perr := s.parseData(title, old); perr == nil && old.Revision > 0 {
		err = s.index.UpdateIndex(ctx, title, indexEntries(title, oldData), entries)
	} else {
		err = s.index.RebuildIndex(ctx, title, entries)
	}
	if err != nil {
		s.graph.Defer(ctx, &data.ReconcileJob{Op: data.OpReindex, Target: title}, err)
	}
}

func (s *PageService) parseData(title string, p *data.Page) (content.Data, error) {
	md, err := content.ParseMetadata(p.Body)
	if err != nil && md == nil {
		return nil, err
	}
	return content.ParseData(s.schema, title, p.Body, md[content.KeySchema])
}

func indexEntries(title string, d content.Data) []data.IndexEntry {
	pairs := d.Pairs()
	entries := make([]data.IndexEntry, 0, len(pairs))
	for _, p := range pairs {
		entries = append(entries, data.IndexEntry{Title: title, Name: p[0], Value: p[1]})
	}
	return entries
}

// Reindex rebuilds the index entries of title from its stored body.
func (s *PageService) Reindex(ctx context.Context, title string) error {
	page, err := s.records.Find(ctx, title)
	if err != nil {
		return err
	}
	if page == nil || page.Revision == 0 {
		return s.index.DeleteByTitle(ctx, title)
	}
	d, err := s.parseData(title, page)
	if err != nil {
		return err
	}
	return s.index.RebuildIndex(ctx, title, indexEntries(title, d))
}

// invalidate drops the cached values of title and of every touched page,
// plus the lists they appear in.
func (s *PageService) invalidate(title string, touched ...string) {
	s.cache.InvalidatePage(title)
	for _, t := range touched {
		s.cache.InvalidatePage(t)
	}
	s.cache.InvalidateLists()
	if title == ConfigTitle {
		s.cache.InvalidateConfig()
	}
}

// DeletePage removes a page and its history. Pages still linked from
// elsewhere fall back to placeholders.
func (s *PageService) DeletePage(ctx context.Context, title string, user *acl.User) error {
	if user == nil {
		user = acl.Anonymous()
	}
	unlock := s.locks.Lock(lock.Edit + title)
	defer unlock()

	page, err := s.records.Find(ctx, title)
	if err != nil {
		return fmt.Errorf("failed to load %q: %w", title, err)
	}
	if page == nil || page.Revision == 0 {
		return nil
	}
	if !user.LoggedIn() || !s.rules(ctx, page).CanWrite(user) {
		return denied(title, "delete", user)
	}
	log := s.log.With(map[string]interface{}{"title": title})

	pubTouched, err := s.updatePubState(ctx, title, page, false, "")
	if err != nil {
		s.deferRepublish(ctx, title, err, page.PublishedTo)
	}

	touched := s.graph.Apply(ctx, graph.Change{
		Title:       title,
		OldRedirect: page.Redirect,
		NewRedirect: page.Redirect,
		OldOutlinks: page.Outlinks,
		NewOutlinks: data.Links{},
	})

	if _, err := s.records.Mutate(ctx, title, func(p *data.Page) bool {
		inlinks := p.Inlinks
		*p = *data.NewPlaceholder(title)
		p.Inlinks = inlinks
		return true
	}); err != nil {
		return fmt.Errorf("failed to delete %q: %w", title, err)
	}

	if err := s.revisions.DeleteRevisions(ctx, title); err != nil {
		log.Error(err, "Failed to delete revisions")
	}
	if err := s.index.DeleteByTitle(ctx, title); err != nil {
		s.graph.Defer(ctx, &data.ReconcileJob{Op: data.OpReindex, Target: title}, err)
	}
	s.invalidate(title, append(touched, pubTouched...)...)
	log.Info("Page deleted")
	return nil
}

// rules returns the effective rules of page under the site defaults.
func (s *PageService) rules(ctx context.Context, page *data.Page) acl.Rules {
	return acl.PageRules(page, s.SiteConfig(ctx).Rules())
}

// CanWrite reports whether user may edit page.
func (s *PageService) CanWrite(ctx context.Context, page *data.Page, user *acl.User) bool {
	return s.rules(ctx, page).CanWrite(user)
}

// ViewPage returns the page titled title, or a placeholder when it does not
// exist yet.
func (s *PageService) ViewPage(ctx context.Context, title string, user *acl.User) (*data.Page, error) {
	page, err := s.records.Load(ctx, title)
	if err != nil {
		return nil, err
	}
	if !s.rules(ctx, page).CanRead(user) {
		return nil, denied(title, "read", user)
	}
	return page, nil
}

// Revisions returns the history of title, newest first.
func (s *PageService) Revisions(ctx context.Context, title string, user *acl.User) ([]*data.Revision, error) {
	if _, err := s.ViewPage(ctx, title, user); err != nil {
		return nil, err
	}
	return s.revisions.ListRevisions(ctx, title)
}

// Revision returns one past revision of title, or nil when it does not exist.
func (s *PageService) Revision(ctx context.Context, title string, revision int, user *acl.User) (*data.Revision, error) {
	if _, err := s.ViewPage(ctx, title, user); err != nil {
		return nil, err
	}
	return s.revisions.GetRevision(ctx, title, revision)
}

// MaxListCount bounds the page size of change and post listings.
const MaxListCount = 50

// Changes returns recently updated pages readable by user.
func (s *PageService) Changes(ctx context.Context, user *acl.User, offset, limit int) ([]*data.Page, error) {
	pages, err := s.pages.ListChanges(ctx, offset, clampCount(limit))
	if err != nil {
		return nil, err
	}
	return s.readable(ctx, pages, user), nil
}

// Posts returns the pages published to target, newest first.
func (s *PageService) Posts(ctx context.Context, target string, user *acl.User, offset, limit int) ([]*data.Page, error) {
	pages, err := s.pages.ListPosts(ctx, target, offset, clampCount(limit))
	if err != nil {
		return nil, err
	}
	return s.readable(ctx, pages, user), nil
}

func clampCount(n int) int {
	if n <= 0 || n > MaxListCount {
		return MaxListCount
	}
	return n
}

func (s *PageService) readable(ctx context.Context, pages []*data.Page, user *acl.User) []*data.Page {
	defaults := s.SiteConfig(ctx).Rules()
	kept := pages[:0]
	for _, p := range pages {
		if acl.PageRules(p, defaults).CanRead(user) {
			kept = append(kept, p)
		}
	}
	return kept
}

// Index returns every authored page readable by user, sorted by title.
// Only the title, rules and update time of each page are loaded.
func (s *PageService) Index(ctx context.Context, user *acl.User) ([]*data.Page, error) {
	pages, err := s.pages.ListTitles(ctx)
	if err != nil {
		return nil, err
	}
	return s.readable(ctx, pages, user), nil
}

// Titles returns every authored title readable by user.
func (s *PageService) Titles(ctx context.Context, user *acl.User) ([]string, error) {
	return s.cache.Titles(user.Key(), func() ([]string, error) {
		pages, err := s.Index(ctx, user)
		if err != nil {
			return nil, err
		}
		titles := make([]string, 0, len(pages))
		for _, p := range pages {
			titles = append(titles, p.Title)
		}
		return titles, nil
	})
}

// QueryTitles returns the titles readable by user whose structured data
// has name = value.
func (s *PageService) QueryTitles(ctx context.Context, user *acl.User, name, value string) ([]string, error) {
	return s.cache.WikiQuery(name+"::"+value, user.Key(), func() ([]string, error) {
		matches, err := s.index.TitlesByProperty(ctx, name, value)
		if err != nil {
			return nil, err
		}
		readable, err := s.Titles(ctx, user)
		if err != nil {
			return nil, err
		}
		allowed := make(map[string]bool, len(readable))
		for _, t := range readable {
			allowed[t] = true
		}
		result := []string{}
		for _, t := range matches {
			if allowed[t] {
				result = append(result, t)
			}
		}
		return result, nil
	})
}

// SimilarTitles returns readable titles resembling title.
func (s *PageService) SimilarTitles(ctx context.Context, user *acl.User, title string) (content.SimilarTitles, error) {
	titles, err := s.Titles(ctx, user)
	if err != nil {
		return content.SimilarTitles{}, err
	}
	return content.FindSimilarTitles(titles, title), nil
}

// LinkScores returns every page related to title, best first.
func (s *PageService) LinkScores(ctx context.Context, title string, user *acl.User) ([]recommend.Scored, error) {
	page, err := s.ViewPage(ctx, title, user)
	if err != nil {
		return nil, err
	}
	return recommend.LinkScoreTable(page), nil
}

// RefreshRecommendations runs the recommender and drops the rendered
// bodies that show the updated suggestions.
func (s *PageService) RefreshRecommendations(ctx context.Context, iterations int, recentOnly bool) ([]string, error) {
	updated, err := s.recommender.Refresh(ctx, iterations, recentOnly)
	for _, t := range updated {
		s.cache.InvalidatePage(t)
	}
	return updated, err
}

// Reconcile retries queued derived updates.
func (s *PageService) Reconcile(ctx context.Context, limit int) (graph.ReconcileResult, error) {
	res, err := s.graph.Reconcile(ctx, limit)
	if len(res.Touched) > 0 {
		for _, t := range res.Touched {
			s.cache.InvalidatePage(t)
		}
		s.cache.InvalidateLists()
	}
	return res, err
}
