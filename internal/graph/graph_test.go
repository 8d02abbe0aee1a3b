package graph

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/lock"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/metrics"
)

// --- Mocks ---

// memStore is an in-memory PageStore. Saves of titles listed in failSave
// fail until the entry is removed.
type memStore struct {
	mu          sync.Mutex
	pages       map[string]*data.Page
	failSave    map[string]bool
	saveCalled  int
	deleteCalls []string
}

func newMemStore() *memStore {
	return &memStore{pages: map[string]*data.Page{}, failSave: map[string]bool{}}
}

func clonePage(p *data.Page) *data.Page {
	c := *p
	c.Inlinks = p.Inlinks.Clone()
	c.Outlinks = p.Outlinks.Clone()
	c.RelatedLinks = p.RelatedLinks.Clone()
	return &c
}

func (s *memStore) GetPageByTitle(ctx context.Context, title string) (*data.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[title]
	if !ok {
		return nil, nil
	}
	return clonePage(p), nil
}

func (s *memStore) SavePage(ctx context.Context, page *data.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalled++
	if s.failSave[page.Title] {
		return errors.New("disk full")
	}
	s.pages[page.Title] = clonePage(page)
	return nil
}

func (s *memStore) DeletePage(ctx context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, title)
	delete(s.pages, title)
	return nil
}

func (s *memStore) put(p *data.Page) {
	ensureMaps(p)
	s.pages[p.Title] = clonePage(p)
}

func (s *memStore) get(title string) *data.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[title]
}

type memQueue struct {
	mu   sync.Mutex
	jobs []*data.ReconcileJob
	seq  int
}

func (q *memQueue) Enqueue(ctx context.Context, job *data.ReconcileJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	job.ID = string(rune('a' + q.seq))
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Pending(ctx context.Context, limit int) ([]*data.ReconcileJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > len(q.jobs) {
		limit = len(q.jobs)
	}
	return append([]*data.ReconcileJob(nil), q.jobs[:limit]...), nil
}

func (q *memQueue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	return nil
}

func (q *memQueue) Fail(ctx context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == id {
			j.Attempts++
			j.LastError = cause.Error()
		}
	}
	return nil
}

type stubRebuilder struct {
	titles      []string
	republished []string
}

func (r *stubRebuilder) Reindex(ctx context.Context, title string) error {
	r.titles = append(r.titles, title)
	return nil
}

func (r *stubRebuilder) Republish(ctx context.Context, title, target string) error {
	r.republished = append(r.republished, title+"@"+target)
	return nil
}

// --- Helpers ---

func setupGraphTest(t *testing.T) (*Maintainer, *memStore, *memQueue) {
	t.Helper()
	store := newMemStore()
	queue := &memQueue{}
	m := NewMaintainer(NewRecords(store, lock.New()), queue, logger.Nop(), metrics.NewCollector("test"))
	return m, store, queue
}

func authored(title string, outlinks data.Links) *data.Page {
	p := data.NewPlaceholder(title)
	p.Revision = 1
	p.Body = "body of " + title
	if outlinks != nil {
		p.Outlinks = outlinks
	}
	return p
}

// applyEdit stores a new revision of title with outlinks and applies the
// change the way the page service does.
func applyEdit(m *Maintainer, title, redirect string, outlinks data.Links) ([]string, error) {
	ctx := context.Background()
	resolved, err := m.ResolveLinks(ctx, title, outlinks)
	if err != nil {
		return nil, err
	}
	var old data.Links
	var oldRedirect string
	_, err = m.Records().Mutate(ctx, title, func(p *data.Page) bool {
		old, oldRedirect = p.Outlinks.Clone(), p.Redirect
		p.Revision++
		p.Redirect = redirect
		p.Outlinks = resolved
		return true
	})
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, Change{
		Title:       title,
		OldRedirect: oldRedirect,
		NewRedirect: redirect,
		OldOutlinks: old,
		NewOutlinks: resolved,
	}), nil
}

func edit(t *testing.T, m *Maintainer, title, redirect string, outlinks data.Links) []string {
	t.Helper()
	touched, err := applyEdit(m, title, redirect, outlinks)
	if err != nil {
		t.Fatalf("edit of %q failed: %v", title, err)
	}
	return touched
}

// assertSymmetric checks that every outlink has the matching inlink and
// that no inlink lacks its outlink.
func assertSymmetric(t *testing.T, store *memStore) {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	for title, p := range store.pages {
		for rel, targets := range p.Outlinks {
			for _, target := range targets {
				tp, ok := store.pages[target]
				if !ok || !tp.Inlinks.Has(rel, title) {
					t.Errorf("outlink %s -[%s]-> %s has no matching inlink", title, rel, target)
				}
			}
		}
		for rel, sources := range p.Inlinks {
			for _, source := range sources {
				sp, ok := store.pages[source]
				if !ok || !sp.Outlinks.Has(rel, title) {
					t.Errorf("inlink %s <-[%s]- %s has no matching outlink", title, rel, source)
				}
			}
		}
	}
}

const rel = "Article/relatedTo"

// --- Tests ---

func TestApply_CreatesPlaceholdersWithInlinks(t *testing.T) {
	m, store, _ := setupGraphTest(t)

	touched := edit(t, m, "A", "", data.Links{rel: {"B", "C"}})

	if diff := cmp.Diff([]string{"B", "C"}, touched); diff != "" {
		t.Errorf("touched titles mismatch (-want +got):\n%s", diff)
	}
	b := store.get("B")
	if b == nil || b.Revision != 0 || !b.Inlinks.Has(rel, "A") {
		t.Fatalf("expected placeholder B with inlink from A, got %+v", b)
	}
	assertSymmetric(t, store)
}

func TestApply_RemovedLinkPurgesPlaceholderButKeepsRealPage(t *testing.T) {
	m, store, _ := setupGraphTest(t)
	store.put(authored("C", nil))

	edit(t, m, "A", "", data.Links{rel: {"B", "C"}})
	edit(t, m, "A", "", data.Links{})

	if store.get("B") != nil {
		t.Error("expected placeholder B to be purged")
	}
	c := store.get("C")
	if c == nil {
		t.Fatal("expected real page C to survive")
	}
	if c.Inlinks.Len() != 0 {
		t.Errorf("expected C to lose its inlink, got %v", c.Inlinks)
	}
	assertSymmetric(t, store)
}

func TestApply_PurgeCascadesThroughPlaceholderOutlinks(t *testing.T) {
	m, store, _ := setupGraphTest(t)

	// P is a placeholder still holding an outlink to Q, left behind by an
	// interrupted update. Once A stops linking to P, P and then Q go away.
	p := data.NewPlaceholder("P")
	p.Inlinks.Add(rel, "A")
	p.Outlinks.Add(rel, "Q")
	store.put(p)
	q := data.NewPlaceholder("Q")
	q.Inlinks.Add(rel, "P")
	store.put(q)
	store.put(authored("A", data.Links{rel: {"P"}}))

	touched := m.Apply(context.Background(), Change{
		Title:       "A",
		OldOutlinks: data.Links{rel: {"P"}},
		NewOutlinks: data.Links{},
	})

	if store.get("P") != nil || store.get("Q") != nil {
		t.Errorf("expected P and Q to be purged, store has %v", store.pages)
	}
	if diff := cmp.Diff([]string{"P", "Q"}, touched); diff != "" {
		t.Errorf("touched titles mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_RelationsAreTrackedSeparately(t *testing.T) {
	m, store, _ := setupGraphTest(t)
	author := "Book/author"

	edit(t, m, "Dune", "", data.Links{rel: {"Frank"}, author: {"Frank"}})
	edit(t, m, "Dune", "", data.Links{author: {"Frank"}})

	frank := store.get("Frank")
	if frank == nil {
		t.Fatal("expected Frank to be kept by the author link")
	}
	want := data.Links{author: {"Dune"}}
	if diff := cmp.Diff(want, frank.Inlinks); diff != "" {
		t.Errorf("inlinks mismatch (-want +got):\n%s", diff)
	}
	assertSymmetric(t, store)
}

func TestResolveLinks(t *testing.T) {
	m, store, _ := setupGraphTest(t)
	r1 := authored("Old", nil)
	r1.Redirect = "Middle"
	store.put(r1)
	r2 := authored("Middle", nil)
	r2.Redirect = "New"
	store.put(r2)
	loopA := authored("LoopA", nil)
	loopA.Redirect = "LoopB"
	store.put(loopA)
	loopB := authored("LoopB", nil)
	loopB.Redirect = "LoopA"
	store.put(loopB)

	got, err := m.ResolveLinks(context.Background(), "New", data.Links{
		rel:           {"Old", "Plain", "LoopA"},
		"Book/author": {"Middle"},
	})
	if err != nil {
		t.Fatalf("ResolveLinks failed: %v", err)
	}

	// Links that resolve to the page itself are dropped.
	want := data.Links{rel: {"LoopA", "Plain"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolved links mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_DetectsCycle(t *testing.T) {
	_, store, _ := setupGraphTest(t)
	records := NewRecords(store, lock.New())
	a := authored("A", nil)
	a.Redirect = "B"
	store.put(a)

	var cycle *CircularRedirectError
	if err := records.CheckRedirect(context.Background(), "B", "A"); !errors.As(err, &cycle) {
		t.Fatalf("expected CircularRedirectError, got %v", err)
	}
	if diff := cmp.Diff([]string{"B", "A", "B"}, cycle.Chain); diff != "" {
		t.Errorf("chain mismatch (-want +got):\n%s", diff)
	}
	if err := records.CheckRedirect(context.Background(), "C", "A"); err != nil {
		t.Errorf("expected no cycle for C -> A, got %v", err)
	}

	final, err := records.Resolve(context.Background(), "A")
	if err != nil || final != "B" {
		t.Errorf("expected A to resolve to B, got %q, %v", final, err)
	}
}

func TestApply_RedirectMovesInlinks(t *testing.T) {
	m, store, _ := setupGraphTest(t)
	store.put(authored("Target", nil))

	edit(t, m, "Linker", "", data.Links{rel: {"Source"}})
	edit(t, m, "Source", "Target", data.Links{})

	linker := store.get("Linker")
	if diff := cmp.Diff(data.Links{rel: {"Target"}}, linker.Outlinks); diff != "" {
		t.Errorf("linker outlinks mismatch (-want +got):\n%s", diff)
	}
	if !store.get("Target").Inlinks.Has(rel, "Linker") {
		t.Error("expected Target to receive the inlink of Linker")
	}
	if n := store.get("Source").Inlinks.Len(); n != 0 {
		t.Errorf("expected Source to lose its inlinks, got %d", n)
	}
	assertSymmetric(t, store)

	// Removing the redirect pulls the inlinks back.
	edit(t, m, "Source", "", data.Links{})
	if !store.get("Source").Inlinks.Has(rel, "Linker") {
		t.Error("expected Source to get its inlink back")
	}
	assertSymmetric(t, store)
}

func TestApply_FailedStepIsQueuedAndReconciled(t *testing.T) {
	m, store, queue := setupGraphTest(t)
	store.failSave["B"] = true

	touched := edit(t, m, "A", "", data.Links{rel: {"B", "C"}})

	if diff := cmp.Diff([]string{"C"}, touched); diff != "" {
		t.Errorf("touched titles mismatch (-want +got):\n%s", diff)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.Op != data.OpAddInlink || job.Target != "B" || job.Other != "A" || job.LastError == "" {
		t.Errorf("unexpected job: %+v", job)
	}

	// Still failing: the job stays and counts an attempt.
	res, err := m.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Failed != 1 || queue.jobs[0].Attempts != 1 {
		t.Errorf("expected one failed attempt, got %+v, attempts %d", res, queue.jobs[0].Attempts)
	}

	delete(store.failSave, "B")
	res, err = m.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Succeeded != 1 || len(queue.jobs) != 0 {
		t.Errorf("expected the job to complete, got %+v, %d left", res, len(queue.jobs))
	}
	if diff := cmp.Diff([]string{"B"}, res.Touched); diff != "" {
		t.Errorf("touched titles mismatch (-want +got):\n%s", diff)
	}
	assertSymmetric(t, store)
}

func TestReconcile_ReplayIsIdempotent(t *testing.T) {
	m, store, queue := setupGraphTest(t)
	edit(t, m, "A", "", data.Links{rel: {"B"}})
	saves := store.saveCalled

	queue.Enqueue(context.Background(), &data.ReconcileJob{Op: data.OpAddInlink, Target: "B", Relation: rel, Other: "A"})
	res, err := m.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Succeeded != 1 || len(res.Touched) != 0 {
		t.Errorf("expected a no-op success, got %+v", res)
	}
	if store.saveCalled != saves {
		t.Errorf("expected no extra save, got %d more", store.saveCalled-saves)
	}
}

func TestReconcile_Reindex(t *testing.T) {
	m, _, queue := setupGraphTest(t)
	queue.Enqueue(context.Background(), &data.ReconcileJob{Op: data.OpReindex, Target: "A"})

	// Without a rebuilder the job fails and stays queued.
	res, _ := m.Reconcile(context.Background(), 10)
	if res.Failed != 1 {
		t.Fatalf("expected reindex without rebuilder to fail, got %+v", res)
	}

	r := &stubRebuilder{}
	m.SetRebuilder(r)
	res, _ = m.Reconcile(context.Background(), 10)
	if res.Succeeded != 1 || len(r.titles) != 1 || r.titles[0] != "A" {
		t.Errorf("expected A to be reindexed, got %+v, %v", res, r.titles)
	}
}

func TestReconcile_Republish(t *testing.T) {
	m, _, queue := setupGraphTest(t)
	r := &stubRebuilder{}
	m.SetRebuilder(r)
	queue.Enqueue(context.Background(), &data.ReconcileJob{Op: data.OpRepublish, Target: "Post", Other: "Blog"})

	res, err := m.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Succeeded != 1 {
		t.Errorf("expected one success, got %+v", res)
	}
	if diff := cmp.Diff([]string{"Post@Blog"}, r.republished); diff != "" {
		t.Errorf("republished mismatch (-want +got):\n%s", diff)
	}
}

func TestMutate_ConcurrentInlinksAreNotLost(t *testing.T) {
	m, store, _ := setupGraphTest(t)
	linkers := []string{"L1", "L2", "L3", "L4", "L5", "L6", "L7", "L8"}

	var wg sync.WaitGroup
	for _, l := range linkers {
		wg.Add(1)
		go func(title string) {
			defer wg.Done()
			if _, err := applyEdit(m, title, "", data.Links{rel: {"Hub"}}); err != nil {
				t.Errorf("edit of %q failed: %v", title, err)
			}
		}(l)
	}
	wg.Wait()

	got := store.get("Hub").Inlinks[rel]
	sort.Strings(got)
	if diff := cmp.Diff(linkers, got); diff != "" {
		t.Errorf("hub inlinks mismatch (-want +got):\n%s", diff)
	}
	assertSymmetric(t, store)
}
