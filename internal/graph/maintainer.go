package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/metrics"
)

// JobQueue persists derived updates that failed and must be retried.
type JobQueue interface {
	Enqueue(ctx context.Context, job *data.ReconcileJob) error
	Pending(ctx context.Context, limit int) ([]*data.ReconcileJob, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) error
}

// Rebuilder recomputes the state of a page kept outside the link graph. It
// serves reindex and republish jobs during reconciliation.
type Rebuilder interface {
	Reindex(ctx context.Context, title string) error
	Republish(ctx context.Context, title, target string) error
}

// Maintainer keeps inlinks symmetric with outlinks. Each change is broken
// into idempotent single-record steps; a step that fails is queued and
// retried by Reconcile rather than rolled back.
type Maintainer struct {
	records   *Records
	jobs      JobQueue
	rebuilder Rebuilder
	log       logger.Logger
	metrics   *metrics.Collector
}

// NewMaintainer creates a Maintainer.
func NewMaintainer(records *Records, jobs JobQueue, log logger.Logger, m *metrics.Collector) *Maintainer {
	return &Maintainer{records: records, jobs: jobs, log: log, metrics: m}
}

// SetRebuilder installs the handler for reindex and republish jobs.
func (m *Maintainer) SetRebuilder(r Rebuilder) {
	m.rebuilder = r
}

// Records returns the arena the maintainer writes through.
func (m *Maintainer) Records() *Records {
	return m.records
}

// Change describes a content update of one page.
type Change struct {
	Title       string
	OldRedirect string
	NewRedirect string
	// OldOutlinks are the outlinks stored before the update and NewOutlinks
	// those stored by it, both already resolved.
	OldOutlinks data.Links
	NewOutlinks data.Links
}

// touched collects the titles whose rows were written.
type touched map[string]struct{}

func (t touched) add(title string) { t[title] = struct{}{} }

func (t touched) list() []string {
	titles := make([]string, 0, len(t))
	for title := range t {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles
}

// ResolveLinks maps every outlink target through its redirect chain and
// drops links that end at title itself. A target inside a redirect cycle
// is kept as written.
func (m *Maintainer) ResolveLinks(ctx context.Context, title string, raw data.Links) (data.Links, error) {
	resolved := data.Links{}
	for rel, targets := range raw {
		for _, t := range targets {
			final, err := m.records.Resolve(ctx, t)
			if err != nil {
				var cycle *CircularRedirectError
				if !errors.As(err, &cycle) {
					return nil, err
				}
				m.log.With(map[string]interface{}{"title": title, "target": t}).
					Warn("Outlink target is inside a redirect cycle, linking it directly")
				final = t
			}
			if final != title {
				resolved.Add(rel, final)
			}
		}
	}
	return resolved, nil
}

// Apply propagates a content change to the other pages of the graph and
// returns every title it wrote. Failures are logged and queued; Apply
// itself never fails.
func (m *Maintainer) Apply(ctx context.Context, c Change) []string {
	seen := touched{}
	if c.OldRedirect != c.NewRedirect {
		m.repoint(ctx, c, seen)
	}

	added, removed := c.OldOutlinks.Diff(c.NewOutlinks)
	var work []*data.ReconcileJob
	for _, rel := range added.Relations() {
		for _, t := range added[rel] {
			work = append(work, &data.ReconcileJob{Op: data.OpAddInlink, Target: t, Relation: rel, Other: c.Title})
		}
	}
	for _, rel := range removed.Relations() {
		for _, t := range removed[rel] {
			work = append(work, &data.ReconcileJob{Op: data.OpRemoveInlink, Target: t, Relation: rel, Other: c.Title})
		}
	}
	m.run(ctx, work, seen)
	return seen.list()
}

// repoint moves the inbound links of the redirect source to the new target
// and rewrites the outlinks of every linker accordingly. The source is the
// old redirect target, or the page itself when it did not redirect; the
// target is the new redirect target, or the page itself when the redirect
// was removed.
func (m *Maintainer) repoint(ctx context.Context, c Change, seen touched) {
	source, target := c.Title, c.Title
	if c.OldRedirect != "" {
		source = m.resolveOrSelf(ctx, c.OldRedirect)
	}
	if c.NewRedirect != "" {
		target = m.resolveOrSelf(ctx, c.NewRedirect)
	}
	if source == target {
		return
	}

	page, err := m.records.Find(ctx, source)
	if err != nil {
		m.log.With(map[string]interface{}{"title": c.Title, "source": source}).
			Error(err, "Failed to load redirect source, inlinks stay in place")
		return
	}
	if page == nil || page.Inlinks.Len() == 0 {
		return
	}

	var work []*data.ReconcileJob
	for _, rel := range page.Inlinks.Relations() {
		for _, linker := range page.Inlinks[rel] {
			work = append(work, &data.ReconcileJob{Op: data.OpRemoveOutlink, Target: linker, Relation: rel, Other: source})
			if linker != target {
				work = append(work,
					&data.ReconcileJob{Op: data.OpAddOutlink, Target: linker, Relation: rel, Other: target},
					&data.ReconcileJob{Op: data.OpAddInlink, Target: target, Relation: rel, Other: linker},
				)
			}
			work = append(work, &data.ReconcileJob{Op: data.OpRemoveInlink, Target: source, Relation: rel, Other: linker})
		}
	}
	m.run(ctx, work, seen)
}

func (m *Maintainer) resolveOrSelf(ctx context.Context, title string) string {
	final, err := m.records.Resolve(ctx, title)
	if err != nil {
		m.log.With(map[string]interface{}{"title": title}).Error(err, "Failed to resolve redirect")
		return title
	}
	return final
}

// run executes steps in order. Purging a placeholder that still held
// outlinks appends the removal of those links to the worklist.
func (m *Maintainer) run(ctx context.Context, work []*data.ReconcileJob, seen touched) {
	for len(work) > 0 {
		job := work[0]
		work = work[1:]

		res, err := m.step(ctx, job)
		if err != nil {
			m.enqueue(ctx, job, err)
			continue
		}
		if res.Changed {
			seen.add(job.Target)
		}
		if res.Purged {
			m.log.With(map[string]interface{}{"title": job.Target}).Debug("Purged orphaned placeholder")
			work = append(work, cascade(res.Page)...)
		}
	}
}

func cascade(purged *data.Page) []*data.ReconcileJob {
	var work []*data.ReconcileJob
	for _, rel := range purged.Outlinks.Relations() {
		for _, t := range purged.Outlinks[rel] {
			work = append(work, &data.ReconcileJob{Op: data.OpRemoveInlink, Target: t, Relation: rel, Other: purged.Title})
		}
	}
	return work
}

// step applies one idempotent record mutation.
func (m *Maintainer) step(ctx context.Context, job *data.ReconcileJob) (MutateResult, error) {
	var fn func(p *data.Page) bool
	switch job.Op {
	case data.OpAddInlink:
		fn = func(p *data.Page) bool { return p.Inlinks.Add(job.Relation, job.Other) }
	case data.OpRemoveInlink:
		fn = func(p *data.Page) bool { return p.Inlinks.Remove(job.Relation, job.Other) }
	case data.OpAddOutlink:
		fn = func(p *data.Page) bool { return p.Outlinks.Add(job.Relation, job.Other) }
	case data.OpRemoveOutlink:
		fn = func(p *data.Page) bool { return p.Outlinks.Remove(job.Relation, job.Other) }
	case data.OpReindex, data.OpRepublish:
		if m.rebuilder == nil {
			return MutateResult{}, fmt.Errorf("no rebuilder configured for %q", job.Op)
		}
		if job.Op == data.OpReindex {
			return MutateResult{}, m.rebuilder.Reindex(ctx, job.Target)
		}
		return MutateResult{}, m.rebuilder.Republish(ctx, job.Target, job.Other)
	default:
		return MutateResult{}, fmt.Errorf("unknown reconcile op %q", job.Op)
	}
	return m.records.Mutate(ctx, job.Target, fn)
}

// Defer queues job for reconciliation after err. It is used by callers
// whose own derived updates failed.
func (m *Maintainer) Defer(ctx context.Context, job *data.ReconcileJob, err error) {
	m.enqueue(ctx, job, err)
}

func (m *Maintainer) enqueue(ctx context.Context, job *data.ReconcileJob, cause error) {
	m.metrics.RecordPropagationFailure(job.Op)
	log := m.log.With(map[string]interface{}{
		"op":       job.Op,
		"target":   job.Target,
		"relation": job.Relation,
		"other":    job.Other,
	})
	queued := &data.ReconcileJob{
		Op:        job.Op,
		Target:    job.Target,
		Relation:  job.Relation,
		Other:     job.Other,
		LastError: cause.Error(),
	}
	if err := m.jobs.Enqueue(ctx, queued); err != nil {
		log.Error(errors.Join(cause, err), "Derived update failed and could not be queued")
		return
	}
	log.Error(cause, "Derived update failed, queued for reconciliation")
}

// ReconcileResult summarises a Reconcile run.
type ReconcileResult struct {
	Succeeded int
	Failed    int
	Touched   []string
}

// Reconcile retries up to limit queued jobs, oldest first.
func (m *Maintainer) Reconcile(ctx context.Context, limit int) (ReconcileResult, error) {
	jobs, err := m.jobs.Pending(ctx, limit)
	if err != nil {
		return ReconcileResult{}, err
	}

	var result ReconcileResult
	seen := touched{}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res, err := m.step(ctx, job)
		m.metrics.RecordReconcile(err == nil)
		if err != nil {
			result.Failed++
			if ferr := m.jobs.Fail(ctx, job.ID, err); ferr != nil {
				return result, ferr
			}
			m.log.With(map[string]interface{}{"job": job.ID, "op": job.Op, "attempts": job.Attempts + 1}).
				Error(err, "Reconcile job failed again")
			continue
		}
		if res.Changed {
			seen.add(job.Target)
		}
		if res.Purged {
			m.run(ctx, cascade(res.Page), seen)
		}
		if err := m.jobs.Complete(ctx, job.ID); err != nil {
			return result, err
		}
		result.Succeeded++
	}
	result.Touched = seen.list()
	if len(jobs) > 0 {
		m.log.With(map[string]interface{}{"succeeded": result.Succeeded, "failed": result.Failed}).
			Info("Reconcile run finished")
	}
	return result, nil
}
