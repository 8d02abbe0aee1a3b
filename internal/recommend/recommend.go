// Package recommend maintains the related-page score tables with a random
// walk over the outlink graph.
package recommend

import (
	"context"
	"errors"
	"maps"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/graph"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/metrics"
)

const (
	// StartScore is the score handed to the first step of a walk. Every
	// further step halves it.
	StartScore = 0.1
	// MaxRelated bounds the size of a related-links table.
	MaxRelated = 30
	// RecentWindow is how far back Refresh looks when limited to recent pages.
	RecentWindow = 24 * time.Hour
)

// TitleLister lists the pages a refresh runs over.
type TitleLister interface {
	ListTitles(ctx context.Context) ([]*data.Page, error)
	ListUpdatedSince(ctx context.Context, since time.Time) ([]string, error)
}

// Recommender runs random walks and writes the resulting scores through
// the record arena.
type Recommender struct {
	records     *graph.Records
	titles      TitleLister
	log         logger.Logger
	metrics     *metrics.Collector
	maxDistance int
	concurrency int
	intn        func(n int) int
	now         func() time.Time
}

// Option configures a Recommender.
type Option func(*Recommender)

// WithRand replaces the random choice of the next step. intn must return a
// value in [0, n) and be safe for concurrent use.
func WithRand(intn func(n int) int) Option {
	return func(r *Recommender) { r.intn = intn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recommender) { r.now = now }
}

// New creates a Recommender walking at most maxDistance steps and running
// up to concurrency walks at once.
func New(records *graph.Records, titles TitleLister, log logger.Logger, m *metrics.Collector,
	maxDistance, concurrency int, opts ...Option) *Recommender {
	if maxDistance < 1 {
		maxDistance = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	r := &Recommender{
		records:     records,
		titles:      titles,
		log:         log,
		metrics:     m,
		maxDistance: maxDistance,
		concurrency: concurrency,
		intn:        rand.IntN,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Update runs one random walk from title. Every authored page reached is
// credited with a back-score towards title, and title's own table takes
// the walk scores. It returns the titles whose tables changed.
func (r *Recommender) Update(ctx context.Context, title string) ([]string, error) {
	start, err := r.records.Load(ctx, title)
	if err != nil {
		return nil, err
	}
	if start.Outlinks.Len() == 0 {
		return nil, nil
	}

	var changed []string
	walked := data.ScoreTable{}
	cur := start
	score := StartScore
	for distance := r.maxDistance; distance > 0; distance-- {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		candidates := stepCandidates(cur, title)
		if len(candidates) == 0 {
			break
		}
		next := r.resolve(ctx, candidates[r.intn(len(candidates))])
		score *= 0.5
		walked[next] = score

		res, err := r.rescore(ctx, next, func(p *data.Page) bool {
			if p.Revision == 0 {
				return false
			}
			p.RelatedLinks[title] += score
			return true
		})
		if err != nil {
			return changed, err
		}
		if res.Changed {
			changed = append(changed, next)
		}
		cur = res.Page
	}
	if len(walked) == 0 {
		return changed, nil
	}

	res, err := r.rescore(ctx, title, func(p *data.Page) bool {
		for t, s := range walked {
			p.RelatedLinks[t] = s
		}
		return true
	})
	if err != nil {
		return changed, err
	}
	if res.Changed {
		changed = append(changed, title)
	}
	return changed, nil
}

// stepCandidates returns every outlink of page, one entry per relation, so
// titles linked through several relations are proportionally more likely.
func stepCandidates(page *data.Page, origin string) []string {
	var titles []string
	for _, rel := range page.Outlinks.Relations() {
		for _, t := range page.Outlinks[rel] {
			if t != origin {
				titles = append(titles, t)
			}
		}
	}
	return titles
}

func (r *Recommender) resolve(ctx context.Context, title string) string {
	final, err := r.records.Resolve(ctx, title)
	if err != nil {
		return title
	}
	return final
}

// rescore applies fn to the related table of title and normalizes it. The
// page is only saved when the table differs afterwards.
func (r *Recommender) rescore(ctx context.Context, title string, fn func(p *data.Page) bool) (graph.MutateResult, error) {
	return r.records.Mutate(ctx, title, func(p *data.Page) bool {
		before := p.RelatedLinks.Clone()
		if !fn(p) {
			return false
		}
		Normalize(p)
		return !maps.Equal(before, p.RelatedLinks)
	})
}

// Normalize drops direct links and the page itself from the related table,
// keeps the MaxRelated best scores and rescales them so they sum to at
// most 1.
func Normalize(p *data.Page) {
	if p.RelatedLinks == nil {
		p.RelatedLinks = data.ScoreTable{}
		return
	}
	delete(p.RelatedLinks, p.Title)
	for _, links := range []data.Links{p.Inlinks, p.Outlinks} {
		for _, t := range links.Titles() {
			delete(p.RelatedLinks, t)
		}
	}

	if len(p.RelatedLinks) > MaxRelated {
		for _, e := range byScore(p.RelatedLinks)[MaxRelated:] {
			delete(p.RelatedLinks, e.Title)
		}
	}

	if total := p.RelatedLinks.Sum(); total > 1 {
		for t, s := range p.RelatedLinks {
			p.RelatedLinks[t] = s / total
		}
	}
}

// Scored is one row of a score table.
type Scored struct {
	Title string
	Score float64
}

// byScore orders a table by descending score, then by title.
func byScore(table data.ScoreTable) []Scored {
	rows := make([]Scored, 0, len(table))
	for t, s := range table {
		rows = append(rows, Scored{Title: t, Score: s})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Title < rows[j].Title
	})
	return rows
}

// RelatedByScore returns the related links of p, best first.
func RelatedByScore(p *data.Page) []Scored {
	return byScore(p.RelatedLinks)
}

// LinkScoreTable merges the related links of p with its direct links. Each
// direct link not already related gets an equal share of 1.
func LinkScoreTable(p *data.Page) []Scored {
	table := p.RelatedLinks.Clone()
	direct := map[string]struct{}{}
	for _, links := range []data.Links{p.Inlinks, p.Outlinks} {
		for _, t := range links.Titles() {
			if _, ok := table[t]; !ok {
				direct[t] = struct{}{}
			}
		}
	}
	if len(direct) > 0 {
		share := 1.0 / float64(len(direct))
		for t := range direct {
			table[t] = share
		}
	}
	return byScore(table)
}

// Refresh runs iterations walks from every authored page, or only from
// pages updated within RecentWindow when recentOnly is set. It returns
// every title whose table changed, walk origins and pages reached alike.
func (r *Recommender) Refresh(ctx context.Context, iterations int, recentOnly bool) ([]string, error) {
	titles, err := r.refreshTitles(ctx, recentOnly)
	if err != nil {
		return nil, err
	}
	r.metrics.RecordRecommendRun()

	p := pool.New().WithMaxGoroutines(r.concurrency)
	var mu sync.Mutex
	updated := map[string]struct{}{}
	var errs []error

	for _, title := range titles {
		p.Go(func() {
			for i := 0; i < iterations; i++ {
				changed, err := r.Update(ctx, title)
				mu.Lock()
				for _, t := range changed {
					updated[t] = struct{}{}
				}
				if err != nil {
					errs = append(errs, err)
				}
				mu.Unlock()
				if err != nil {
					return
				}
			}
		})
	}
	p.Wait()

	result := make([]string, 0, len(updated))
	for t := range updated {
		result = append(result, t)
	}
	sort.Strings(result)
	r.log.With(map[string]interface{}{
		"pages":   len(titles),
		"updated": len(result),
		"errors":  len(errs),
	}).Info("Related pages refreshed")
	return result, errors.Join(errs...)
}

func (r *Recommender) refreshTitles(ctx context.Context, recentOnly bool) ([]string, error) {
	if recentOnly {
		return r.titles.ListUpdatedSince(ctx, r.now().Add(-RecentWindow))
	}
	pages, err := r.titles.ListTitles(ctx)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(pages))
	for _, p := range pages {
		titles = append(titles, p.Title)
	}
	return titles, nil
}
