package graph

import (
	"context"
	"fmt"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/lock"
)

// PageStore is the storage port for page rows.
type PageStore interface {
	GetPageByTitle(ctx context.Context, title string) (*data.Page, error)
	SavePage(ctx context.Context, page *data.Page) error
	DeletePage(ctx context.Context, title string) error
}

// Records is the title-keyed page arena. Every write to a page row goes
// through Mutate, which serialises load-modify-save cycles per title.
type Records struct {
	store PageStore
	locks *lock.Keyed
}

// NewRecords creates a Records over store. locks may be shared with other
// components that use different key prefixes.
func NewRecords(store PageStore, locks *lock.Keyed) *Records {
	return &Records{store: store, locks: locks}
}

// Load returns the page titled title, or an unsaved placeholder when no row
// exists. It takes no lock.
func (r *Records) Load(ctx context.Context, title string) (*data.Page, error) {
	page, err := r.store.GetPageByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return data.NewPlaceholder(title), nil
	}
	ensureMaps(page)
	return page, nil
}

// Find returns the stored page, or nil when there is none.
func (r *Records) Find(ctx context.Context, title string) (*data.Page, error) {
	page, err := r.store.GetPageByTitle(ctx, title)
	if page != nil {
		ensureMaps(page)
	}
	return page, err
}

// MutateResult describes what Mutate did.
type MutateResult struct {
	Page    *data.Page
	Changed bool
	// Purged is set when the page was a placeholder left without inlinks
	// and its row was deleted.
	Purged bool
}

// Mutate loads title, or a placeholder, and applies fn while holding the
// record lock of title. fn reports whether it changed the page. A changed
// placeholder without inlinks is deleted instead of saved.
func (r *Records) Mutate(ctx context.Context, title string, fn func(p *data.Page) bool) (MutateResult, error) {
	unlock := r.locks.Lock(lock.Record + title)
	defer unlock()

	stored, err := r.store.GetPageByTitle(ctx, title)
	if err != nil {
		return MutateResult{}, fmt.Errorf("failed to load %q: %w", title, err)
	}
	page := stored
	if page == nil {
		page = data.NewPlaceholder(title)
	}
	ensureMaps(page)

	if !fn(page) {
		return MutateResult{Page: page}, nil
	}

	if page.IsOrphan() {
		if stored != nil {
			if err := r.store.DeletePage(ctx, title); err != nil {
				return MutateResult{}, fmt.Errorf("failed to purge %q: %w", title, err)
			}
		}
		return MutateResult{Page: page, Changed: true, Purged: stored != nil}, nil
	}

	if err := r.store.SavePage(ctx, page); err != nil {
		return MutateResult{}, fmt.Errorf("failed to save %q: %w", title, err)
	}
	return MutateResult{Page: page, Changed: true}, nil
}

func ensureMaps(p *data.Page) {
	if p.Inlinks == nil {
		p.Inlinks = data.Links{}
	}
	if p.Outlinks == nil {
		p.Outlinks = data.Links{}
	}
	if p.RelatedLinks == nil {
		p.RelatedLinks = data.ScoreTable{}
	}
}
