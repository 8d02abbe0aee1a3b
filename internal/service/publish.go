package service

import (
	"context"
	"fmt"

	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/lock"
)

// updatePubState moves title within the publish chronologies. old is the
// page before the edit; pub and target describe the new pub directive.
// Changing the target is an unpublish followed by a publish. It returns
// the neighbours whose rows changed.
func (s *PageService) updatePubState(ctx context.Context, title string, old *data.Page, pub bool, target string) ([]string, error) {
	was := old.IsPublished()
	if was && pub && old.PublishedTo == target {
		return nil, nil
	}

	var touched []string
	if was {
		t, err := s.unpublish(ctx, title, old.PublishedTo)
		touched = append(touched, t...)
		if err != nil {
			return touched, err
		}
	}
	if pub {
		t, err := s.publish(ctx, title, target)
		touched = append(touched, t...)
		if err != nil {
			return touched, err
		}
	}
	return touched, nil
}

// publish makes title the newest post of target.
func (s *PageService) publish(ctx context.Context, title, target string) ([]string, error) {
	unlock := s.locks.Lock(lock.Pub + target)
	defer unlock()

	head, err := s.pages.FindPublishedHead(ctx, target, title)
	if err != nil {
		return nil, err
	}
	older := ""
	if head != nil {
		older = head.Title
	}

	now := s.now().UTC()
	if _, err := s.records.Mutate(ctx, title, func(p *data.Page) bool {
		p.PublishedAt = &now
		p.PublishedTo = target
		p.OlderTitle = older
		p.NewerTitle = ""
		return true
	}); err != nil {
		return nil, fmt.Errorf("failed to publish %q: %w", title, err)
	}

	if head == nil {
		return nil, nil
	}
	if err := s.setNeighbour(ctx, older, func(p *data.Page) *string { return &p.NewerTitle }, title); err != nil {
		return nil, err
	}
	return []string{older}, nil
}

// unpublish splices title out of the chronology of target, linking its
// neighbours to each other.
func (s *PageService) unpublish(ctx context.Context, title, target string) ([]string, error) {
	unlock := s.locks.Lock(lock.Pub + target)
	defer unlock()

	var older, newer string
	if _, err := s.records.Mutate(ctx, title, func(p *data.Page) bool {
		older, newer = p.OlderTitle, p.NewerTitle
		p.PublishedAt = nil
		p.PublishedTo = ""
		p.OlderTitle = ""
		p.NewerTitle = ""
		return true
	}); err != nil {
		return nil, fmt.Errorf("failed to unpublish %q: %w", title, err)
	}

	var touched []string
	if older != "" {
		if err := s.setNeighbour(ctx, older, func(p *data.Page) *string { return &p.NewerTitle }, newer); err != nil {
			return touched, err
		}
		touched = append(touched, older)
	}
	if newer != "" {
		if err := s.setNeighbour(ctx, newer, func(p *data.Page) *string { return &p.OlderTitle }, older); err != nil {
			return touched, err
		}
		touched = append(touched, newer)
	}
	return touched, nil
}

// setNeighbour points one chronology link of title at value. Missing pages
// are left alone.
func (s *PageService) setNeighbour(ctx context.Context, title string, field func(*data.Page) *string, value string) error {
	_, err := s.records.Mutate(ctx, title, func(p *data.Page) bool {
		if p.Revision == 0 {
			return false
		}
		f := field(p)
		if *f == value {
			return false
		}
		*f = value
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to relink %q: %w", title, err)
	}
	return nil
}

// deferRepublish queues the repair of every chronology a failed update of
// title may have left half linked.
func (s *PageService) deferRepublish(ctx context.Context, title string, cause error, targets ...string) {
	seen := map[string]bool{}
	for _, target := range targets {
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		s.graph.Defer(ctx, &data.ReconcileJob{Op: data.OpRepublish, Target: title, Other: target}, cause)
	}
}

// Republish brings the place of title in the chronology of target in line
// with its stored pub directive, then relinks every post of target in
// publish order. Running it again changes nothing.
func (s *PageService) Republish(ctx context.Context, title, target string) error {
	unlock := s.locks.Lock(lock.Pub + target)
	defer unlock()

	page, err := s.records.Find(ctx, title)
	if err != nil {
		return err
	}
	if page != nil && page.Revision > 0 {
		md, _ := content.ParseMetadata(page.Body)
		want := md.Has(content.KeyPub) && md[content.KeyPub] == target
		now := s.now().UTC()
		if _, err := s.records.Mutate(ctx, title, func(p *data.Page) bool {
			switch {
			case want && (p.PublishedAt == nil || p.PublishedTo != target):
				p.PublishedAt = &now
				p.PublishedTo = target
				return true
			case !want && p.PublishedAt != nil && p.PublishedTo == target:
				p.PublishedAt = nil
				p.PublishedTo = ""
				p.OlderTitle = ""
				p.NewerTitle = ""
				return true
			}
			return false
		}); err != nil {
			return fmt.Errorf("failed to republish %q: %w", title, err)
		}
	}

	touched, err := s.relink(ctx, target)
	s.invalidate(title, touched...)
	return err
}

// relink points the older and newer links of every post of target at its
// neighbours, newest first. It returns the posts whose rows changed.
func (s *PageService) relink(ctx context.Context, target string) ([]string, error) {
	var posts []*data.Page
	for offset := 0; ; offset += MaxListCount {
		batch, err := s.pages.ListPosts(ctx, target, offset, MaxListCount)
		if err != nil {
			return nil, err
		}
		posts = append(posts, batch...)
		if len(batch) < MaxListCount {
			break
		}
	}

	var touched []string
	for i, post := range posts {
		newer, older := "", ""
		if i > 0 {
			newer = posts[i-1].Title
		}
		if i+1 < len(posts) {
			older = posts[i+1].Title
		}
		res, err := s.records.Mutate(ctx, post.Title, func(p *data.Page) bool {
			if p.NewerTitle == newer && p.OlderTitle == older {
				return false
			}
			p.NewerTitle, p.OlderTitle = newer, older
			return true
		})
		if err != nil {
			return touched, fmt.Errorf("failed to relink %q: %w", post.Title, err)
		}
		if res.Changed {
			touched = append(touched, post.Title)
		}
	}
	return touched, nil
}
