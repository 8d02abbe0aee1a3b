package service

import (
	"context"
	"time"

	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/graph"
)

// PageRepository defines the page queries the service needs on top of the
// record store used by the graph.
type PageRepository interface {
	graph.PageStore
	ListTitles(ctx context.Context) ([]*data.Page, error)
	ListChanges(ctx context.Context, offset, limit int) ([]*data.Page, error)
	ListUpdatedSince(ctx context.Context, since time.Time) ([]string, error)
	ListPosts(ctx context.Context, target string, offset, limit int) ([]*data.Page, error)
	FindPublishedHead(ctx context.Context, target, exclude string) (*data.Page, error)
}

// RevisionStore defines the operations on the revision log.
type RevisionStore interface {
	SaveRevision(ctx context.Context, rev *data.Revision) error
	ListRevisions(ctx context.Context, title string) ([]*data.Revision, error)
	GetRevision(ctx context.Context, title string, revision int) (*data.Revision, error)
	DeleteRevisions(ctx context.Context, title string) error
}

// IndexStore defines the operations on the structured-data index.
type IndexStore interface {
	RebuildIndex(ctx context.Context, title string, entries []data.IndexEntry) error
	UpdateIndex(ctx context.Context, title string, old, new []data.IndexEntry) error
	DeleteByTitle(ctx context.Context, title string) error
	TitlesByProperty(ctx context.Context, name, value string) ([]string, error)
}

// Schema classifies structured data and names relations for display.
type Schema interface {
	content.Classifier
	HumaneProperty(itemType, name string, inverse bool) string
}
