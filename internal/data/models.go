package data

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"
)

// Page represents a single wiki page in the database. A page at revision 0
// is a placeholder that only exists to hold inlinks.
type Page struct {
	Title        string     `db:"title"`
	Body         string     `db:"body"`
	Revision     int        `db:"revision"`
	Description  string     `db:"description"`
	Comment      string     `db:"comment"`
	Modifier     *string    `db:"modifier"`
	ACLRead      string     `db:"acl_read"`
	ACLWrite     string     `db:"acl_write"`
	ItemtypePath string     `db:"itemtype_path"`
	Redirect     string     `db:"redirect"`
	UpdatedAt    *time.Time `db:"updated_at"`
	PublishedAt  *time.Time `db:"published_at"`
	PublishedTo  string     `db:"published_to"`
	OlderTitle   string     `db:"older_title"`
	NewerTitle   string     `db:"newer_title"`
	Inlinks      Links      `db:"inlinks"`
	Outlinks     Links      `db:"outlinks"`
	RelatedLinks ScoreTable `db:"related_links"`
}

// NewPlaceholder returns an unsaved revision-0 page for title.
func NewPlaceholder(title string) *Page {
	return &Page{
		Title:        title,
		Inlinks:      Links{},
		Outlinks:     Links{},
		RelatedLinks: ScoreTable{},
	}
}

// IsOrphan reports whether the page is a placeholder nobody links to any more.
func (p *Page) IsOrphan() bool {
	return p.Revision == 0 && p.Inlinks.Len() == 0
}

// IsPublished reports whether the page is part of a publish chronology.
func (p *Page) IsPublished() bool {
	return p.PublishedAt != nil
}

// Revision is an immutable snapshot of a page body.
type Revision struct {
	ID        int64     `db:"id"`
	Title     string    `db:"title"`
	Revision  int       `db:"revision"`
	Body      string    `db:"body"`
	Comment   string    `db:"comment"`
	Modifier  *string   `db:"modifier"`
	CreatedAt time.Time `db:"created_at"`
}

// IndexEntry is a (title, name, value) triple of the structured-data index.
type IndexEntry struct {
	Title string `db:"title"`
	Name  string `db:"name"`
	Value string `db:"value"`
}

// Reconcile job operations.
const (
	OpAddInlink     = "add_inlink"
	OpRemoveInlink  = "remove_inlink"
	OpAddOutlink    = "add_outlink"
	OpRemoveOutlink = "remove_outlink"
	OpReindex       = "reindex"
	// OpRepublish relinks the chronology named by Other around Target.
	OpRepublish = "republish"
)

// ReconcileJob is a derived-state update that failed after the authoritative
// save and waits to be retried.
type ReconcileJob struct {
	ID        string    `db:"id"`
	Op        string    `db:"op"`
	Target    string    `db:"target"`
	Relation  string    `db:"relation"`
	Other     string    `db:"other"`
	Attempts  int       `db:"attempts"`
	LastError string    `db:"last_error"`
	CreatedAt time.Time `db:"created_at"`
}

// Links maps a relation name to a sorted, deduplicated list of titles.
type Links map[string][]string

// Add inserts title under rel. It reports whether the set changed.
func (l Links) Add(rel, title string) bool {
	titles := l[rel]
	i, found := slices.BinarySearch(titles, title)
	if found {
		return false
	}
	l[rel] = slices.Insert(titles, i, title)
	return true
}

// Remove deletes title from rel, dropping the relation when it becomes
// empty. It reports whether the set changed.
func (l Links) Remove(rel, title string) bool {
	titles := l[rel]
	i, found := slices.BinarySearch(titles, title)
	if !found {
		return false
	}
	titles = slices.Delete(titles, i, i+1)
	if len(titles) == 0 {
		delete(l, rel)
	} else {
		l[rel] = titles
	}
	return true
}

// Has reports whether title is present under rel.
func (l Links) Has(rel, title string) bool {
	_, found := slices.BinarySearch(l[rel], title)
	return found
}

// Len returns the number of (relation, title) pairs.
func (l Links) Len() int {
	n := 0
	for _, titles := range l {
		n += len(titles)
	}
	return n
}

// Titles returns every distinct title regardless of relation, sorted.
func (l Links) Titles() []string {
	seen := make(map[string]struct{})
	for _, titles := range l {
		for _, t := range titles {
			seen[t] = struct{}{}
		}
	}
	result := make([]string, 0, len(seen))
	for t := range seen {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// Relations returns the relation names, sorted.
func (l Links) Relations() []string {
	rels := make([]string, 0, len(l))
	for rel := range l {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	return rels
}

// Clone returns a deep copy.
func (l Links) Clone() Links {
	c := make(Links, len(l))
	for rel, titles := range l {
		c[rel] = slices.Clone(titles)
	}
	return c
}

// Normalize sorts and deduplicates every relation and drops empty ones.
func (l Links) Normalize() Links {
	for rel, titles := range l {
		sort.Strings(titles)
		titles = slices.Compact(titles)
		if len(titles) == 0 {
			delete(l, rel)
		} else {
			l[rel] = titles
		}
	}
	return l
}

// Diff compares l (old) with newer per relation and returns the pairs only
// present in newer (added) and only present in l (removed).
func (l Links) Diff(newer Links) (added, removed Links) {
	added, removed = Links{}, Links{}
	for rel, titles := range newer {
		for _, t := range titles {
			if !l.Has(rel, t) {
				added.Add(rel, t)
			}
		}
	}
	for rel, titles := range l {
		for _, t := range titles {
			if !newer.Has(rel, t) {
				removed.Add(rel, t)
			}
		}
	}
	return added, removed
}

// Value implements driver.Valuer.
func (l Links) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *Links) Scan(src interface{}) error {
	*l = Links{}
	b, err := jsonBytes(src)
	if err != nil || len(b) == 0 {
		return err
	}
	if err := json.Unmarshal(b, l); err != nil {
		return fmt.Errorf("failed to decode links: %w", err)
	}
	l.Normalize()
	return nil
}

// ScoreTable maps a related title to its score in [0,1].
type ScoreTable map[string]float64

// Sum returns the total of all scores.
func (s ScoreTable) Sum() float64 {
	total := 0.0
	for _, v := range s {
		total += v
	}
	return total
}

// Clone returns a copy.
func (s ScoreTable) Clone() ScoreTable {
	c := make(ScoreTable, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Value implements driver.Valuer.
func (s ScoreTable) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *ScoreTable) Scan(src interface{}) error {
	*s = ScoreTable{}
	b, err := jsonBytes(src)
	if err != nil || len(b) == 0 {
		return err
	}
	if err := json.Unmarshal(b, s); err != nil {
		return fmt.Errorf("failed to decode score table: %w", err)
	}
	return nil
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
