package recommend

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/graph"
	"go-wiki-engine/internal/lock"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/metrics"
)

const rel = "Article/relatedTo"

func setupRecommendTest(t *testing.T) (*Recommender, *data.SQLPageRepository, *metrics.Collector, func()) {
	t.Helper()
	db, err := data.NewDB(config.DBConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, data.ApplyMigrations(db, "sqlite"))

	repo := data.NewSQLPageRepository(db)
	m := metrics.NewCollector("test")
	r := New(graph.NewRecords(repo, lock.New()), repo, logger.Nop(), m, 5, 4,
		WithRand(func(n int) int { return 0 }))
	return r, repo, m, func() { db.Close() }
}

// seedChain stores authored pages linked in a line, each to the next.
func seedChain(t *testing.T, repo *data.SQLPageRepository, titles ...string) {
	t.Helper()
	for i, title := range titles {
		p := data.NewPlaceholder(title)
		p.Revision = 1
		if i > 0 {
			p.Inlinks.Add(rel, titles[i-1])
		}
		if i < len(titles)-1 {
			p.Outlinks.Add(rel, titles[i+1])
		}
		require.NoError(t, repo.SavePage(context.Background(), p))
	}
}

func load(t *testing.T, repo *data.SQLPageRepository, title string) *data.Page {
	t.Helper()
	p, err := repo.GetPageByTitle(context.Background(), title)
	require.NoError(t, err)
	require.NotNil(t, p, "page %q", title)
	return p
}

func TestUpdate_WalkScoresBothEnds(t *testing.T) {
	r, repo, _, teardown := setupRecommendTest(t)
	defer teardown()
	seedChain(t, repo, "A", "B", "C", "D")

	changed, err := r.Update(context.Background(), "A")
	require.NoError(t, err)
	// B only scores A, which it links to directly, so its table stays empty.
	assert.ElementsMatch(t, []string{"C", "D", "A"}, changed)

	a := load(t, repo, "A")
	assert.NotContains(t, a.RelatedLinks, "B", "direct links are not suggestions")
	assert.InDelta(t, 0.025, a.RelatedLinks["C"], 1e-9)
	assert.InDelta(t, 0.0125, a.RelatedLinks["D"], 1e-9)

	assert.Empty(t, load(t, repo, "B").RelatedLinks)
	assert.InDelta(t, 0.025, load(t, repo, "C").RelatedLinks["A"], 1e-9)
	assert.InDelta(t, 0.0125, load(t, repo, "D").RelatedLinks["A"], 1e-9)
}

func TestUpdate_BackScoreAccumulates(t *testing.T) {
	r, repo, _, teardown := setupRecommendTest(t)
	defer teardown()
	seedChain(t, repo, "A", "B", "C")

	for i := 0; i < 3; i++ {
		_, err := r.Update(context.Background(), "A")
		require.NoError(t, err)
	}

	assert.InDelta(t, 0.075, load(t, repo, "C").RelatedLinks["A"], 1e-9)
	// The origin's own entry is overwritten by each walk.
	assert.InDelta(t, 0.025, load(t, repo, "A").RelatedLinks["C"], 1e-9)
}

func TestUpdate_PlaceholderGetsNoScore(t *testing.T) {
	r, repo, _, teardown := setupRecommendTest(t)
	defer teardown()
	ctx := context.Background()

	a := data.NewPlaceholder("A")
	a.Revision = 1
	a.Outlinks.Add(rel, "Stub")
	require.NoError(t, repo.SavePage(ctx, a))
	stub := data.NewPlaceholder("Stub")
	stub.Inlinks.Add(rel, "A")
	require.NoError(t, repo.SavePage(ctx, stub))

	changed, err := r.Update(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Empty(t, load(t, repo, "Stub").RelatedLinks)
	assert.Equal(t, 0, load(t, repo, "Stub").Revision)
}

func TestUpdate_NoOutlinks(t *testing.T) {
	r, repo, _, teardown := setupRecommendTest(t)
	defer teardown()
	seedChain(t, repo, "Alone")

	changed, err := r.Update(context.Background(), "Alone")
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, err = r.Update(context.Background(), "Missing")
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestNormalize(t *testing.T) {
	p := data.NewPlaceholder("Self")
	p.Inlinks.Add(rel, "In")
	p.Outlinks.Add("Book/author", "Out")
	p.RelatedLinks["Self"] = 0.5
	p.RelatedLinks["In"] = 0.5
	p.RelatedLinks["Out"] = 0.5
	for i := 0; i < 40; i++ {
		p.RelatedLinks[fmt.Sprintf("P%02d", i)] = float64(i+1) / 100
	}

	Normalize(p)

	assert.Len(t, p.RelatedLinks, MaxRelated)
	for _, direct := range []string{"Self", "In", "Out"} {
		assert.NotContains(t, p.RelatedLinks, direct)
	}
	// The ten lowest scores were dropped.
	assert.NotContains(t, p.RelatedLinks, "P09")
	assert.Contains(t, p.RelatedLinks, "P10")
	assert.InDelta(t, 1.0, p.RelatedLinks.Sum(), 1e-9)
}

func TestNormalize_SmallTableKeepsScores(t *testing.T) {
	p := data.NewPlaceholder("Self")
	p.RelatedLinks["X"] = 0.2
	p.RelatedLinks["Y"] = 0.1

	Normalize(p)

	assert.Equal(t, data.ScoreTable{"X": 0.2, "Y": 0.1}, p.RelatedLinks)
}

func TestLinkScoreTable(t *testing.T) {
	p := data.NewPlaceholder("Self")
	p.RelatedLinks["X"] = 0.3
	p.Inlinks.Add(rel, "Y")
	p.Outlinks.Add(rel, "X")
	p.Outlinks.Add(rel, "Z")

	got := LinkScoreTable(p)

	want := []Scored{{"Y", 0.5}, {"Z", 0.5}, {"X", 0.3}}
	assert.Equal(t, want, got)
	assert.Equal(t, []Scored{{"X", 0.3}}, RelatedByScore(p))
}

func TestRefresh(t *testing.T) {
	r, repo, m, teardown := setupRecommendTest(t)
	defer teardown()
	seedChain(t, repo, "A", "B", "C", "D")
	seedChain(t, repo, "Lonely")

	updated, err := r.Refresh(context.Background(), 2, false)
	require.NoError(t, err)

	// The walks from C and D leave their own tables as they were. Both are
	// still reported because walks from A and B credit them.
	assert.Equal(t, []string{"A", "B", "C", "D"}, updated)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecommendRuns))
	for _, title := range []string{"A", "B", "C", "D"} {
		table := load(t, repo, title).RelatedLinks
		assert.LessOrEqual(t, table.Sum(), 1.0+1e-9, title)
		assert.LessOrEqual(t, len(table), MaxRelated, title)
	}
}

func TestUpdate_UnchangedTableIsNotReported(t *testing.T) {
	r, repo, _, teardown := setupRecommendTest(t)
	defer teardown()
	seedChain(t, repo, "A", "B")

	// The only step reaches a direct link, which Normalize drops again.
	changed, err := r.Update(context.Background(), "A")
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Empty(t, load(t, repo, "A").RelatedLinks)
}
