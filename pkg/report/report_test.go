package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/source"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func rec(src string, hoursAgo int, likes, shares, replies, views int64) record.Record {
	r := record.Record{
		Source:   src,
		Platform: source.PlatformTimeline,
		Metrics: record.Metrics{
			record.MetricLikes:     likes,
			record.MetricShares:    shares,
			record.MetricReplies:   replies,
			record.MetricQuotes:    0,
			record.MetricBookmarks: 0,
			record.MetricViews:     views,
		},
	}
	if hoursAgo >= 0 {
		t := base.Add(-time.Duration(hoursAgo) * time.Hour)
		r.CreatedAt = &t
	}
	return r
}

func sampleSet() record.Set {
	return record.Set{Records: []record.Record{
		rec("alice", 30, 10, 2, 1, 500),
		rec("alice", 20, 14, 3, 4, 800),
		rec("alice", 10, 9, 1, 0, 300),
		rec("bob", 25, 40, 10, 6, 2000),
		rec("bob", 5, 55, 12, 9, 2500),
		rec("bob", -1, 3, 0, 1, 90),
	}}
}

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()
	return New(Options{Dir: t.TempDir()})
}

func byKind(results []Result) map[Kind]Result {
	out := make(map[Kind]Result, len(results))
	for _, r := range results {
		out[r.Kind] = r
	}
	return out
}

func TestRenderWritesEveryChart(t *testing.T) {
	r := newTestReporter(t)

	results := r.Render(sampleSet())
	require.Len(t, results, len(Kinds()))

	for _, res := range results {
		require.NoError(t, res.Err, "chart %s", res.Kind)
		require.True(t, res.Rendered(), "chart %s", res.Kind)
		assert.Equal(t, filepath.Join(r.Dir(), string(res.Kind)+".png"), res.Artifact.Path)

		info, err := os.Stat(res.Artifact.Path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.Equal(t, len(Kinds()), Count(results))
}

func TestRenderSkipsShareWithoutEngagement(t *testing.T) {
	r := newTestReporter(t)
	set := record.Set{Records: []record.Record{
		rec("alice", 3, 0, 0, 0, 10),
		rec("bob", 2, 0, 0, 0, 40),
		rec("bob", 1, 0, 0, 0, 25),
	}}

	results := byKind(r.Render(set))

	share := results[KindShare]
	assert.True(t, share.Skipped)
	assert.NotEmpty(t, share.Reason)
	assert.Nil(t, share.Artifact)
	assert.Equal(t, "skipped", share.Status())
	_, err := os.Stat(filepath.Join(r.Dir(), "share.png"))
	assert.True(t, os.IsNotExist(err))

	for _, k := range []Kind{KindAverages, KindTrend, KindScatter, KindCorrelation, KindDistribution} {
		assert.True(t, results[k].Rendered(), "chart %s: %v", k, results[k].Err)
	}
}

func TestRenderEmptySetFailsEveryChart(t *testing.T) {
	r := newTestReporter(t)

	var results []Result
	require.NotPanics(t, func() { results = r.Render(record.Set{}) })
	require.Len(t, results, len(Kinds()))
	for _, res := range results {
		assert.ErrorIs(t, res.Err, ErrNoRecords)
		assert.Equal(t, "failed", res.Status())
	}
	assert.Zero(t, Count(results))
}

func TestRenderRecoversFromPanickingChart(t *testing.T) {
	r := newTestReporter(t)
	r.charts[KindScatter] = func(record.Set, string, vg.Length, vg.Length) error {
		panic("boom")
	}

	results := byKind(r.Render(sampleSet()))
	require.Error(t, results[KindScatter].Err)
	assert.Contains(t, results[KindScatter].Err.Error(), "boom")
	assert.True(t, results[KindAverages].Rendered())
	assert.True(t, results[KindDistribution].Rendered())
}

func TestRenderTrendSkipsWhenNothingIsDated(t *testing.T) {
	r := New(Options{Dir: t.TempDir(), Kinds: []Kind{KindTrend}})
	set := record.Set{Records: []record.Record{rec("alice", -1, 1, 1, 1, 1)}}

	results := r.Render(set)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
}

func TestRenderEachNamesFilesBySource(t *testing.T) {
	r := New(Options{Dir: t.TempDir(), Kinds: []Kind{KindAverages, KindShare, KindDistribution}})

	results := r.RenderEach(sampleSet())
	require.Len(t, results, 4)
	for _, res := range results {
		require.True(t, res.Rendered(), "%s/%s: %v", res.Source, res.Kind, res.Err)
		assert.Equal(t, filepath.Join(r.Dir(), res.Source+"_"+string(res.Kind)+".png"), res.Artifact.Path)
		assert.NotEqual(t, KindShare, res.Kind)
	}
}

func TestTrendSeriesExcludesUnknownTimestamps(t *testing.T) {
	sources, series := trendSeries(sampleSet())

	assert.Equal(t, []string{"alice", "bob"}, sources)
	assert.Len(t, series["alice"], 3)
	require.Len(t, series["bob"], 2)
	assert.True(t, series["bob"][0].At.Before(series["bob"][1].At))
	assert.Equal(t, int64(40), series["bob"][0].Likes)
}

func TestAverages(t *testing.T) {
	sources, means := averages(sampleSet())
	require.Equal(t, []string{"alice", "bob"}, sources)
	assert.InDelta(t, 11.0, means[record.MetricLikes][0], 1e-9)
	assert.InDelta(t, 98.0/3, means[record.MetricLikes][1], 1e-9)
	assert.Len(t, means, len(record.MetricNames()))
}

func TestEngagementShare(t *testing.T) {
	sources, totals, total := engagementShare(sampleSet())
	assert.Equal(t, []string{"alice", "bob"}, sources)
	assert.Equal(t, []float64{44, 136}, totals)
	assert.Equal(t, 180.0, total)
}

func TestCorrelationHandlesConstantMetrics(t *testing.T) {
	m := correlation(sampleSet())
	names := record.MetricNames()
	require.Len(t, m, len(names))

	quotes := 3
	for j := range names {
		if j == quotes {
			assert.Equal(t, 1.0, m[quotes][j])
			continue
		}
		assert.Equal(t, 0.0, m[quotes][j])
	}
	assert.Greater(t, m[0][5], 0.9)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "trend.png", FileName(KindTrend, ""))
	assert.Equal(t, "alice_trend.png", FileName(KindTrend, "alice"))
	assert.Equal(t, "a_b_trend.png", FileName(KindTrend, "a/b"))
}

func TestDistributionCoversEveryMetric(t *testing.T) {
	grid, err := distributionGrid(sampleSet())
	require.NoError(t, err)
	require.Len(t, grid, 2)

	var titles []string
	for _, row := range grid {
		for _, p := range row {
			require.NotNil(t, p)
			titles = append(titles, p.Title.Text)
		}
	}
	want := make([]string, 0, len(record.MetricNames()))
	for _, name := range record.MetricNames() {
		want = append(want, name+" distribution")
	}
	assert.Equal(t, want, titles)
}
