package report

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/elonfeng/socialpulse/pkg/record"
)

// averages returns, per source in first-seen order, the mean of each
// declared metric.
func averages(set record.Set) (sources []string, means map[string][]float64) {
	sources = set.Sources()
	grouped := set.BySource()
	means = make(map[string][]float64, len(record.MetricNames()))
	for _, metric := range record.MetricNames() {
		row := make([]float64, len(sources))
		for i, src := range sources {
			recs := grouped[src]
			var sum float64
			for _, r := range recs {
				sum += float64(r.Metrics.Get(metric))
			}
			row[i] = sum / float64(len(recs))
		}
		means[metric] = row
	}
	return sources, means
}

// engagementShare sums likes, shares and replies per source.
func engagementShare(set record.Set) (sources []string, totals []float64, total float64) {
	sources = set.Sources()
	grouped := set.BySource()
	totals = make([]float64, len(sources))
	for i, src := range sources {
		for _, r := range grouped[src] {
			totals[i] += float64(r.Metrics.Engagement())
		}
		total += totals[i]
	}
	return sources, totals, total
}

type trendPoint struct {
	At    time.Time
	Likes int64
}

// trendSeries returns likes over time per source. Records with an unknown
// timestamp are left out; sources with no dated record are absent.
func trendSeries(set record.Set) (sources []string, series map[string][]trendPoint) {
	series = make(map[string][]trendPoint)
	for _, r := range set.Dated() {
		if _, ok := series[r.Source]; !ok {
			sources = append(sources, r.Source)
		}
		series[r.Source] = append(series[r.Source], trendPoint{At: *r.CreatedAt, Likes: r.Metrics.Get(record.MetricLikes)})
	}
	return sources, series
}

// column returns one metric across every record.
func column(records []record.Record, metric string) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = float64(r.Metrics.Get(metric))
	}
	return out
}

// correlation computes the Pearson matrix over the declared metrics. A metric
// with no variance correlates 0 with everything but itself.
func correlation(set record.Set) [][]float64 {
	names := record.MetricNames()
	cols := make([][]float64, len(names))
	for i, name := range names {
		cols[i] = column(set.Records, name)
	}

	m := make([][]float64, len(names))
	for i := range names {
		m[i] = make([]float64, len(names))
		for j := range names {
			if i == j {
				m[i][j] = 1
				continue
			}
			c := stat.Correlation(cols[i], cols[j], nil)
			if math.IsNaN(c) || math.IsInf(c, 0) {
				c = 0
			}
			m[i][j] = c
		}
	}
	return m
}
