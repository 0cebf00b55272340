package record

import (
	"math"
	"sort"
	"time"

	"github.com/elonfeng/socialpulse/pkg/source"
)

// Declared engagement metrics. Every normalized record carries all of them.
const (
	MetricLikes     = "likes"
	MetricShares    = "shares"
	MetricReplies   = "replies"
	MetricQuotes    = "quotes"
	MetricBookmarks = "bookmarks"
	MetricViews     = "views"
)

// MetricNames returns the declared metrics in display order.
func MetricNames() []string {
	return []string{MetricLikes, MetricShares, MetricReplies, MetricQuotes, MetricBookmarks, MetricViews}
}

// EngagementMetrics is the subset summed into total engagement.
func EngagementMetrics() []string {
	return []string{MetricLikes, MetricShares, MetricReplies}
}

// Metrics maps a declared metric name to a non-negative count.
type Metrics map[string]int64

// Get returns the value of name, 0 when absent.
func (m Metrics) Get(name string) int64 {
	return m[name]
}

// Engagement sums the engagement subset, saturating at math.MaxInt64.
func (m Metrics) Engagement() int64 {
	var total int64
	for _, name := range EngagementMetrics() {
		v := m[name]
		if v > 0 && total > math.MaxInt64-v {
			return math.MaxInt64
		}
		total += v
	}
	return total
}

// Record is the canonical shape of one post or video.
type Record struct {
	ID          string          `json:"id" bson:"external_id" db:"external_id"`
	Source      string          `json:"source" bson:"source" db:"source"`
	Platform    source.Platform `json:"platform" bson:"platform" db:"platform"`
	Text        string          `json:"text" bson:"text" db:"text"`
	URL         string          `json:"url,omitempty" bson:"url" db:"url"`
	CreatedAt   *time.Time      `json:"created_at" bson:"created_at" db:"created_at"`
	CollectedAt time.Time       `json:"collected_at" bson:"collected_at" db:"collected_at"`
	StoredAt    time.Time       `json:"stored_at,omitzero" bson:"stored_at" db:"stored_at"`
	Metrics     Metrics         `json:"metrics" bson:"metrics" db:"-"`
	// Imputed lists the metrics that were absent or unparseable and defaulted to 0.
	Imputed []string `json:"imputed,omitempty" bson:"imputed" db:"-"`
}

// HasTimestamp reports whether the record has a known creation time.
func (r Record) HasTimestamp() bool {
	return r.CreatedAt != nil && !r.CreatedAt.IsZero()
}

// HasID reports whether the record carries a natural identifier.
func (r Record) HasID() bool {
	return r.ID != ""
}

// Set is an ordered batch of records produced by one run.
type Set struct {
	Ref     source.Ref `json:"ref"`
	Records []Record   `json:"records"`
}

// Len returns the number of records.
func (s Set) Len() int {
	return len(s.Records)
}

// Sources returns the distinct source tags in first-seen order.
func (s Set) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.Records {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	return out
}

// BySource groups records by source tag, preserving record order.
func (s Set) BySource() map[string][]Record {
	out := make(map[string][]Record)
	for _, r := range s.Records {
		out[r.Source] = append(out[r.Source], r)
	}
	return out
}

// Dated returns the records with a known timestamp, oldest first.
func (s Set) Dated() []Record {
	var out []Record
	for _, r := range s.Records {
		if r.HasTimestamp() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(*out[j].CreatedAt)
	})
	return out
}

// Merge concatenates sets. The resulting ref is the first set's ref.
func Merge(sets ...Set) Set {
	var out Set
	for i, s := range sets {
		if i == 0 {
			out.Ref = s.Ref
		}
		out.Records = append(out.Records, s.Records...)
	}
	return out
}
