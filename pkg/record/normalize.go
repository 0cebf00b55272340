package record

import (
	"time"

	"github.com/elonfeng/socialpulse/pkg/source"
)

// metricAliases lists, per declared metric, the raw keys that may carry it.
// The first alias holding a parseable value wins.
var metricAliases = map[string][]string{
	MetricLikes:     {"likes", "favorite_count", "like_count", "reactions"},
	MetricShares:    {"shares", "retweets", "retweet_count"},
	MetricReplies:   {"replies", "reply_count", "comments", "comment_count"},
	MetricQuotes:    {"quotes", "quote_count"},
	MetricBookmarks: {"bookmarks", "bookmark_count"},
	MetricViews:     {"views", "view_count", "impressions"},
}

var (
	idKeys     = []string{"id", "tweet_id", "video_id", "post_id"}
	textKeys   = []string{"text", "title", "message"}
	sourceKeys = []string{"username", "author", "channel"}
	timeKeys   = []string{"created_at", "published_at", "timestamp", "date"}
)

// Normalize maps one raw record onto the canonical shape. It never fails:
// missing or malformed metrics become 0 and are listed in Imputed, and an
// unparseable timestamp leaves CreatedAt nil.
func Normalize(raw source.RawRecord, ref source.Ref, now time.Time) Record {
	rec := Record{
		ID:          firstString(raw, idKeys),
		Text:        firstString(raw, textKeys),
		URL:         firstString(raw, []string{"url", "link"}),
		Source:      firstString(raw, sourceKeys),
		Platform:    ref.Platform,
		CollectedAt: now.UTC(),
		Metrics:     make(Metrics, len(metricAliases)),
	}
	if rec.Source == "" {
		rec.Source = source.HandleTag(ref.Handle)
	}

	for _, name := range MetricNames() {
		v, ok := firstCount(raw, metricAliases[name])
		rec.Metrics[name] = v
		if !ok {
			rec.Imputed = append(rec.Imputed, name)
		}
	}

	for _, key := range timeKeys {
		if t, ok := coerceTime(raw[key]); ok {
			rec.CreatedAt = &t
			break
		}
	}
	return rec
}

// NormalizeAll normalizes a batch in order.
func NormalizeAll(raws []source.RawRecord, ref source.Ref, now time.Time) Set {
	set := Set{Ref: ref, Records: make([]Record, 0, len(raws))}
	for _, raw := range raws {
		set.Records = append(set.Records, Normalize(raw, ref, now))
	}
	return set
}

func firstCount(raw source.RawRecord, keys []string) (int64, bool) {
	for _, k := range keys {
		v, present := raw[k]
		if !present || v == nil {
			continue
		}
		if n, ok := coerceCount(v); ok {
			return n, true
		}
	}
	return 0, false
}

func firstString(raw source.RawRecord, keys []string) string {
	for _, k := range keys {
		if s := coerceString(raw[k]); s != "" {
			return s
		}
	}
	return ""
}
