package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Feed collects a user's posts from a Nitter-style RSS timeline. Feeds carry
// no engagement counts, so every metric of a feed record is defaulted.
type Feed struct {
	client    *http.Client
	parser    *gofeed.Parser
	nitterURL string
}

// NewFeed creates a feed collector against a Nitter instance.
func NewFeed(nitterURL string, timeout time.Duration) *Feed {
	if nitterURL == "" {
		nitterURL = "https://nitter.net"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Feed{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		nitterURL: strings.TrimRight(nitterURL, "/"),
	}
}

func (f *Feed) Platform() Platform { return PlatformFeed }

func (f *Feed) Collect(ctx context.Context, ref Ref) ([]RawRecord, error) {
	account := HandleTag(ref.Handle)
	feedURL := fmt.Sprintf("%s/%s/rss", f.nitterURL, account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request @%s: %w", account, err)
	}
	req.Header.Set("User-Agent", "socialpulse/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransport("fetch feed @"+account, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(PlatformFeed, account, "feed @"+account, resp.StatusCode); err != nil {
		return nil, err
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed @%s: %w", account, err)
	}

	var records []RawRecord
	for _, entry := range parsed.Items {
		raw := RawRecord{
			"id":       statusID(entry.GUID, entry.Link),
			"username": account,
			"text":     truncate(entry.Title, 280),
			// Convert nitter link back to x.com.
			"url": strings.Replace(entry.Link, f.nitterURL, "https://x.com", 1),
		}
		if entry.PublishedParsed != nil {
			raw["created_at"] = entry.PublishedParsed.UTC()
		} else if entry.Published != "" {
			raw["created_at"] = entry.Published
		}
		records = append(records, raw)
		if len(records) == ref.Count {
			break
		}
	}

	return records, nil
}

// statusID extracts the numeric status id from a nitter GUID or link,
// e.g. "https://nitter.net/user/status/123#m" -> "123".
func statusID(guid, link string) string {
	for _, s := range []string{guid, link} {
		if i := strings.Index(s, "/status/"); i >= 0 {
			id := s[i+len("/status/"):]
			if j := strings.IndexAny(id, "#?/"); j >= 0 {
				id = id[:j]
			}
			if id != "" {
				return id
			}
		}
	}
	return guid
}
