package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/socialpulse/internal/logging"
)

// YouTube DOM selectors. The channel layout changes often; update these when
// scraping breaks.
const (
	ConsentButton  = `button[aria-label*="Accept all"]`
	VideoTitleLink = `a#video-title-link, a#video-title`
	VideoMetadata  = `#metadata-line span, yt-formatted-string.ytd-video-meta-block`
	WatchLink      = `a[href*="/watch?v="]`
)

// LookupStrategy is one named way of locating video containers on a page.
type LookupStrategy struct {
	Name     string
	Selector string
	Timeout  time.Duration
	// Bare strategies match the title anchor itself rather than a container.
	Bare bool
}

// DefaultChannelStrategies is the ordered fallback list tried on a channel page.
func DefaultChannelStrategies(timeout time.Duration) []LookupStrategy {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return []LookupStrategy{
		{Name: "rich-grid-media", Selector: "ytd-rich-grid-media", Timeout: timeout},
		{Name: "rich-item-renderer", Selector: "ytd-rich-item-renderer", Timeout: timeout},
		{Name: "grid-video-renderer", Selector: "ytd-grid-video-renderer", Timeout: timeout},
		{Name: "video-renderer", Selector: "ytd-video-renderer", Timeout: timeout},
		{Name: "watch-link", Selector: WatchLink, Timeout: timeout, Bare: true},
	}
}

// ChannelOptions configures the browser-driven channel collector.
type ChannelOptions struct {
	Strategies  []LookupStrategy
	Scrolls     int
	ScrollPause time.Duration
	ConsentWait time.Duration
	DebugDir    string
	Logger      logging.Logger
	Now         func() time.Time
}

// Channel collects a video channel's listing by driving a headless browser.
type Channel struct {
	newBrowser BrowserFactory
	opts       ChannelOptions
}

// NewChannel creates a channel collector. Each Collect call starts its own
// browser session from newBrowser and shuts it down before returning.
func NewChannel(newBrowser BrowserFactory, opts ChannelOptions) *Channel {
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultChannelStrategies(5 * time.Second)
	}
	if opts.Scrolls < 0 {
		opts.Scrolls = 0
	}
	if opts.ConsentWait <= 0 {
		opts.ConsentWait = 5 * time.Second
	}
	if opts.DebugDir == "" {
		opts.DebugDir = "."
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = logging.OrDiscard(opts.Logger)
	return &Channel{newBrowser: newBrowser, opts: opts}
}

func (c *Channel) Platform() Platform { return PlatformChannel }

func (c *Channel) Collect(ctx context.Context, ref Ref) ([]RawRecord, error) {
	pageURL := ChannelURL(ref.Handle)
	log := c.opts.Logger.WithFields(logging.Fields{"platform": PlatformChannel, "url": pageURL})

	browser, err := c.newBrowser()
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			log.WithError(cerr).Warn("browser shutdown failed")
		}
	}()

	page, err := browser.Open(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	c.acceptConsent(ctx, page, log)
	if err := c.scroll(ctx, page); err != nil {
		return nil, err
	}

	strategy, doc, err := c.lookup(ctx, page, pageURL, ref)
	if err != nil {
		return nil, err
	}
	log.WithField("strategy", strategy.Name).Debug("video containers located")

	return c.extract(doc, strategy, ref), nil
}

func (c *Channel) acceptConsent(ctx context.Context, page Page, log *logrus.Entry) {
	cctx, cancel := context.WithTimeout(ctx, c.opts.ConsentWait)
	defer cancel()
	if err := page.Click(cctx, ConsentButton); err != nil {
		log.Debug("no consent prompt")
		return
	}
	log.Debug("accepted consent prompt")
}

func (c *Channel) scroll(ctx context.Context, page Page) error {
	for i := 0; i < c.opts.Scrolls; i++ {
		if err := page.ScrollToBottom(ctx); err != nil {
			return classifyTransport("scroll", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ScrollPause):
		}
	}
	return nil
}

// lookup tries each strategy in order, each bounded by its own timeout, and
// returns the first one that yields at least one candidate.
func (c *Channel) lookup(ctx context.Context, page Page, pageURL string, ref Ref) (LookupStrategy, *goquery.Document, error) {
	tried := make([]string, 0, len(c.opts.Strategies))
	for _, s := range c.opts.Strategies {
		tried = append(tried, s.Name)

		doc, err := c.try(ctx, page, s)
		if err != nil {
			if ctx.Err() != nil {
				return LookupStrategy{}, nil, ctx.Err()
			}
			c.opts.Logger.WithError(err).WithField("strategy", s.Name).Debug("lookup strategy missed")
			continue
		}
		return s, doc, nil
	}

	snapshot := filepath.Join(c.opts.DebugDir, ref.Key()+"_debug.png")
	if err := os.MkdirAll(c.opts.DebugDir, 0o755); err == nil {
		if err := page.Screenshot(snapshot); err != nil {
			c.opts.Logger.WithError(err).Warn("debug snapshot failed")
			snapshot = ""
		}
	} else {
		snapshot = ""
	}
	return LookupStrategy{}, nil, &LayoutChangedError{URL: pageURL, Tried: tried, Snapshot: snapshot}
}

func (c *Channel) try(ctx context.Context, page Page, s LookupStrategy) (*goquery.Document, error) {
	sctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if err := page.WaitFor(sctx, s.Selector); err != nil {
		return nil, err
	}
	html, err := page.HTML(sctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	if doc.Find(s.Selector).Length() == 0 {
		return nil, fmt.Errorf("selector %q matched nothing in rendered page", s.Selector)
	}
	return doc, nil
}

func (c *Channel) extract(doc *goquery.Document, s LookupStrategy, ref Ref) []RawRecord {
	channel := HandleTag(ref.Handle)
	now := c.opts.Now()

	var records []RawRecord
	seen := make(map[string]bool)
	doc.Find(s.Selector).EachWithBreak(func(_ int, container *goquery.Selection) bool {
		anchor := container
		if !s.Bare {
			anchor = container.Find(VideoTitleLink).First()
			if anchor.Length() == 0 {
				return true
			}
		}

		title, _ := anchor.Attr("title")
		if title == "" {
			title = strings.TrimSpace(anchor.Text())
		}
		href, _ := anchor.Attr("href")
		if title == "" || href == "" || seen[href] {
			return true
		}
		seen[href] = true

		raw := RawRecord{
			"video_id": videoID(href),
			"channel":  channel,
			"title":    title,
			"url":      absoluteYouTubeURL(href),
		}
		if !s.Bare {
			views, age := metadata(container)
			if views != "" {
				raw["views"] = views
			}
			if t, ok := relativeAge(age, now); ok {
				raw["created_at"] = t
			}
		}
		records = append(records, raw)
		return len(records) < ref.Count
	})
	return records
}

// metadata returns the view-count and age texts of a video container. When
// no span mentions views, the first span is taken as the view count.
func metadata(container *goquery.Selection) (views, age string) {
	spans := container.Find(VideoMetadata)
	spans.Each(func(_ int, span *goquery.Selection) {
		text := strings.TrimSpace(span.Text())
		switch {
		case views == "" && strings.Contains(strings.ToLower(text), "view"):
			views = text
		case age == "" && strings.HasSuffix(strings.ToLower(text), "ago"):
			age = text
		}
	})
	if views == "" && spans.Length() > 0 {
		views = strings.TrimSpace(spans.First().Text())
	}
	return views, age
}

var agePattern = regexp.MustCompile(`(?i)(\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago`)

// relativeAge turns "3 days ago" into an approximate instant.
func relativeAge(text string, now time.Time) (time.Time, bool) {
	m := agePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	unit := map[string]time.Duration{
		"second": time.Second,
		"minute": time.Minute,
		"hour":   time.Hour,
		"day":    24 * time.Hour,
		"week":   7 * 24 * time.Hour,
		"month":  30 * 24 * time.Hour,
		"year":   365 * 24 * time.Hour,
	}[strings.ToLower(m[2])]
	return now.Add(-time.Duration(n) * unit).UTC(), true
}

// ChannelURL builds the videos tab URL for a handle; full URLs pass through.
func ChannelURL(handle string) string {
	h := strings.TrimSpace(handle)
	if strings.Contains(h, "://") {
		return h
	}
	return fmt.Sprintf("https://www.youtube.com/@%s/videos", strings.TrimPrefix(h, "@"))
}

func absoluteYouTubeURL(href string) string {
	if strings.HasPrefix(href, "/") {
		return "https://www.youtube.com" + href
	}
	return href
}

func videoID(href string) string {
	i := strings.Index(href, "v=")
	if i < 0 {
		return ""
	}
	id := href[i+2:]
	if j := strings.IndexAny(id, "&#"); j >= 0 {
		id = id[:j]
	}
	return id
}
