package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly"
)

// Facebook mbasic DOM selectors.
const (
	PostArticle   = `article, div[role="article"]`
	PostText      = `p`
	PostTime      = `abbr`
	PostReactions = `a[href*="/ufi/reaction/profile/browser/"]`
	PostStoryLink = `a[href*="story.php"], a[href*="/posts/"]`
	MorePosts     = `a:contains("See more stories"), a:contains("See More Stories"), a:contains("Show more")`
	LoginForm     = `form#login_form, input[name="pass"]`
)

var (
	commentsPattern = regexp.MustCompile(`(?i)([\d.,]+\s*[KkMm]?)\s+comments?`)
	sharesPattern   = regexp.MustCompile(`(?i)([\d.,]+\s*[KkMm]?)\s+shares?`)
)

// PagePosts collects a public page's posts from the mbasic HTML site. The
// session cookie header is an opaque credential supplied from configuration.
type PagePosts struct {
	baseURL  string
	cookies  string
	maxPages int
	timeout  time.Duration
}

// NewPagePosts creates a page-posts collector.
func NewPagePosts(baseURL, cookies string, maxPages int, timeout time.Duration) *PagePosts {
	if baseURL == "" {
		baseURL = "https://mbasic.facebook.com"
	}
	if maxPages <= 0 {
		maxPages = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PagePosts{
		baseURL:  strings.TrimRight(baseURL, "/"),
		cookies:  cookies,
		maxPages: maxPages,
		timeout:  timeout,
	}
}

func (p *PagePosts) Platform() Platform { return PlatformPage }

func (p *PagePosts) Collect(ctx context.Context, ref Ref) ([]RawRecord, error) {
	page := HandleTag(ref.Handle)
	startURL := fmt.Sprintf("%s/%s", p.baseURL, url.PathEscape(page))

	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"),
		colly.MaxDepth(p.maxPages),
	)
	c.SetRequestTimeout(p.timeout)

	var (
		records  []RawRecord
		fetchErr error
		visited  int
	)

	c.OnRequest(func(r *colly.Request) {
		if p.cookies != "" {
			r.Headers.Set("Cookie", p.cookies)
		}
		visited++
	})

	c.OnError(func(r *colly.Response, err error) {
		if fetchErr != nil {
			return
		}
		if r != nil && r.StatusCode != 0 {
			fetchErr = classifyStatus(PlatformPage, page, "page "+page, r.StatusCode)
		}
		if fetchErr == nil {
			fetchErr = classifyTransport("fetch page "+page, err)
		}
	})

	c.OnHTML(LoginForm, func(e *colly.HTMLElement) {
		if fetchErr == nil {
			fetchErr = &AuthenticationError{Platform: PlatformPage, Err: fmt.Errorf("redirected to login form (check SOCIALPULSE_FB_COOKIES)")}
		}
	})

	c.OnHTML(PostArticle, func(e *colly.HTMLElement) {
		if len(records) >= ref.Count {
			return
		}
		if raw := parsePost(e, page); raw != nil {
			records = append(records, raw)
		}
	})

	c.OnHTML(MorePosts, func(e *colly.HTMLElement) {
		// colly has no context support; stop paginating once the caller gives up.
		if len(records) >= ref.Count || visited >= p.maxPages || fetchErr != nil || ctx.Err() != nil {
			return
		}
		_ = e.Request.Visit(e.Attr("href"))
	})

	if err := c.Visit(startURL); err != nil && fetchErr == nil {
		fetchErr = classifyTransport("visit "+startURL, err)
	}
	c.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return limitRecords(records, ref.Count), nil
}

func parsePost(e *colly.HTMLElement, page string) RawRecord {
	var paragraphs []string
	e.ForEach(PostText, func(_ int, p *colly.HTMLElement) {
		if t := strings.TrimSpace(p.Text); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	text := strings.Join(paragraphs, "\n")

	id := postID(e.Attr("data-ft"), e.ChildAttr(PostStoryLink, "href"))
	if text == "" && id == "" {
		return nil
	}

	raw := RawRecord{
		"post_id": id,
		"author":  page,
		"text":    text,
	}
	if ts := strings.TrimSpace(e.ChildText(PostTime)); ts != "" {
		raw["created_at"] = ts
	}
	if link := e.ChildAttr(PostStoryLink, "href"); link != "" {
		raw["url"] = e.Request.AbsoluteURL(link)
	}
	if reactions := strings.TrimSpace(e.ChildText(PostReactions)); reactions != "" {
		raw["reactions"] = reactions
	}
	footer := e.Text
	if m := commentsPattern.FindStringSubmatch(footer); m != nil {
		raw["comments"] = m[1]
	}
	if m := sharesPattern.FindStringSubmatch(footer); m != nil {
		raw["shares"] = m[1]
	}
	return raw
}

// postID reads top_level_post_id from the data-ft attribute, falling back
// to the story_fbid query parameter of the story link.
func postID(dataFT, storyLink string) string {
	if dataFT != "" {
		var ft struct {
			TopLevelPostID string `json:"top_level_post_id"`
		}
		if err := json.Unmarshal([]byte(dataFT), &ft); err == nil && ft.TopLevelPostID != "" {
			return ft.TopLevelPostID
		}
	}
	if storyLink != "" {
		if u, err := url.Parse(storyLink); err == nil {
			if id := u.Query().Get("story_fbid"); id != "" {
				return id
			}
		}
	}
	return ""
}
