package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTimelineURL = "https://api.x.com"
	maxTimelineResults = 100
	minTimelineResults = 5
)

// Timeline collects recent posts from a user's timeline through the X API v2.
type Timeline struct {
	client *resty.Client
	token  string
}

// NewTimeline creates a timeline collector. The bearer token is an opaque
// credential supplied from configuration.
func NewTimeline(baseURL, bearerToken string, timeout time.Duration) *Timeline {
	if baseURL == "" {
		baseURL = defaultTimelineURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", "socialpulse/1.0")
	if bearerToken != "" {
		client.SetAuthToken(bearerToken)
	}
	return &Timeline{client: client, token: bearerToken}
}

func (t *Timeline) Platform() Platform { return PlatformTimeline }

func (t *Timeline) Collect(ctx context.Context, ref Ref) ([]RawRecord, error) {
	if t.token == "" {
		return nil, &AuthenticationError{Platform: PlatformTimeline, Err: fmt.Errorf("bearer token required (set SOCIALPULSE_X_BEARER_TOKEN)")}
	}

	username := HandleTag(ref.Handle)
	userID, err := t.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	var result xTweetsResult
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("id", userID).
		SetQueryParams(map[string]string{
			"max_results":  strconv.Itoa(clamp(ref.Count, minTimelineResults, maxTimelineResults)),
			"tweet.fields": "created_at,public_metrics",
			"exclude":      "replies",
		}).
		SetResult(&result).
		Get("/2/users/{id}/tweets")
	if err != nil {
		return nil, classifyTransport("fetch timeline @"+username, err)
	}
	if err := classifyStatus(PlatformTimeline, ref.Handle, "timeline @"+username, resp.StatusCode()); err != nil {
		return nil, err
	}

	records := make([]RawRecord, 0, len(result.Data))
	for _, tweet := range result.Data {
		m := tweet.PublicMetrics
		records = append(records, RawRecord{
			"tweet_id":   tweet.ID,
			"username":   username,
			"text":       tweet.Text,
			"created_at": tweet.CreatedAt,
			"url":        fmt.Sprintf("https://x.com/%s/status/%s", username, tweet.ID),
			"likes":      m.LikeCount,
			"retweets":   m.RetweetCount,
			"replies":    m.ReplyCount,
			"quotes":     m.QuoteCount,
			"bookmarks":  m.BookmarkCount,
			"views":      m.ImpressionCount,
		})
	}

	return limitRecords(records, ref.Count), nil
}

func (t *Timeline) lookupUser(ctx context.Context, username string) (string, error) {
	var result xUserResult
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("username", username).
		SetResult(&result).
		Get("/2/users/by/username/{username}")
	if err != nil {
		return "", classifyTransport("lookup @"+username, err)
	}
	if err := classifyStatus(PlatformTimeline, username, "lookup @"+username, resp.StatusCode()); err != nil {
		return "", err
	}
	// Unknown users come back as 200 with an errors array and no data.
	if result.Data.ID == "" {
		return "", &SourceNotFoundError{Platform: PlatformTimeline, Handle: username}
	}
	return result.Data.ID, nil
}

type xUserResult struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

type xTweetsResult struct {
	Data []xTweet `json:"data"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

type xTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		RetweetCount    int64 `json:"retweet_count"`
		ReplyCount      int64 `json:"reply_count"`
		LikeCount       int64 `json:"like_count"`
		QuoteCount      int64 `json:"quote_count"`
		BookmarkCount   int64 `json:"bookmark_count"`
		ImpressionCount int64 `json:"impression_count"`
	} `json:"public_metrics"`
}
