package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultYouTubeAPI = "https://www.googleapis.com/youtube/v3"
	maxVideoResults   = 50
)

// VideoAPI collects a channel's latest videos from the YouTube Data API.
type VideoAPI struct {
	client *resty.Client
	apiKey string
}

// NewVideoAPI creates a YouTube Data API collector.
func NewVideoAPI(baseURL, apiKey string, timeout time.Duration) *VideoAPI {
	if baseURL == "" {
		baseURL = defaultYouTubeAPI
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", "socialpulse/1.0")
	return &VideoAPI{client: client, apiKey: apiKey}
}

func (y *VideoAPI) Platform() Platform { return PlatformVideoAPI }

func (y *VideoAPI) Collect(ctx context.Context, ref Ref) ([]RawRecord, error) {
	if y.apiKey == "" {
		return nil, &AuthenticationError{Platform: PlatformVideoAPI, Err: fmt.Errorf("API key required (set YOUTUBE_API_KEY)")}
	}

	channelID, err := y.resolveChannel(ctx, ref.Handle)
	if err != nil {
		return nil, err
	}

	records, ids, err := y.search(ctx, channelID, clamp(ref.Count, 1, maxVideoResults))
	if err != nil {
		return nil, err
	}

	// Statistics are best-effort: a failed enrichment leaves the metrics
	// absent and the normalizer defaults them.
	if len(ids) > 0 {
		y.enrichWithStats(ctx, records, ids)
	}

	return limitRecords(records, ref.Count), nil
}

// resolveChannel maps an @handle or channel URL to a channel id. Raw channel
// ids (UC...) are returned unchanged.
func (y *VideoAPI) resolveChannel(ctx context.Context, handle string) (string, error) {
	tag := HandleTag(handle)
	if strings.HasPrefix(tag, "UC") && len(tag) == 24 {
		return tag, nil
	}

	params := url.Values{}
	params.Set("part", "id")
	params.Set("forHandle", "@"+tag)

	var result struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := y.get(ctx, "/channels", params, handle, &result); err != nil {
		return "", err
	}
	if len(result.Items) == 0 {
		return "", &SourceNotFoundError{Platform: PlatformVideoAPI, Handle: handle}
	}
	return result.Items[0].ID, nil
}

func (y *VideoAPI) search(ctx context.Context, channelID string, limit int) ([]RawRecord, []string, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("channelId", channelID)
	params.Set("type", "video")
	params.Set("order", "date")
	params.Set("maxResults", strconv.Itoa(limit))

	var result ytSearchResult
	if err := y.get(ctx, "/search", params, channelID, &result); err != nil {
		return nil, nil, err
	}

	var (
		records []RawRecord
		ids     []string
	)
	for _, item := range result.Items {
		videoID := item.ID.VideoID
		if videoID == "" {
			continue
		}
		records = append(records, RawRecord{
			"video_id":   videoID,
			"channel":    item.Snippet.ChannelTitle,
			"title":      item.Snippet.Title,
			"url":        fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID),
			"created_at": item.Snippet.PublishedAt,
		})
		ids = append(ids, videoID)
	}
	return records, ids, nil
}

func (y *VideoAPI) enrichWithStats(ctx context.Context, records []RawRecord, ids []string) {
	idMap := make(map[string]int, len(ids))
	for i, id := range ids {
		idMap[id] = i
	}

	params := url.Values{}
	params.Set("part", "statistics")
	params.Set("id", strings.Join(ids, ","))

	var result ytVideoResult
	if err := y.get(ctx, "/videos", params, "", &result); err != nil {
		return
	}

	for _, video := range result.Items {
		if idx, ok := idMap[video.ID]; ok {
			// Counts arrive as decimal strings; the normalizer coerces them.
			records[idx]["views"] = video.Statistics.ViewCount
			records[idx]["likes"] = video.Statistics.LikeCount
			records[idx]["comments"] = video.Statistics.CommentCount
		}
	}
}

func (y *VideoAPI) get(ctx context.Context, path string, params url.Values, handle string, out any) error {
	params.Set("key", y.apiKey)
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(out).
		Get(path)
	if err != nil {
		return classifyTransport("youtube "+path, err)
	}

	// An invalid key is reported as 400 keyInvalid rather than 401.
	if resp.StatusCode() == http.StatusBadRequest {
		return &AuthenticationError{Platform: PlatformVideoAPI, Err: fmt.Errorf("youtube %s status 400", path)}
	}
	return classifyStatus(PlatformVideoAPI, handle, "youtube "+path, resp.StatusCode())
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet ytSnippet `json:"snippet"`
	} `json:"items"`
}

type ytSnippet struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
	ChannelID    string `json:"channelId"`
	PublishedAt  string `json:"publishedAt"`
}

type ytVideoResult struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}
