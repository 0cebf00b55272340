package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/golang/rss":
		case "/down/rss":
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var items strings.Builder
		for i := 1; i <= 4; i++ {
			fmt.Fprintf(&items, `<item>
  <title>Go 1.2%d is released</title>
  <link>%s/golang/status/17%d#m</link>
  <guid>%s/golang/status/17%d#m</guid>
  <pubDate>Wed, 01 May 2024 10:0%d:00 GMT</pubDate>
</item>`, i, srv.URL, i, srv.URL, i, i)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>golang / @golang</title>%s</channel></rss>`, items.String())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedCollect(t *testing.T) {
	srv := feedServer(t)
	f := NewFeed(srv.URL, 5*time.Second)

	records, err := f.Collect(context.Background(), Ref{Platform: PlatformFeed, Handle: "@golang", Count: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "171", records[0]["id"])
	assert.Equal(t, "golang", records[0]["username"])
	assert.Equal(t, "https://x.com/golang/status/171#m", records[0]["url"])
	assert.Equal(t, time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC), records[0]["created_at"])
	_, hasLikes := records[0]["likes"]
	assert.False(t, hasLikes)
}

func TestFeedFewerThanRequested(t *testing.T) {
	srv := feedServer(t)
	records, err := NewFeed(srv.URL, time.Second).Collect(context.Background(), Ref{Platform: PlatformFeed, Handle: "golang", Count: 10})
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestFeedErrors(t *testing.T) {
	srv := feedServer(t)
	f := NewFeed(srv.URL, time.Second)

	_, err := f.Collect(context.Background(), Ref{Platform: PlatformFeed, Handle: "nobody", Count: 1})
	var nf *SourceNotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = f.Collect(context.Background(), Ref{Platform: PlatformFeed, Handle: "down", Count: 1})
	assert.True(t, IsTransient(err))
}

func TestStatusID(t *testing.T) {
	assert.Equal(t, "123", statusID("https://nitter.net/u/status/123#m", ""))
	assert.Equal(t, "456", statusID("", "https://nitter.net/u/status/456?x=1"))
	assert.Equal(t, "opaque", statusID("opaque", "https://nitter.net/u"))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	title := strings.Repeat("a", 279) + "é and more"
	got := truncate(title, 280)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 279)+"...", got)

	got = truncate("日本語のタイトル", 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日...", got)
}
