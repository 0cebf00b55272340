package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageOne = `<html><body>
<article data-ft='{"top_level_post_id":"111"}'>
  <p>Hello world</p>
  <abbr>May 1, 2024</abbr>
  <a href="/ufi/reaction/profile/browser/?ft_ent_identifier=111">1.2K</a>
  <span>12 Comments</span>
  <span>3 Shares</span>
  <a href="/story.php?story_fbid=111&amp;id=9">Full Story</a>
</article>
<article>
  <p>Second post</p>
  <a href="/story.php?story_fbid=222&amp;id=9">Full Story</a>
</article>
<a href="/acme?page=2">See more stories</a>
</body></html>`

const pageTwo = `<html><body>
<article data-ft='{"top_level_post_id":"333"}'><p>Third post</p></article>
<article data-ft='{"top_level_post_id":"444"}'><p>Fourth post</p></article>
<a href="/acme?page=3">See more stories</a>
</body></html>`

func pageServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var cookies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = append(cookies, r.Header.Get("Cookie"))
		switch {
		case r.URL.Path == "/acme" && r.URL.Query().Get("page") == "":
			fmt.Fprint(w, pageOne)
		case r.URL.Path == "/acme" && r.URL.Query().Get("page") == "2":
			fmt.Fprint(w, pageTwo)
		case r.URL.Path == "/acme":
			t.Errorf("visited beyond page limit: %s", r.URL)
		case r.URL.Path == "/private":
			fmt.Fprint(w, `<html><body><form id="login_form"><input name="pass"></form></body></html>`)
		case r.URL.Path == "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &cookies
}

func TestPagePostsCollect(t *testing.T) {
	srv, cookies := pageServer(t)
	p := NewPagePosts(srv.URL, "c_user=1; xs=abc", 2, 5*time.Second)

	records, err := p.Collect(context.Background(), Ref{Platform: PlatformPage, Handle: "acme", Count: 3})
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, "111", first["post_id"])
	assert.Equal(t, "acme", first["author"])
	assert.Equal(t, "Hello world", first["text"])
	assert.Equal(t, "May 1, 2024", first["created_at"])
	assert.Equal(t, "1.2K", first["reactions"])
	assert.Equal(t, "12", first["comments"])
	assert.Equal(t, "3", first["shares"])
	assert.Equal(t, srv.URL+"/story.php?story_fbid=111&id=9", first["url"])

	assert.Equal(t, "222", records[1]["post_id"])
	assert.Equal(t, "333", records[2]["post_id"])

	require.NotEmpty(t, *cookies)
	assert.Equal(t, "c_user=1; xs=abc", (*cookies)[0])
}

func TestPagePostsFewerThanRequested(t *testing.T) {
	srv, _ := pageServer(t)
	records, err := NewPagePosts(srv.URL, "", 1, time.Second).Collect(context.Background(), Ref{Platform: PlatformPage, Handle: "acme", Count: 5})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPagePostsErrors(t *testing.T) {
	srv, _ := pageServer(t)
	p := NewPagePosts(srv.URL, "", 1, time.Second)

	_, err := p.Collect(context.Background(), Ref{Platform: PlatformPage, Handle: "private", Count: 1})
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)

	_, err = p.Collect(context.Background(), Ref{Platform: PlatformPage, Handle: "gone", Count: 1})
	var nf *SourceNotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = p.Collect(context.Background(), Ref{Platform: PlatformPage, Handle: "busy", Count: 1})
	assert.True(t, IsTransient(err))
}

func TestPostID(t *testing.T) {
	assert.Equal(t, "9", postID(`{"top_level_post_id":"9"}`, ""))
	assert.Equal(t, "7", postID(`not json`, "/story.php?story_fbid=7&id=1"))
	assert.Empty(t, postID("", "/photo.php"))
}
