package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoAPIServer(t *testing.T, videos int, statsStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("key") {
		case "bad-key":
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		items := []map[string]string{}
		if r.URL.Query().Get("forHandle") == "@GoogleDevelopers" {
			items = append(items, map[string]string{"id": "UC_x5XG1OV2P6uZZ5FSM9Ttw"})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		assert.Equal(t, "UC_x5XG1OV2P6uZZ5FSM9Ttw", r.URL.Query().Get("channelId"))
		items := make([]map[string]any, 0, videos)
		for i := 0; i < videos; i++ {
			items = append(items, map[string]any{
				"id": map[string]string{"videoId": fmt.Sprintf("vid%d", i)},
				"snippet": map[string]string{
					"title":        fmt.Sprintf("Video %d", i),
					"channelTitle": "Google for Developers",
					"publishedAt":  "2024-04-30T08:15:00Z",
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if statsStatus != http.StatusOK {
			w.WriteHeader(statsStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"id": "vid0", "statistics": map[string]string{"viewCount": "1200", "likeCount": "34", "commentCount": "5"}},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVideoAPICollect(t *testing.T) {
	srv := videoAPIServer(t, 3, http.StatusOK)
	y := NewVideoAPI(srv.URL, "key", 5*time.Second)

	records, err := y.Collect(context.Background(), Ref{
		Platform: PlatformVideoAPI,
		Handle:   "https://www.youtube.com/@GoogleDevelopers/videos",
		Count:    5,
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "vid0", records[0]["video_id"])
	assert.Equal(t, "https://www.youtube.com/watch?v=vid0", records[0]["url"])
	assert.Equal(t, "1200", records[0]["views"])
	assert.Equal(t, "34", records[0]["likes"])
	_, hasViews := records[1]["views"]
	assert.False(t, hasViews, "videos without statistics keep metrics absent")
}

func TestVideoAPIStatsFailureKeepsRecords(t *testing.T) {
	srv := videoAPIServer(t, 2, http.StatusInternalServerError)
	records, err := NewVideoAPI(srv.URL, "key", 5*time.Second).Collect(context.Background(), Ref{
		Platform: PlatformVideoAPI, Handle: "@GoogleDevelopers", Count: 2,
	})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestVideoAPIErrors(t *testing.T) {
	srv := videoAPIServer(t, 1, http.StatusOK)
	ref := Ref{Platform: PlatformVideoAPI, Handle: "@GoogleDevelopers", Count: 1}

	_, err := NewVideoAPI(srv.URL, "", time.Second).Collect(context.Background(), ref)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)

	_, err = NewVideoAPI(srv.URL, "bad-key", time.Second).Collect(context.Background(), ref)
	require.ErrorAs(t, err, &authErr)

	_, err = NewVideoAPI(srv.URL, "key", time.Second).Collect(context.Background(), Ref{
		Platform: PlatformVideoAPI, Handle: "@nobody", Count: 1,
	})
	var nf *SourceNotFoundError
	require.ErrorAs(t, err, &nf)
}
