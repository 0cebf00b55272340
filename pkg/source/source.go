package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Platform identifies which kind of external source a collector drives.
type Platform string

const (
	PlatformTimeline Platform = "social-timeline"
	PlatformFeed     Platform = "social-feed"
	PlatformChannel  Platform = "video-channel"
	PlatformVideoAPI Platform = "video-api"
	PlatformPage     Platform = "page-posts"
)

// AllPlatforms returns all known platforms.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformTimeline,
		PlatformFeed,
		PlatformChannel,
		PlatformVideoAPI,
		PlatformPage,
	}
}

// ParsePlatform accepts a platform tag or one of its short names.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "social-timeline", "timeline", "x", "twitter":
		return PlatformTimeline, nil
	case "social-feed", "feed", "nitter":
		return PlatformFeed, nil
	case "video-channel", "channel", "youtube":
		return PlatformChannel, nil
	case "video-api", "youtube-api":
		return PlatformVideoAPI, nil
	case "page-posts", "page", "facebook", "fb":
		return PlatformPage, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Ref identifies what to collect and how much. It is a value type and is
// never mutated after construction.
type Ref struct {
	Platform Platform `json:"platform" yaml:"platform"`
	Handle   string   `json:"handle" yaml:"handle"`
	Count    int      `json:"count" yaml:"count"`
}

// NewRef builds a validated Ref.
func NewRef(platform Platform, handle string, count int) (Ref, error) {
	ref := Ref{Platform: platform, Handle: strings.TrimSpace(handle), Count: count}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Validate reports whether the ref can be collected.
func (r Ref) Validate() error {
	if r.Handle == "" {
		return fmt.Errorf("source ref: empty handle")
	}
	if r.Count <= 0 {
		return fmt.Errorf("source ref %s: count must be positive, got %d", r.Handle, r.Count)
	}
	if _, err := ParsePlatform(string(r.Platform)); err != nil {
		return fmt.Errorf("source ref %s: %w", r.Handle, err)
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key returns a filesystem-safe tag for the handle, used in output file names.
// Channel URLs such as https://www.youtube.com/@Google/videos become "Google".
func (r Ref) Key() string {
	return SafeKey(HandleTag(r.Handle))
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Platform, r.Handle)
}

// HandleTag reduces a handle or URL to the bare account name.
func HandleTag(handle string) string {
	h := strings.TrimSpace(handle)
	if i := strings.Index(h, "/@"); i >= 0 {
		h = h[i+2:]
		if j := strings.IndexAny(h, "/?#"); j >= 0 {
			h = h[:j]
		}
		return h
	}
	if strings.Contains(h, "://") {
		h = strings.TrimRight(h, "/")
		if i := strings.LastIndex(h, "/"); i >= 0 {
			h = h[i+1:]
		}
	}
	return strings.TrimPrefix(h, "@")
}

// SafeKey replaces characters that are unsafe in file names.
func SafeKey(s string) string {
	key := strings.Trim(unsafeKeyChars.ReplaceAllString(s, "_"), "_")
	if key == "" {
		return "source"
	}
	return key
}

// RawRecord is whatever fields an external client returned for one item.
type RawRecord map[string]any

// Collector fetches raw records for a source ref.
//
// Collect returns at most ref.Count records. Fewer records are not an error.
type Collector interface {
	Platform() Platform
	Collect(ctx context.Context, ref Ref) ([]RawRecord, error)
}

func limitRecords(records []RawRecord, n int) []RawRecord {
	if n >= 0 && len(records) > n {
		return records[:n]
	}
	return records
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// truncate keeps at most maxLen bytes of s, cut on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
