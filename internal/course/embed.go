package course

import (
	"net/url"
	"strings"
)

const youtubeEmbedBase = "https://www.youtube.com/embed/"

// EmbedURL rewrites a lesson video link into an embeddable player URL with the
// JS API enabled, so the player reports progress via postMessage. origin is the
// page origin hosting the iframe; it is only attached to rewritten watch links.
// Unrecognized links are returned unchanged.
func EmbedURL(raw, origin string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "/embed/") {
		if strings.Contains(raw, "?") {
			return raw + "&enablejsapi=1"
		}
		return raw + "?enablejsapi=1"
	}

	videoID := videoIDFrom(raw)
	if videoID == "" {
		return raw
	}
	q := url.Values{}
	q.Set("enablejsapi", "1")
	if origin != "" {
		q.Set("origin", origin)
	}
	return youtubeEmbedBase + url.PathEscape(videoID) + "?" + q.Encode()
}

func videoIDFrom(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtu.be":
		return strings.Trim(u.Path, "/")
	case strings.HasSuffix(host, "youtube.com") && u.Path == "/watch":
		return u.Query().Get("v")
	default:
		return ""
	}
}
