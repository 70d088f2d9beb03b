// Package privacy strips credentials and other sensitive parts from camera
// sources and broker URLs before they reach logs, the API or telemetry.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

// urlPattern finds URLs embedded in free text.
var urlPattern = regexp.MustCompile(`\b(?:https?|rtsps?|rtmp|tcp|ssl|tls|mqtts?|wss?)://\S+`)

// SanitizeURL removes credentials, path and query from a URL and returns a
// display-friendly "scheme://host:port". Non-URL sources such as device
// paths are returned unchanged.
func SanitizeURL(source string) string {
	scheme, rest, ok := strings.Cut(source, "://")
	if !ok || scheme == "" {
		return source
	}

	if at := strings.LastIndexByte(hostSection(rest), '@'); at >= 0 {
		rest = rest[at+1:]
	}
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	return scheme + "://" + rest
}

// hostSection returns the authority part of a URL without the scheme.
func hostSection(rest string) string {
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		return rest[:end]
	}
	return rest
}

// RedactPassword keeps the URL intact except for the password, which is
// replaced with "xxxxx". Unparseable input is fully sanitized instead.
func RedactPassword(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SanitizeURL(rawURL)
	}
	if u.User == nil {
		return rawURL
	}
	return u.Redacted()
}

// ScrubMessage sanitizes every URL found in message.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, SanitizeURL)
}
