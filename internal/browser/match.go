package browser

import (
	"errors"
	"regexp"
	"strings"
)

// ErrOffTarget is returned when the tab is not on a page matching the
// configured pattern, typically because an expired session was redirected
// to a login page.
var ErrOffTarget = errors.New("page does not match target pattern")

// MatchURL reports whether rawURL matches pattern, where '*' matches any run
// of characters (including '/') and everything else matches literally. A
// pattern without '*' must equal the URL exactly.
func MatchURL(pattern, rawURL string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == rawURL
	}
	return globToRegexp(pattern).MatchString(rawURL)
}

func globToRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
