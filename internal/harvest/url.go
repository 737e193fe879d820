package harvest

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so duplicates collapse to one key.
// The scheme defaults to https, host and scheme are lowercased, the query
// string and fragment are dropped, and a trailing slash is stripped unless
// the path is the root.
func NormalizeURL(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	} else if u.Path == "/" {
		u.Path = ""
	}
	return u.String(), nil
}

// Domain returns the lowercased hostname of rawURL, or "" if it cannot
// be parsed.
func Domain(rawURL string) string {
	raw := rawURL
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// RootURL collapses a URL to its domain root (scheme://host/). Used when
// the business unit of interest is one record per site.
func RootURL(rawURL string) (string, error) {
	raw := rawURL
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/", scheme, strings.ToLower(u.Host)), nil
}

// SitemapURL derives the sitemap location from a site URL or bare domain.
// URLs that already point at an .xml document are returned normalized but
// otherwise untouched.
func SitemapURL(site string) (string, error) {
	trimmed := strings.TrimSpace(site)
	if trimmed == "" {
		return "", fmt.Errorf("empty site")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	if strings.HasSuffix(strings.ToLower(trimmed), ".xml") {
		return trimmed, nil
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	return trimmed + "/sitemap.xml", nil
}
