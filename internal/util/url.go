package util

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeBaseURL validates an API root and strips a trailing slash and any
// query or fragment, so paths can be appended directly.
func NormalizeBaseURL(rawURL string) (string, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL, err
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return rawURL, fmt.Errorf("invalid URL scheme %q: only http and https allowed", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return rawURL, fmt.Errorf("URL %q has no host", rawURL)
	}
	parsedURL.Host = strings.ToLower(parsedURL.Host)
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	parsedURL.RawPath = ""
	parsedURL.RawQuery = ""
	parsedURL.Fragment = ""
	return parsedURL.String(), nil
}
