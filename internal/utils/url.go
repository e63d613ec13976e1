package utils

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>]+`)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid", "si"}

var ErrInvalidLink = errors.New("not a valid http or https link")

// ExtractURLs returns every http(s) URL in content, in order.
func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// NormalizeLink cleans a user supplied link: https is assumed when no scheme
// is given, the host is lowercased and converted to its ASCII form, and
// credentials, fragments and tracking parameters are dropped. It returns the
// link and its host.
func NormalizeLink(raw string) (string, string, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "<>")
	if raw == "" {
		return "", "", ErrInvalidLink
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", ErrInvalidLink
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", ErrInvalidLink
	}

	host := strings.ToLower(parsed.Hostname())
	if asciiHost, err := idna.Lookup.ToASCII(host); err == nil {
		host = asciiHost
	} else {
		return "", "", ErrInvalidLink
	}
	if !strings.Contains(host, ".") {
		return "", "", ErrInvalidLink
	}

	port := parsed.Port()
	parsed.Host = host
	if port != "" {
		parsed.Host = net.JoinHostPort(host, port)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
