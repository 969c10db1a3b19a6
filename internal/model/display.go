package model

import (
	"net"
	"net/url"
	"strings"
)

// DefaultDisplay is substituted for placeholder field values.
const DefaultDisplay = "N/A"

// Style tags a display value so the presentation layer can dim
// placeholders.
type Style string

const (
	StyleNormal Style = "normal"
	StyleEmpty  Style = "empty"
)

var placeholderValues = map[string]struct{}{
	"":              {},
	"null":          {},
	"undefined":     {},
	"none":          {},
	"n/a":           {},
	"na":            {},
	"not available": {},
}

// IsPlaceholder reports whether raw carries no information.
func IsPlaceholder(raw string) bool {
	_, ok := placeholderValues[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// DisplayValue returns the trimmed value, or def (DefaultDisplay when
// omitted) for placeholders.
func DisplayValue(raw string, def ...string) string {
	if IsPlaceholder(raw) {
		if len(def) > 0 {
			return def[0]
		}
		return DefaultDisplay
	}
	return strings.TrimSpace(raw)
}

// DisplayStyle classifies raw as present or empty.
func DisplayStyle(raw string) Style {
	if IsPlaceholder(raw) {
		return StyleEmpty
	}
	return StyleNormal
}

func DisplayAge(raw string) string       { return DisplayValue(raw) }
func DisplayGender(raw string) string    { return DisplayValue(raw) }
func DisplayEventType(raw string) string { return DisplayValue(raw) }
func DisplayLocation(raw string) string  { return DisplayValue(raw) }

// IsValidExternalWebsite accepts absolute http(s) URLs pointing at a
// public host. Placeholders, other schemes, localhost and private or
// loopback addresses are rejected.
func IsValidExternalWebsite(raw string) bool {
	raw = strings.TrimSpace(raw)
	if IsPlaceholder(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if u.User != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast())
	}
	return strings.Contains(host, ".")
}
