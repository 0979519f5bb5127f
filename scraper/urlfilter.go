package scraper

import (
	"net/url"
	"strings"
)

// urlExcludes marks paths that are never product detail pages.
var urlExcludes = []string{
	"/blog/", "/support/", "/software/", "/supplies/", "/ribbons/",
	".pdf", ".jpg", "/compare/", "/category/", "/view-all", "/manufacturer",
}

// urlIncludes marks path fragments that product detail pages carry.
var urlIncludes = []string{
	"/id-card-printers/", "/printer/", "card-printer",
}

// IsProductURL reports whether a catalog link points at a printer detail
// page rather than a listing, support, or asset URL.
func IsProductURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	lower := strings.ToLower(rawURL)
	for _, ex := range urlExcludes {
		if strings.Contains(lower, ex) {
			return false
		}
	}

	hasPrinterPath := false
	for _, inc := range urlIncludes {
		if strings.Contains(lower, inc) {
			hasPrinterPath = true
			break
		}
	}
	if !hasPrinterPath {
		return false
	}

	// Category landing pages end in "printers" and sit higher in the path
	// hierarchy than a concrete product slug.
	path := lower
	if parsed, err := url.Parse(lower); err == nil && parsed.Host != "" {
		path = parsed.Path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	return len(parts) >= 3 && !strings.HasSuffix(strings.TrimSuffix(path, "/"), "printers")
}
