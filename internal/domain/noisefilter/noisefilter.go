// Package noisefilter rejects source items whose title or URL match a
// configured list of low-value patterns (list pages, ad placements,
// platform chrome) before they ever reach the merge pipeline.
package noisefilter

import "strings"

// Filter holds the configured noise patterns. An empty Filter rejects
// nothing.
type Filter struct {
	titlePatterns []string
	urlPatterns   []string
}

// New builds a Filter from comma-separated pattern lists, trimming
// blanks. Patterns match as a case-insensitive substring, except a
// trailing "*" which matches any suffix ("list page" URL globbing).
func New(titlePatternsCSV, urlPatternsCSV string) *Filter {
	return &Filter{
		titlePatterns: splitNonEmpty(titlePatternsCSV),
		urlPatterns:   splitNonEmpty(urlPatternsCSV),
	}
}

func splitNonEmpty(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// IsNoise reports whether title or rawURL matches any configured
// pattern.
func (f *Filter) IsNoise(title, rawURL string) bool {
	lowerTitle := strings.ToLower(title)
	for _, p := range f.titlePatterns {
		if strings.Contains(lowerTitle, p) {
			return true
		}
	}

	lowerURL := strings.ToLower(rawURL)
	for _, p := range f.urlPatterns {
		if strings.HasSuffix(p, "*") {
			if strings.Contains(lowerURL, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if strings.Contains(lowerURL, p) {
			return true
		}
	}
	return false
}
