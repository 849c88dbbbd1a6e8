package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// DedupKeyPolicy computes the natural dedup key used to reject
// repeat ingestion of the same platform/url pair within a run:
// hash(platform, url_canonical) ⊕ run_id.
type DedupKeyPolicy interface {
	Compute(platform Platform, rawURL, runID string) string
	CanonicalizeURL(rawURL string) string
}

type dedupKeyPolicy struct{}

// NewDedupKeyPolicy creates the default DedupKeyPolicy.
func NewDedupKeyPolicy() DedupKeyPolicy {
	return &dedupKeyPolicy{}
}

// CanonicalizeURL strips query parameters and fragment and lowercases
// scheme+host, so platform-tracking query strings never defeat
// deduplication.
func (p *dedupKeyPolicy) CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Compute returns the SHA-256 hash of (platform, canonical url) mixed
// with run_id via a null-byte separator, never colliding across runs.
func (p *dedupKeyPolicy) Compute(platform Platform, rawURL, runID string) string {
	content := string(platform) + "\x00" + p.CanonicalizeURL(rawURL) + "\x00" + runID
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
