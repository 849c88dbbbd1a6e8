// Package ingest is the core's side of spec.md §6's "collected item
// ingestion contract": the boundary external scrapers call into with
// one normalized SourceItem draft at a time. The scrapers themselves
// — actually polling weibo/zhihu/etc — are out of scope; this package
// only validates, periods, noise-filters, and persists what arrives.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"echoman/internal/domain"
	"echoman/internal/domain/noisefilter"
	"echoman/internal/period"

	"github.com/google/uuid"
)

// Draft is one externally-collected record, before the core has
// assigned a period or merge status.
type Draft struct {
	Platform     domain.Platform
	Title        string
	Summary      string
	URL          string
	PublishedAt  *time.Time
	FetchedAt    time.Time // zero means "server-assigned": Ingest fills in time.Now()
	HeatValue    *float64
	Interactions map[string]int64
	RunID        string
}

// ErrInvalidDraft wraps a Draft that fails validation before ever
// reaching the noise filter or the repository.
var ErrInvalidDraft = errors.New("ingest: invalid draft")

// ErrNoisyTitle is returned when the draft's title or URL matches a
// configured noise pattern.
var ErrNoisyTitle = errors.New("ingest: rejected by noise filter")

// IngestUsecase is the entry point the HTTP boundary's ingestion
// endpoint calls for each draft in a scraper's batch.
type IngestUsecase interface {
	Ingest(ctx context.Context, d Draft) (*domain.SourceItem, error)
}

type ingestUsecase struct {
	items  domain.SourceItemRepository
	noise  *noisefilter.Filter
	dedup  domain.DedupKeyPolicy
	now    func() time.Time
}

func New(items domain.SourceItemRepository, noise *noisefilter.Filter) IngestUsecase {
	return &ingestUsecase{items: items, noise: noise, dedup: domain.NewDedupKeyPolicy(), now: time.Now}
}

func (u *ingestUsecase) Ingest(ctx context.Context, d Draft) (*domain.SourceItem, error) {
	if !d.Platform.Valid() {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidDraft, d.Platform)
	}
	if strings.TrimSpace(d.Title) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.RunID) == "" {
		return nil, fmt.Errorf("%w: empty run_id", ErrInvalidDraft)
	}
	if u.noise.IsNoise(d.Title, d.URL) {
		return nil, ErrNoisyTitle
	}

	fetchedAt := d.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = u.now()
	}
	_, periodKey, err := period.Label(fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("label period: %w", err)
	}

	// Canonicalize before persisting so platform tracking query
	// strings (utm_source, share tokens, ...) never defeat the
	// repository's (platform, url, run_id) duplicate check.
	canonicalURL := u.dedup.CanonicalizeURL(d.URL)

	item := domain.SourceItem{
		ID:           uuid.New(),
		Platform:     d.Platform,
		Title:        d.Title,
		Summary:      d.Summary,
		URL:          canonicalURL,
		PublishedAt:  d.PublishedAt,
		FetchedAt:    fetchedAt,
		Interactions: d.Interactions,
		HeatValue:    d.HeatValue,
		Period:       periodKey,
		MergeStatus:  domain.PendingEventMerge,
		RunID:        d.RunID,
	}

	inserted, err := u.items.Insert(ctx, item)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateItem) {
			return nil, err
		}
		return nil, fmt.Errorf("insert source item: %w", err)
	}
	return inserted, nil
}
