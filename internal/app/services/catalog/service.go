// Package catalog implements public browsing and admin mutation of the beat
// catalog.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/beatforge/storefront/internal/apperr"
	domain "github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/pkg/logger"
)

// Service manages the beat catalog.
type Service struct {
	store storage.BeatStore
	log   *logger.Logger
}

// New constructs a catalog service.
func New(store storage.BeatStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, log: log}
}

func validateBeat(beat domain.Beat) error {
	if strings.TrimSpace(beat.Title) == "" {
		return apperr.Validation("title is required")
	}
	if beat.Tempo < 0 {
		return apperr.Validation("tempo must not be negative")
	}
	if len(beat.Licenses) == 0 {
		return apperr.Validation("at least one license tier is required")
	}
	seen := make(map[domain.LicenseType]bool)
	for _, tier := range beat.Licenses {
		if !domain.ValidLicenseType(tier.Type) {
			return apperr.Validation("unknown license type %q", tier.Type)
		}
		if tier.PriceCents < 0 {
			return apperr.Validation("license %s: price must not be negative", tier.Type)
		}
		if seen[tier.Type] {
			return apperr.Validation("license %s: duplicate tier", tier.Type)
		}
		seen[tier.Type] = true
	}
	return nil
}

// Create adds a beat to the catalog. Admin only; the HTTP layer enforces the
// role.
func (s *Service) Create(ctx context.Context, beat domain.Beat) (domain.Beat, error) {
	if err := validateBeat(beat); err != nil {
		return domain.Beat{}, err
	}
	beat.Title = strings.TrimSpace(beat.Title)

	created, err := s.store.CreateBeat(ctx, beat)
	if err != nil {
		return domain.Beat{}, apperr.Internal(err)
	}
	s.log.WithField("beat_id", created.ID).WithField("title", created.Title).Info("beat created")
	return created, nil
}

// Update replaces the mutable fields of a beat wholesale. Existing order
// line-item snapshots are untouched by price edits here.
func (s *Service) Update(ctx context.Context, beat domain.Beat) (domain.Beat, error) {
	if err := validateBeat(beat); err != nil {
		return domain.Beat{}, err
	}
	beat.Title = strings.TrimSpace(beat.Title)

	updated, err := s.store.UpdateBeat(ctx, beat)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Beat{}, apperr.NotFound("beat not found")
		}
		return domain.Beat{}, apperr.Internal(err)
	}
	s.log.WithField("beat_id", updated.ID).Info("beat updated")
	return updated, nil
}

// Delete removes a beat from the catalog.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteBeat(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("beat not found")
		}
		return apperr.Internal(err)
	}
	s.log.WithField("beat_id", id).Info("beat deleted")
	return nil
}

// List returns beats matching the filter.
func (s *Service) List(ctx context.Context, filter storage.BeatFilter) ([]domain.Beat, error) {
	beats, err := s.store.ListBeats(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return beats, nil
}

// Get returns a beat for public display and bumps its play counter.
// The increment is best-effort; a lost update under race is acceptable.
func (s *Service) Get(ctx context.Context, id string) (domain.Beat, error) {
	beat, err := s.store.GetBeat(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Beat{}, apperr.NotFound("beat not found")
		}
		return domain.Beat{}, apperr.Internal(err)
	}

	if err := s.store.IncrementPlays(ctx, id); err != nil {
		s.log.WithError(err).WithField("beat_id", id).Warn("play count increment failed")
	} else {
		beat.Plays++
	}
	return beat, nil
}

// GetRaw returns a beat without side effects (admin and internal callers).
func (s *Service) GetRaw(ctx context.Context, id string) (domain.Beat, error) {
	beat, err := s.store.GetBeat(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Beat{}, apperr.NotFound("beat not found")
		}
		return domain.Beat{}, apperr.Internal(err)
	}
	return beat, nil
}
