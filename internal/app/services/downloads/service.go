// Package downloads issues and redeems download entitlements. Redemption is
// the one true check-and-increment in the system and is pushed down to the
// store as a conditional update.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beatforge/storefront/internal/apperr"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/grant"
	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/metrics"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/internal/mediastore"
	"github.com/beatforge/storefront/pkg/logger"
)

// SignedFile is one downloadable asset with its expiring URL.
type SignedFile struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Bundle is the result of a successful grant consumption.
type Bundle struct {
	GrantID     string       `json:"grant_id"`
	BeatID      string       `json:"beat_id"`
	LicenseType string       `json:"license_type"`
	Files       []SignedFile `json:"files"`
	ContractURL string       `json:"contract_url,omitempty"`
	Remaining   int          `json:"remaining_downloads"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Service manages download grants.
type Service struct {
	grants storage.GrantStore
	beats  storage.BeatStore
	signer *mediastore.Signer
	log    *logger.Logger
}

// New constructs a downloads service.
func New(grants storage.GrantStore, beats storage.BeatStore, signer *mediastore.Signer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("downloads")
	}
	return &Service{grants: grants, beats: beats, signer: signer, log: log}
}

// IssueForOrder creates one grant per line item of a freshly completed
// order. The caller (the webhook consumer) guarantees this runs once per
// completion; the order check here only shields manual re-invocations.
func (s *Service) IssueForOrder(ctx context.Context, ord order.Order) ([]grant.Grant, error) {
	if existing, err := s.grants.ListGrantsByOrder(ctx, ord.ID); err == nil && len(existing) > 0 {
		return existing, nil
	}

	now := time.Now().UTC()
	issued := make([]grant.Grant, 0, len(ord.Items))
	for _, item := range ord.Items {
		g := grant.Grant{
			OrderID:       ord.ID,
			AccountID:     ord.AccountID,
			BeatID:        item.BeatID,
			LicenseType:   item.LicenseType,
			DownloadCount: 0,
			MaxDownloads:  grant.DefaultMaxDownloads,
			ExpiresAt:     now.Add(grant.DefaultTTL),
			Files:         s.deliverables(ctx, item),
			ContractRef:   contractRef(ord, item),
			DeliveryEmail: ord.DeliveryEmail,
		}
		created, err := s.grants.CreateGrant(ctx, g)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		issued = append(issued, created)
	}

	s.log.WithField("order", ord.Number).
		WithField("grants", len(issued)).
		Info("download grants issued")
	return issued, nil
}

// deliverables resolves the files unlocked by the purchased tier. A beat that
// vanished from the catalog after purchase yields an empty set; the grant is
// still issued so support can repair it.
func (s *Service) deliverables(ctx context.Context, item order.LineItem) []catalog.MediaRef {
	beat, err := s.beats.GetBeat(ctx, item.BeatID)
	if err != nil {
		s.log.WithError(err).WithField("beat_id", item.BeatID).Warn("beat missing during grant issuance")
		return nil
	}
	tier, ok := beat.Tier(item.LicenseType)
	if !ok {
		s.log.WithField("beat_id", item.BeatID).
			WithField("license", string(item.LicenseType)).
			Warn("license tier missing during grant issuance")
		return nil
	}
	return beat.DeliverableFiles(tier)
}

func contractRef(ord order.Order, item order.LineItem) catalog.MediaRef {
	return catalog.MediaRef{
		ID: fmt.Sprintf("license-%s-%s-%s", ord.Number, item.BeatID, uuid.NewString()[:8]),
	}
}

// Consume redeems one download from the grant and returns signed URLs for
// its files. The increment happens in the store as a single conditional
// update; two concurrent calls on a grant with one use left produce exactly
// one success.
func (s *Service) Consume(ctx context.Context, grantID, accountID, email string) (Bundle, error) {
	now := time.Now().UTC()

	g, err := s.grants.GetGrant(ctx, grantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.RecordDownload("not_found")
			return Bundle{}, apperr.NotFound("download grant not found")
		}
		return Bundle{}, apperr.Internal(err)
	}
	if authErr := authorize(g, accountID, email); authErr != nil {
		metrics.RecordDownload("forbidden")
		return Bundle{}, authErr
	}

	g, ok, err := s.grants.ConsumeGrant(ctx, grantID, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.RecordDownload("not_found")
			return Bundle{}, apperr.NotFound("download grant not found")
		}
		return Bundle{}, apperr.Internal(err)
	}
	if !ok {
		if g.Expired(now) {
			metrics.RecordDownload("expired")
			return Bundle{}, apperr.ErrGrantExpired
		}
		metrics.RecordDownload("exhausted")
		return Bundle{}, apperr.ErrGrantExhausted
	}

	files := make([]SignedFile, 0, len(g.Files))
	for _, ref := range g.Files {
		files = append(files, SignedFile{ID: ref.ID, URL: s.signer.SignedURL(ref, now)})
	}

	bundle := Bundle{
		GrantID:     g.ID,
		BeatID:      g.BeatID,
		LicenseType: string(g.LicenseType),
		Files:       files,
		Remaining:   g.MaxDownloads - g.DownloadCount,
		ExpiresAt:   g.ExpiresAt,
	}
	if g.ContractRef.ID != "" {
		bundle.ContractURL = s.signer.SignedURL(g.ContractRef, now)
	}

	metrics.RecordDownload("ok")
	s.log.WithField("grant_id", g.ID).
		WithField("remaining", bundle.Remaining).
		Info("download served")
	return bundle, nil
}

func authorize(g grant.Grant, accountID, email string) error {
	if g.AccountID != "" {
		if g.AccountID != accountID {
			return apperr.Forbidden("not your download")
		}
		return nil
	}
	// Guest grant: the delivery email stands in for ownership.
	if email == "" || !strings.EqualFold(g.DeliveryEmail, email) {
		return apperr.Forbidden("email does not match this order")
	}
	return nil
}

// ListForAccount returns the account's grants, newest first.
func (s *Service) ListForAccount(ctx context.Context, accountID string) ([]grant.Grant, error) {
	result, err := s.grants.ListGrants(ctx, accountID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return result, nil
}

// ListForOrder returns an order's grants (admin surface).
func (s *Service) ListForOrder(ctx context.Context, orderID string) ([]grant.Grant, error) {
	result, err := s.grants.ListGrantsByOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return result, nil
}
