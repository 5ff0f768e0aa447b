// Package checkout validates cart selections against the catalog, prices
// them authoritatively and opens a payment session with the external
// gateway. No order is persisted here; the webhook consumer is the single
// writer of orders once payment is confirmed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beatforge/storefront/internal/apperr"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/metrics"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/internal/payments"
	"github.com/beatforge/storefront/pkg/logger"
)

// Metadata keys carried in the payment session so the webhook consumer can
// rebuild the order without re-trusting client input.
const (
	MetaAccountID = "account_id"
	MetaGuest     = "guest"
	MetaEmail     = "email"
)

// Selection is one cart line: a beat plus the license tier wanted for it.
// Any price the client attached to it is ignored.
type Selection struct {
	BeatID      string              `json:"beat_id"`
	LicenseType catalog.LicenseType `json:"license_type"`
}

// Service orchestrates checkout.
type Service struct {
	beats      storage.BeatStore
	gateway    payments.Gateway
	successURL string
	cancelURL  string
	log        *logger.Logger
}

// New constructs a checkout service.
func New(beats storage.BeatStore, gateway payments.Gateway, successURL, cancelURL string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("checkout")
	}
	return &Service{
		beats:      beats,
		gateway:    gateway,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        log,
	}
}

// Begin validates the selections and opens a gateway session. accountID is
// empty for guest checkout, in which case guestEmail is required. Failures
// leave no state behind; the client may simply retry.
func (s *Service) Begin(ctx context.Context, accountID, email string, selections []Selection) (payments.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if accountID == "" && !strings.Contains(email, "@") {
		return payments.Session{}, apperr.Validation("a valid email is required for guest checkout")
	}
	if len(selections) == 0 {
		return payments.Session{}, apperr.Validation("cart is empty")
	}

	// Duplicate (beat, license) pairs collapse to one line.
	seen := make(map[string]bool)
	var lines []payments.Line
	for _, sel := range selections {
		key := sel.BeatID + "|" + string(sel.LicenseType)
		if seen[key] {
			continue
		}
		seen[key] = true

		line, err := s.priceLine(ctx, sel)
		if err != nil {
			return payments.Session{}, err
		}
		lines = append(lines, line)
	}

	metadata := map[string]string{MetaEmail: email}
	if accountID != "" {
		metadata[MetaAccountID] = accountID
	} else {
		metadata[MetaGuest] = "true"
	}

	session, err := s.gateway.CreateSession(ctx, payments.SessionRequest{
		Lines:         lines,
		CustomerEmail: email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata:      metadata,
	})
	if err != nil {
		metrics.RecordCheckoutSession("failed")
		return payments.Session{}, err
	}

	metrics.RecordCheckoutSession("created")
	s.log.WithField("session_id", session.ID).
		WithField("lines", len(lines)).
		Info("checkout session created")
	return session, nil
}

// priceLine resolves one selection against the live catalog and snapshots
// the current tier price.
func (s *Service) priceLine(ctx context.Context, sel Selection) (payments.Line, error) {
	if !catalog.ValidLicenseType(sel.LicenseType) {
		return payments.Line{}, apperr.Validation("unknown license type %q", sel.LicenseType)
	}

	beat, err := s.beats.GetBeat(ctx, sel.BeatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return payments.Line{}, apperr.NotFound(fmt.Sprintf("beat %s not found", sel.BeatID))
		}
		return payments.Line{}, apperr.Internal(err)
	}

	tier, ok := beat.Tier(sel.LicenseType)
	if !ok || !tier.Available {
		return payments.Line{}, apperr.ErrLicenseUnavailable
	}

	return payments.Line{
		BeatID:      beat.ID,
		Title:       beat.Title,
		LicenseType: string(sel.LicenseType),
		AmountCents: tier.PriceCents,
		Label:       fmt.Sprintf("%s - %s license", beat.Title, sel.LicenseType),
	}, nil
}
