// Package orders owns the durable purchase record. The webhook consumer here
// is the single writer for order creation and status transitions; everything
// is keyed idempotently on the payment provider's session reference so that
// duplicate deliveries and retries collapse to one outcome.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/beatforge/storefront/internal/apperr"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/grant"
	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/metrics"
	"github.com/beatforge/storefront/internal/app/services/checkout"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/internal/payments"
	"github.com/beatforge/storefront/pkg/logger"
)

// GrantIssuer creates download entitlements for a completed order.
type GrantIssuer interface {
	IssueForOrder(ctx context.Context, ord order.Order) ([]grant.Grant, error)
}

// Service manages orders and consumes payment webhook events.
type Service struct {
	store  storage.OrderStore
	issuer GrantIssuer
	log    *logger.Logger
}

// New constructs an order service. The grant issuer is attached separately to
// keep construction order flexible.
func New(store storage.OrderStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	return &Service{store: store, log: log}
}

// AttachIssuer wires the download entitlement issuer. Call before serving
// webhooks.
func (s *Service) AttachIssuer(issuer GrantIssuer) {
	s.issuer = issuer
}

// HandleEvent processes one verified payment event. Unknown event types are
// acknowledged without action so the gateway stops retrying them.
func (s *Service) HandleEvent(ctx context.Context, event payments.Event) error {
	switch event.Type {
	case payments.EventCheckoutCompleted:
		err := s.settle(ctx, event, order.StatusCompleted)
		metrics.RecordWebhookEvent(event.Type, outcome(err))
		return err
	case payments.EventCheckoutFailed:
		err := s.settle(ctx, event, order.StatusFailed)
		metrics.RecordWebhookEvent(event.Type, outcome(err))
		return err
	default:
		s.log.WithField("type", event.Type).Debug("ignoring webhook event")
		metrics.RecordWebhookEvent(event.Type, "ignored")
		return nil
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// settle upserts the order for the session and drives the status transition.
// Exactly the call that wins the pending → completed transition issues the
// download grants, so replays cannot duplicate them.
func (s *Service) settle(ctx context.Context, event payments.Event, target order.Status) error {
	ord, err := s.upsertOrder(ctx, event)
	if err != nil {
		return err
	}

	moved, err := s.store.TransitionOrder(ctx, ord.ID, order.StatusPending, target)
	if err != nil {
		return apperr.Internal(err)
	}
	if !moved {
		// Already settled by an earlier delivery; duplicate webhooks are
		// expected and harmless.
		s.log.WithField("order", ord.Number).
			WithField("status", string(target)).
			Debug("order already settled")
		return nil
	}
	ord.Status = target

	s.log.WithField("order", ord.Number).
		WithField("session_id", event.SessionID).
		WithField("status", string(target)).
		Info("order settled")

	if target == order.StatusCompleted && s.issuer != nil {
		if _, err := s.issuer.IssueForOrder(ctx, ord); err != nil {
			// The order is completed; grant issuance failing is an internal
			// problem to surface, not a reason to re-run the transition.
			return err
		}
	}
	return nil
}

// upsertOrder reconstructs the order from the session's metadata and line
// snapshot, inserting it if this is the first delivery for the session.
func (s *Service) upsertOrder(ctx context.Context, event payments.Event) (order.Order, error) {
	if len(event.Lines) == 0 {
		return order.Order{}, apperr.Validation("webhook event carries no lines")
	}

	items := make([]order.LineItem, 0, len(event.Lines))
	for _, line := range event.Lines {
		items = append(items, order.LineItem{
			BeatID:      line.BeatID,
			Title:       line.Title,
			LicenseType: catalog.LicenseType(line.LicenseType),
			PriceCents:  line.AmountCents,
		})
	}

	email := event.Metadata[checkout.MetaEmail]
	if email == "" {
		email = event.CustomerEmail
	}

	now := time.Now().UTC()
	ord := order.Order{
		Number:        order.NewNumber(now),
		AccountID:     event.Metadata[checkout.MetaAccountID],
		Items:         items,
		TotalCents:    order.Total(items),
		ProviderRef:   event.SessionID,
		Status:        order.StatusPending,
		DeliveryEmail: email,
		Guest:         event.Metadata[checkout.MetaGuest] == "true",
	}

	stored, created, err := s.store.CreateOrderIfAbsent(ctx, ord)
	if errors.Is(err, storage.ErrDuplicate) {
		// Order number collision. Regenerate once, then surface.
		ord.Number = order.NewNumber(now)
		stored, created, err = s.store.CreateOrderIfAbsent(ctx, ord)
	}
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return order.Order{}, apperr.Conflict("order number collision")
		}
		return order.Order{}, apperr.Internal(err)
	}
	if created {
		s.log.WithField("order", stored.Number).
			WithField("session_id", stored.ProviderRef).
			Info("order created")
	}
	return stored, nil
}

// Refund moves a completed order to refunded. Admin only.
func (s *Service) Refund(ctx context.Context, orderID string) (order.Order, error) {
	ord, err := s.Get(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if ord.Status == order.StatusRefunded {
		return ord, nil // terminal no-op
	}
	if !order.CanTransition(ord.Status, order.StatusRefunded) {
		return order.Order{}, apperr.Unprocessable("only completed orders can be refunded")
	}

	moved, err := s.store.TransitionOrder(ctx, ord.ID, order.StatusCompleted, order.StatusRefunded)
	if err != nil {
		return order.Order{}, apperr.Internal(err)
	}
	if !moved {
		return order.Order{}, apperr.Conflict("order changed state concurrently")
	}
	ord.Status = order.StatusRefunded
	s.log.WithField("order", ord.Number).Info("order refunded")
	return ord, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (order.Order, error) {
	ord, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return order.Order{}, apperr.NotFound("order not found")
		}
		return order.Order{}, apperr.Internal(err)
	}
	return ord, nil
}

// Lookup fetches an order by number for the buyer. Guests must present the
// delivery email; account owners must match the account id.
func (s *Service) Lookup(ctx context.Context, number, accountID, email string) (order.Order, error) {
	ord, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return order.Order{}, apperr.NotFound("order not found")
		}
		return order.Order{}, apperr.Internal(err)
	}

	switch {
	case accountID != "" && ord.AccountID == accountID:
		return ord, nil
	case ord.Guest && email != "" && ord.DeliveryEmail == email:
		return ord, nil
	default:
		return order.Order{}, apperr.Forbidden("not your order")
	}
}

// ListForAccount returns the account's orders, newest first.
func (s *Service) ListForAccount(ctx context.Context, accountID string) ([]order.Order, error) {
	result, err := s.store.ListOrders(ctx, accountID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return result, nil
}

// ListAll returns orders for the admin surface, optionally filtered by status.
func (s *Service) ListAll(ctx context.Context, status order.Status) ([]order.Order, error) {
	if status != "" {
		switch status {
		case order.StatusPending, order.StatusCompleted, order.StatusFailed, order.StatusRefunded:
		default:
			return nil, apperr.Validation("unknown status %q", status)
		}
	}
	result, err := s.store.ListAllOrders(ctx, status)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return result, nil
}
