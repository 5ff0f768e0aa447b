// Package order holds the durable purchase record and its status lifecycle.
package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/beatforge/storefront/internal/app/domain/catalog"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// CanTransition reports whether from → to is a legal lifecycle move.
// pending → completed|failed; completed → refunded. Nothing else.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	}
	return false
}

// LineItem is a frozen snapshot taken at checkout time. It is never
// re-derived from the live catalog after creation, so later price edits
// cannot change what a buyer was billed.
type LineItem struct {
	BeatID      string              `json:"beat_id"`
	Title       string              `json:"title"`
	LicenseType catalog.LicenseType `json:"license_type"`
	PriceCents  int64               `json:"price_cents"`
}

// Order is the authoritative transaction record. AccountID is empty for
// guest purchases; DeliveryEmail is always set.
type Order struct {
	ID            string
	Number        string // ORD-YYYYMMDD-<random6>, unique
	AccountID     string
	Items         []LineItem
	TotalCents    int64
	ProviderRef   string // payment gateway session reference, unique
	Status        Status
	DeliveryEmail string
	Guest         bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewNumber generates a human-readable order number for the given day.
func NewNumber(now time.Time) string {
	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand is the process entropy source; if it fails the
			// process has bigger problems than order numbering.
			panic(err)
		}
		suffix[i] = numberAlphabet[n.Int64()]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// Total sums the line-item snapshots.
func Total(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.PriceCents
	}
	return total
}
