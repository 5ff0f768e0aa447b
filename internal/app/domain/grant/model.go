// Package grant holds download entitlements issued after payment.
package grant

import (
	"time"

	"github.com/beatforge/storefront/internal/app/domain/catalog"
)

// Defaults applied at issuance.
const (
	DefaultMaxDownloads = 3
	DefaultTTL          = 30 * 24 * time.Hour
)

// Grant is a time-boxed, count-limited authorization to fetch the deliverable
// files of one purchased line item. AccountID is empty for guest orders.
type Grant struct {
	ID            string
	OrderID       string
	AccountID     string
	BeatID        string
	LicenseType   catalog.LicenseType
	DownloadCount int
	MaxDownloads  int
	ExpiresAt     time.Time
	Files         []catalog.MediaRef
	ContractRef   catalog.MediaRef // generated license contract document
	DeliveryEmail string
	CreatedAt     time.Time
}

// Expired reports whether the grant is past its expiry at now.
func (g Grant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Exhausted reports whether the download cap is reached.
func (g Grant) Exhausted() bool {
	return g.DownloadCount >= g.MaxDownloads
}
