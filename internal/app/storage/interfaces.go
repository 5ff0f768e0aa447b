package storage

import (
	"context"
	"time"

	"github.com/beatforge/storefront/internal/app/domain/account"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/grant"
	"github.com/beatforge/storefront/internal/app/domain/order"
)

// BeatFilter narrows catalog listings. Zero values match everything.
type BeatFilter struct {
	Genre  string
	Mood   string
	Tag    string
	Search string // substring match on title
}

// AccountStore persists storefront identities.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
}

// BeatStore persists catalog entries.
type BeatStore interface {
	CreateBeat(ctx context.Context, beat catalog.Beat) (catalog.Beat, error)
	UpdateBeat(ctx context.Context, beat catalog.Beat) (catalog.Beat, error)
	GetBeat(ctx context.Context, id string) (catalog.Beat, error)
	ListBeats(ctx context.Context, filter BeatFilter) ([]catalog.Beat, error)
	DeleteBeat(ctx context.Context, id string) error

	// IncrementPlays is best-effort; lost increments under race are fine.
	IncrementPlays(ctx context.Context, id string) error
}

// OrderStore persists orders. CreateOrderIfAbsent and TransitionOrder are the
// idempotency anchors for webhook retries: both are conditional single-row
// writes, never blind overwrites.
type OrderStore interface {
	// CreateOrderIfAbsent inserts the order unless one with the same provider
	// reference already exists; it returns the stored order either way, with
	// created=false on the duplicate path.
	CreateOrderIfAbsent(ctx context.Context, ord order.Order) (stored order.Order, created bool, err error)

	GetOrder(ctx context.Context, id string) (order.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (order.Order, error)
	GetOrderByProviderRef(ctx context.Context, ref string) (order.Order, error)
	ListOrders(ctx context.Context, accountID string) ([]order.Order, error)
	ListAllOrders(ctx context.Context, status order.Status) ([]order.Order, error)

	// TransitionOrder moves the order from → to as a conditional update keyed
	// on the current status. It returns false when the order was not in the
	// expected from state.
	TransitionOrder(ctx context.Context, id string, from, to order.Status) (bool, error)
}

// GrantStore persists download grants.
type GrantStore interface {
	CreateGrant(ctx context.Context, g grant.Grant) (grant.Grant, error)
	GetGrant(ctx context.Context, id string) (grant.Grant, error)
	ListGrants(ctx context.Context, accountID string) ([]grant.Grant, error)
	ListGrantsByOrder(ctx context.Context, orderID string) ([]grant.Grant, error)

	// ConsumeGrant atomically increments the download counter, but only while
	// the grant is below its cap and not expired at now. It returns the grant
	// after the attempt and whether the increment won. This is the single
	// check-and-increment in the system and must not be a read-then-write.
	ConsumeGrant(ctx context.Context, id string, now time.Time) (grant.Grant, bool, error)

	// CountExpiredGrants reports how many grants are past their expiry at now.
	// Expired grants are never deleted; this feeds the sweeper's gauge.
	CountExpiredGrants(ctx context.Context, now time.Time) (int, error)
}

// StatsStore exposes aggregate numbers for the admin dashboard.
type StatsStore interface {
	OrderStats(ctx context.Context) (OrderStats, error)
}

// TopBeatsLimit caps the top-beats-by-sales aggregate.
const TopBeatsLimit = 5

// BeatSales is one row of the top-beats aggregate, derived from the line-item
// snapshots of completed and refunded orders.
type BeatSales struct {
	BeatID       string `json:"beat_id"`
	Title        string `json:"title"`
	Units        int    `json:"units"`
	RevenueCents int64  `json:"revenue_cents"`
}

// OrderStats is the admin aggregate view.
type OrderStats struct {
	OrdersByStatus    map[order.Status]int `json:"orders_by_status"`
	GrossRevenueCents int64                `json:"gross_revenue_cents"`
	DownloadsServed   int64                `json:"downloads_served"`
	TopBeats          []BeatSales          `json:"top_beats"`
}
