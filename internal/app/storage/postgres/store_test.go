package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

var grantColumns = []string{
	"id", "order_id", "account_id", "beat_id", "license_type",
	"download_count", "max_downloads", "expires_at", "files", "contract",
	"delivery_email", "created_at",
}

var orderColumns = []string{
	"id", "order_number", "account_id", "items", "total_cents", "provider_ref",
	"status", "delivery_email", "guest", "created_at", "updated_at",
}

func TestTransitionOrderWins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE store_orders").
		WithArgs("ord-1", "pending", "completed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.TransitionOrder(context.Background(), "ord-1", order.StatusPending, order.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrderLosesWhenStatusMoved(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE store_orders").
		WithArgs("ord-1", "pending", "completed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The conditional update missed; the store re-reads to distinguish a
	// wrong-state order from a missing one.
	mock.ExpectQuery("FROM store_orders").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(orderColumns).AddRow(
			"ord-1", "ORD-20260314-ABC123", nil, []byte(`[]`), int64(2900),
			"cs_1", "completed", "guest@example.com", true, now, now,
		))

	ok, err := store.TransitionOrder(context.Background(), "ord-1", order.StatusPending, order.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrderMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE store_orders").
		WithArgs("ord-x", "pending", "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM store_orders").
		WithArgs("ord-x").
		WillReturnRows(sqlmock.NewRows(orderColumns))

	_, err := store.TransitionOrder(context.Background(), "ord-x", order.StatusPending, order.StatusFailed)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeGrantIncrements(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)

	mock.ExpectQuery("UPDATE store_grants").
		WithArgs("g-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			"g-1", "ord-1", "acc-1", "beat-1", "basic",
			2, 3, expires, []byte(`[]`), []byte(`{}`),
			"buyer@example.com", now,
		))

	g, ok, err := store.ConsumeGrant(context.Background(), "g-1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, g.DownloadCount)
	assert.Equal(t, catalog.LicenseType("basic"), g.LicenseType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeGrantSpentRereads(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)

	// The conditional update matches nothing when the grant is spent; the
	// store re-reads so the caller can report why.
	mock.ExpectQuery("UPDATE store_grants").
		WithArgs("g-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(grantColumns))
	mock.ExpectQuery("FROM store_grants").
		WithArgs("g-1").
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			"g-1", "ord-1", nil, "beat-1", "basic",
			3, 3, expires, []byte(`[]`), []byte(`{}`),
			"buyer@example.com", now,
		))

	g, ok, err := store.ConsumeGrant(context.Background(), "g-1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, g.DownloadCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeGrantMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE store_grants").
		WithArgs("g-x", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(grantColumns))
	mock.ExpectQuery("FROM store_grants").
		WithArgs("g-x").
		WillReturnRows(sqlmock.NewRows(grantColumns))

	_, _, err := store.ConsumeGrant(context.Background(), "g-x", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderIfAbsentReturnsExisting(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// ON CONFLICT DO NOTHING reports zero rows for a replayed provider_ref,
	// and the stored order comes back instead.
	mock.ExpectExec("INSERT INTO store_orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM store_orders").
		WithArgs("cs_1").
		WillReturnRows(sqlmock.NewRows(orderColumns).AddRow(
			"ord-stored", "ORD-20260314-XYZ789", nil, []byte(`[]`), int64(2900),
			"cs_1", "completed", "guest@example.com", true, now, now,
		))

	got, created, err := store.CreateOrderIfAbsent(context.Background(), order.Order{
		Number:        "ORD-20260314-NEW111",
		ProviderRef:   "cs_1",
		Status:        order.StatusPending,
		DeliveryEmail: "guest@example.com",
		Guest:         true,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ord-stored", got.ID)
	assert.Equal(t, "ORD-20260314-XYZ789", got.Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderIfAbsentInserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO store_orders").
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, created, err := store.CreateOrderIfAbsent(context.Background(), order.Order{
		Number:      "ORD-20260314-NEW111",
		ProviderRef: "cs_2",
		Status:      order.StatusPending,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStatsAggregates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count", "total"}).
			AddRow("completed", 2, int64(7800)).
			AddRow("refunded", 1, int64(500)).
			AddRow("failed", 1, int64(1000)))
	mock.ExpectQuery("SUM\\(download_count\\)").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(4)))
	mock.ExpectQuery("jsonb_array_elements").
		WithArgs(storage.TopBeatsLimit).
		WillReturnRows(sqlmock.NewRows([]string{"beat_id", "title", "units", "revenue"}).
			AddRow("beat-a", "Night Drive", 3, int64(15700)).
			AddRow("beat-b", "Cold Front", 1, int64(4900)))

	stats, err := store.OrderStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OrdersByStatus[order.StatusCompleted])
	assert.Equal(t, int64(8300), stats.GrossRevenueCents)
	assert.Equal(t, int64(4), stats.DownloadsServed)
	require.Len(t, stats.TopBeats, 2)
	assert.Equal(t, storage.BeatSales{BeatID: "beat-a", Title: "Night Drive", Units: 3, RevenueCents: 15700}, stats.TopBeats[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErrorUniqueViolation(t *testing.T) {
	err := mapError(&pq.Error{Code: "23505"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}
