// Package postgres implements the storage interfaces backed by PostgreSQL.
// The two race-sensitive operations, order status transitions and grant
// consumption, are expressed as conditional single-row updates so that
// concurrent webhook deliveries and download requests serialize in the
// database rather than in process.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beatforge/storefront/internal/app/domain/account"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/grant"
	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.BeatStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.GrantStore = (*Store)(nil)
var _ storage.StatsStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrDuplicate
	}
	return err
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_accounts (id, email, password_hash, first_name, last_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, acct.ID, acct.Email, acct.PasswordHash, acct.FirstName, acct.LastName, string(acct.Role), acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, mapError(err)
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, first_name, last_name, role, created_at, updated_at
		FROM store_accounts
		WHERE id = $1
	`, id))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, first_name, last_name, role, created_at, updated_at
		FROM store_accounts
		WHERE email = $1
	`, email))
}

func (s *Store) scanAccount(row *sql.Row) (account.Account, error) {
	var (
		acct account.Account
		role string
	)
	if err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.FirstName, &acct.LastName, &role, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return account.Account{}, mapError(err)
	}
	acct.Role = account.Role(role)
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE store_accounts
		SET password_hash = $2, first_name = $3, last_name = $4, role = $5, updated_at = $6
		WHERE id = $1
	`, acct.ID, acct.PasswordHash, acct.FirstName, acct.LastName, string(acct.Role), acct.UpdatedAt)
	if err != nil {
		return account.Account{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

// --- BeatStore --------------------------------------------------------------

type beatDoc struct {
	Moods    []string                           `json:"moods"`
	Tags     []string                           `json:"tags"`
	Preview  catalog.MediaRef                   `json:"preview"`
	Cover    catalog.MediaRef                   `json:"cover"`
	Files    map[catalog.FileFormat]catalog.MediaRef `json:"files"`
	Licenses []catalog.LicenseTier              `json:"licenses"`
}

func (s *Store) CreateBeat(ctx context.Context, beat catalog.Beat) (catalog.Beat, error) {
	if beat.ID == "" {
		beat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	beat.CreatedAt = now
	beat.UpdatedAt = now

	doc, err := json.Marshal(beatDoc{
		Moods: beat.Moods, Tags: beat.Tags,
		Preview: beat.Preview, Cover: beat.Cover,
		Files: beat.Files, Licenses: beat.Licenses,
	})
	if err != nil {
		return catalog.Beat{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO store_beats (id, title, tempo, musical_key, genre, doc, plays, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, beat.ID, beat.Title, beat.Tempo, beat.Key, beat.Genre, doc, beat.Plays, beat.CreatedAt, beat.UpdatedAt)
	if err != nil {
		return catalog.Beat{}, mapError(err)
	}
	return beat, nil
}

func (s *Store) UpdateBeat(ctx context.Context, beat catalog.Beat) (catalog.Beat, error) {
	beat.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(beatDoc{
		Moods: beat.Moods, Tags: beat.Tags,
		Preview: beat.Preview, Cover: beat.Cover,
		Files: beat.Files, Licenses: beat.Licenses,
	})
	if err != nil {
		return catalog.Beat{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE store_beats
		SET title = $2, tempo = $3, musical_key = $4, genre = $5, doc = $6, updated_at = $7
		WHERE id = $1
	`, beat.ID, beat.Title, beat.Tempo, beat.Key, beat.Genre, doc, beat.UpdatedAt)
	if err != nil {
		return catalog.Beat{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.Beat{}, storage.ErrNotFound
	}
	return beat, nil
}

func (s *Store) GetBeat(ctx context.Context, id string) (catalog.Beat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, tempo, musical_key, genre, doc, plays, created_at, updated_at
		FROM store_beats
		WHERE id = $1
	`, id)
	return scanBeat(row.Scan)
}

func scanBeat(scan func(...interface{}) error) (catalog.Beat, error) {
	var (
		beat   catalog.Beat
		docRaw []byte
	)
	if err := scan(&beat.ID, &beat.Title, &beat.Tempo, &beat.Key, &beat.Genre, &docRaw, &beat.Plays, &beat.CreatedAt, &beat.UpdatedAt); err != nil {
		return catalog.Beat{}, mapError(err)
	}
	if len(docRaw) > 0 {
		var doc beatDoc
		if err := json.Unmarshal(docRaw, &doc); err != nil {
			return catalog.Beat{}, err
		}
		beat.Moods = doc.Moods
		beat.Tags = doc.Tags
		beat.Preview = doc.Preview
		beat.Cover = doc.Cover
		beat.Files = doc.Files
		beat.Licenses = doc.Licenses
	}
	return beat, nil
}

func (s *Store) ListBeats(ctx context.Context, filter storage.BeatFilter) ([]catalog.Beat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, tempo, musical_key, genre, doc, plays, created_at, updated_at
		FROM store_beats
		WHERE ($1 = '' OR lower(genre) = lower($1))
		  AND ($2 = '' OR lower(title) LIKE '%' || lower($2) || '%')
		ORDER BY created_at
	`, filter.Genre, filter.Search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.Beat
	for rows.Next() {
		beat, err := scanBeat(rows.Scan)
		if err != nil {
			return nil, err
		}
		// Mood and tag filters live in the JSON document; filter in process.
		if filter.Mood != "" && !containsFold(beat.Moods, filter.Mood) {
			continue
		}
		if filter.Tag != "" && !containsFold(beat.Tags, filter.Tag) {
			continue
		}
		result = append(result, beat)
	}
	return result, rows.Err()
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func (s *Store) DeleteBeat(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM store_beats WHERE id = $1
	`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementPlays(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE store_beats SET plays = plays + 1 WHERE id = $1
	`, id)
	return mapError(err)
}

// --- OrderStore -------------------------------------------------------------

func (s *Store) CreateOrderIfAbsent(ctx context.Context, ord order.Order) (order.Order, bool, error) {
	if ord.ID == "" {
		ord.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	itemsJSON, err := json.Marshal(ord.Items)
	if err != nil {
		return order.Order{}, false, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO store_orders (id, order_number, account_id, items, total_cents, provider_ref, status, delivery_email, guest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider_ref) DO NOTHING
	`, ord.ID, ord.Number, toNullString(ord.AccountID), itemsJSON, ord.TotalCents, ord.ProviderRef, string(ord.Status), ord.DeliveryEmail, ord.Guest, ord.CreatedAt, ord.UpdatedAt)
	if err != nil {
		// A unique violation here is the order-number index; the provider_ref
		// conflict is swallowed by DO NOTHING.
		return order.Order{}, false, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return ord, true, nil
	}

	existing, err := s.GetOrderByProviderRef(ctx, ord.ProviderRef)
	if err != nil {
		return order.Order{}, false, err
	}
	return existing, false, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	return s.scanOrder(s.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id).Scan)
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (order.Order, error) {
	return s.scanOrder(s.db.QueryRowContext(ctx, selectOrder+` WHERE order_number = $1`, number).Scan)
}

func (s *Store) GetOrderByProviderRef(ctx context.Context, ref string) (order.Order, error) {
	return s.scanOrder(s.db.QueryRowContext(ctx, selectOrder+` WHERE provider_ref = $1`, ref).Scan)
}

const selectOrder = `
	SELECT id, order_number, account_id, items, total_cents, provider_ref, status, delivery_email, guest, created_at, updated_at
	FROM store_orders`

func (s *Store) scanOrder(scan func(...interface{}) error) (order.Order, error) {
	var (
		ord       order.Order
		accountID sql.NullString
		itemsRaw  []byte
		status    string
	)
	if err := scan(&ord.ID, &ord.Number, &accountID, &itemsRaw, &ord.TotalCents, &ord.ProviderRef, &status, &ord.DeliveryEmail, &ord.Guest, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
		return order.Order{}, mapError(err)
	}
	if accountID.Valid {
		ord.AccountID = accountID.String
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &ord.Items); err != nil {
			return order.Order{}, err
		}
	}
	ord.Status = order.Status(status)
	return ord, nil
}

func (s *Store) ListOrders(ctx context.Context, accountID string) ([]order.Order, error) {
	return s.listOrders(ctx, selectOrder+` WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
}

func (s *Store) ListAllOrders(ctx context.Context, status order.Status) ([]order.Order, error) {
	return s.listOrders(ctx, selectOrder+` WHERE $1 = '' OR status = $1 ORDER BY created_at DESC`, string(status))
}

func (s *Store) listOrders(ctx context.Context, query string, arg interface{}) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		ord, err := s.scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, ord)
	}
	return result, rows.Err()
}

// TransitionOrder is a conditional update keyed on the current status so
// duplicate webhook deliveries resolve to exactly one winner.
func (s *Store) TransitionOrder(ctx context.Context, id string, from, to order.Status) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE store_orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 1 {
		return true, nil
	}
	// Distinguish "wrong state" from "no such order".
	if _, err := s.GetOrder(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// --- GrantStore -------------------------------------------------------------

func (s *Store) CreateGrant(ctx context.Context, g grant.Grant) (grant.Grant, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt = time.Now().UTC()

	filesJSON, err := json.Marshal(g.Files)
	if err != nil {
		return grant.Grant{}, err
	}
	contractJSON, err := json.Marshal(g.ContractRef)
	if err != nil {
		return grant.Grant{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO store_grants (id, order_id, account_id, beat_id, license_type, download_count, max_downloads, expires_at, files, contract, delivery_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, g.ID, g.OrderID, toNullString(g.AccountID), g.BeatID, string(g.LicenseType), g.DownloadCount, g.MaxDownloads, g.ExpiresAt, filesJSON, contractJSON, g.DeliveryEmail, g.CreatedAt)
	if err != nil {
		return grant.Grant{}, mapError(err)
	}
	return g, nil
}

const selectGrant = `
	SELECT id, order_id, account_id, beat_id, license_type, download_count, max_downloads, expires_at, files, contract, delivery_email, created_at
	FROM store_grants`

func (s *Store) GetGrant(ctx context.Context, id string) (grant.Grant, error) {
	return scanGrant(s.db.QueryRowContext(ctx, selectGrant+` WHERE id = $1`, id).Scan)
}

func scanGrant(scan func(...interface{}) error) (grant.Grant, error) {
	var (
		g           grant.Grant
		accountID   sql.NullString
		licenseType string
		filesRaw    []byte
		contractRaw []byte
	)
	if err := scan(&g.ID, &g.OrderID, &accountID, &g.BeatID, &licenseType, &g.DownloadCount, &g.MaxDownloads, &g.ExpiresAt, &filesRaw, &contractRaw, &g.DeliveryEmail, &g.CreatedAt); err != nil {
		return grant.Grant{}, mapError(err)
	}
	if accountID.Valid {
		g.AccountID = accountID.String
	}
	g.LicenseType = catalog.LicenseType(licenseType)
	if len(filesRaw) > 0 {
		if err := json.Unmarshal(filesRaw, &g.Files); err != nil {
			return grant.Grant{}, err
		}
	}
	if len(contractRaw) > 0 {
		if err := json.Unmarshal(contractRaw, &g.ContractRef); err != nil {
			return grant.Grant{}, err
		}
	}
	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, accountID string) ([]grant.Grant, error) {
	return s.listGrants(ctx, selectGrant+` WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
}

func (s *Store) ListGrantsByOrder(ctx context.Context, orderID string) ([]grant.Grant, error) {
	return s.listGrants(ctx, selectGrant+` WHERE order_id = $1 ORDER BY created_at`, orderID)
}

func (s *Store) listGrants(ctx context.Context, query string, arg interface{}) ([]grant.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []grant.Grant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// ConsumeGrant increments the download counter with a single conditional
// update. Two concurrent calls against a grant with one remaining use race on
// the WHERE clause, so exactly one of them wins.
func (s *Store) ConsumeGrant(ctx context.Context, id string, now time.Time) (grant.Grant, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE store_grants
		SET download_count = download_count + 1
		WHERE id = $1 AND download_count < max_downloads AND expires_at > $2
		RETURNING id, order_id, account_id, beat_id, license_type, download_count, max_downloads, expires_at, files, contract, delivery_email, created_at
	`, id, now.UTC())

	g, err := scanGrant(row.Scan)
	if err == nil {
		return g, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return grant.Grant{}, false, err
	}

	// The update matched nothing: either the grant is spent/expired or it
	// does not exist. Re-read to tell the caller which.
	g, err = s.GetGrant(ctx, id)
	if err != nil {
		return grant.Grant{}, false, err
	}
	return g, false, nil
}

func (s *Store) CountExpiredGrants(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM store_grants WHERE expires_at <= $1
	`, now.UTC()).Scan(&count)
	return count, err
}

// --- StatsStore -------------------------------------------------------------

func (s *Store) OrderStats(ctx context.Context) (storage.OrderStats, error) {
	stats := storage.OrderStats{OrdersByStatus: make(map[order.Status]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM store_orders
		GROUP BY status
	`)
	if err != nil {
		return storage.OrderStats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
			total  int64
		)
		if err := rows.Scan(&status, &count, &total); err != nil {
			return storage.OrderStats{}, err
		}
		stats.OrdersByStatus[order.Status(status)] = count
		if order.Status(status) == order.StatusCompleted || order.Status(status) == order.StatusRefunded {
			stats.GrossRevenueCents += total
		}
	}
	if err := rows.Err(); err != nil {
		return storage.OrderStats{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(download_count), 0) FROM store_grants
	`)
	if err := row.Scan(&stats.DownloadsServed); err != nil {
		return storage.OrderStats{}, err
	}

	top, err := s.topBeats(ctx)
	if err != nil {
		return storage.OrderStats{}, err
	}
	stats.TopBeats = top
	return stats, nil
}

// topBeats unnests the line-item snapshots of settled orders so the aggregate
// reflects what was actually sold, not the live catalog.
func (s *Store) topBeats(ctx context.Context) ([]storage.BeatSales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item->>'beat_id',
		       MAX(item->>'title'),
		       COUNT(*),
		       COALESCE(SUM((item->>'price_cents')::bigint), 0)
		FROM store_orders, jsonb_array_elements(items) AS item
		WHERE status IN ('completed', 'refunded')
		GROUP BY item->>'beat_id'
		ORDER BY COUNT(*) DESC, 4 DESC, 1
		LIMIT $1
	`, storage.TopBeatsLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.BeatSales
	for rows.Next() {
		var row storage.BeatSales
		if err := rows.Scan(&row.BeatID, &row.Title, &row.Units, &row.RevenueCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func toNullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
