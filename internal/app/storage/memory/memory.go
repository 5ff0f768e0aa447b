// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beatforge/storefront/internal/app/domain/account"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/grant"
	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/storage"
)

// Store is the in-memory implementation of every store interface.
type Store struct {
	mu              sync.Mutex
	accounts        map[string]account.Account
	accountsByEmail map[string]string
	beats           map[string]catalog.Beat
	orders          map[string]order.Order
	ordersByRef     map[string]string
	ordersByNumber  map[string]string
	grants          map[string]grant.Grant
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.BeatStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.GrantStore = (*Store)(nil)
var _ storage.StatsStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:        make(map[string]account.Account),
		accountsByEmail: make(map[string]string),
		beats:           make(map[string]catalog.Beat),
		orders:          make(map[string]order.Order),
		ordersByRef:     make(map[string]string),
		ordersByNumber:  make(map[string]string),
		grants:          make(map[string]grant.Grant),
	}
}

// AccountStore implementation ------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountsByEmail[acct.Email]; exists {
		return account.Account{}, storage.ErrDuplicate
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = acct
	s.accountsByEmail[acct.Email] = acct.ID
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.accountsByEmail[email]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	acct.Email = existing.Email
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[acct.ID] = acct
	return acct, nil
}

// BeatStore implementation ---------------------------------------------------

func (s *Store) CreateBeat(_ context.Context, beat catalog.Beat) (catalog.Beat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if beat.ID == "" {
		beat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	beat.CreatedAt = now
	beat.UpdatedAt = now
	s.beats[beat.ID] = beat
	return beat, nil
}

func (s *Store) UpdateBeat(_ context.Context, beat catalog.Beat) (catalog.Beat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.beats[beat.ID]
	if !ok {
		return catalog.Beat{}, storage.ErrNotFound
	}
	beat.Plays = existing.Plays
	beat.CreatedAt = existing.CreatedAt
	beat.UpdatedAt = time.Now().UTC()
	s.beats[beat.ID] = beat
	return beat, nil
}

func (s *Store) GetBeat(_ context.Context, id string) (catalog.Beat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	beat, ok := s.beats[id]
	if !ok {
		return catalog.Beat{}, storage.ErrNotFound
	}
	return beat, nil
}

func (s *Store) ListBeats(_ context.Context, filter storage.BeatFilter) ([]catalog.Beat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []catalog.Beat
	for _, beat := range s.beats {
		if matchBeat(beat, filter) {
			result = append(result, beat)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeleteBeat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.beats[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.beats, id)
	return nil
}

func (s *Store) IncrementPlays(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	beat, ok := s.beats[id]
	if !ok {
		return storage.ErrNotFound
	}
	beat.Plays++
	s.beats[id] = beat
	return nil
}

func matchBeat(beat catalog.Beat, filter storage.BeatFilter) bool {
	if filter.Genre != "" && !strings.EqualFold(beat.Genre, filter.Genre) {
		return false
	}
	if filter.Mood != "" && !containsFold(beat.Moods, filter.Mood) {
		return false
	}
	if filter.Tag != "" && !containsFold(beat.Tags, filter.Tag) {
		return false
	}
	if filter.Search != "" && !strings.Contains(strings.ToLower(beat.Title), strings.ToLower(filter.Search)) {
		return false
	}
	return true
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// OrderStore implementation --------------------------------------------------

func (s *Store) CreateOrderIfAbsent(_ context.Context, ord order.Order) (order.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.ordersByRef[ord.ProviderRef]; ok {
		return s.orders[existingID], false, nil
	}
	if _, taken := s.ordersByNumber[ord.Number]; taken {
		return order.Order{}, false, storage.ErrDuplicate
	}
	if ord.ID == "" {
		ord.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	s.orders[ord.ID] = ord
	s.ordersByRef[ord.ProviderRef] = ord.ID
	s.ordersByNumber[ord.Number] = ord.ID
	return ord, true, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[id]
	if !ok {
		return order.Order{}, storage.ErrNotFound
	}
	return ord, nil
}

func (s *Store) GetOrderByNumber(_ context.Context, number string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ordersByNumber[number]
	if !ok {
		return order.Order{}, storage.ErrNotFound
	}
	return s.orders[id], nil
}

func (s *Store) GetOrderByProviderRef(_ context.Context, ref string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ordersByRef[ref]
	if !ok {
		return order.Order{}, storage.ErrNotFound
	}
	return s.orders[id], nil
}

func (s *Store) ListOrders(_ context.Context, accountID string) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []order.Order
	for _, ord := range s.orders {
		if ord.AccountID == accountID {
			result = append(result, ord)
		}
	}
	sortOrders(result)
	return result, nil
}

func (s *Store) ListAllOrders(_ context.Context, status order.Status) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []order.Order
	for _, ord := range s.orders {
		if status == "" || ord.Status == status {
			result = append(result, ord)
		}
	}
	sortOrders(result)
	return result, nil
}

func sortOrders(orders []order.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func (s *Store) TransitionOrder(_ context.Context, id string, from, to order.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if ord.Status != from {
		return false, nil
	}
	ord.Status = to
	ord.UpdatedAt = time.Now().UTC()
	s.orders[id] = ord
	return true, nil
}

// GrantStore implementation --------------------------------------------------

func (s *Store) CreateGrant(_ context.Context, g grant.Grant) (grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt = time.Now().UTC()
	s.grants[g.ID] = g
	return g, nil
}

func (s *Store) GetGrant(_ context.Context, id string) (grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return grant.Grant{}, storage.ErrNotFound
	}
	return g, nil
}

func (s *Store) ListGrants(_ context.Context, accountID string) ([]grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []grant.Grant
	for _, g := range s.grants {
		if g.AccountID == accountID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListGrantsByOrder(_ context.Context, orderID string) ([]grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []grant.Grant
	for _, g := range s.grants {
		if g.OrderID == orderID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ConsumeGrant performs the check-and-increment under the store mutex, which
// is this implementation's equivalent of a conditional single-row update.
func (s *Store) ConsumeGrant(_ context.Context, id string, now time.Time) (grant.Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return grant.Grant{}, false, storage.ErrNotFound
	}
	if g.Expired(now) || g.Exhausted() {
		return g, false, nil
	}
	g.DownloadCount++
	s.grants[id] = g
	return g, true, nil
}

func (s *Store) CountExpiredGrants(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for _, g := range s.grants {
		if g.Expired(now) {
			count++
		}
	}
	return count, nil
}

// StatsStore implementation --------------------------------------------------

func (s *Store) OrderStats(_ context.Context) (storage.OrderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := storage.OrderStats{OrdersByStatus: make(map[order.Status]int)}
	sales := make(map[string]*storage.BeatSales)
	for _, ord := range s.orders {
		stats.OrdersByStatus[ord.Status]++
		if ord.Status != order.StatusCompleted && ord.Status != order.StatusRefunded {
			continue
		}
		stats.GrossRevenueCents += ord.TotalCents
		for _, item := range ord.Items {
			row, ok := sales[item.BeatID]
			if !ok {
				row = &storage.BeatSales{BeatID: item.BeatID, Title: item.Title}
				sales[item.BeatID] = row
			}
			row.Units++
			row.RevenueCents += item.PriceCents
		}
	}
	for _, g := range s.grants {
		stats.DownloadsServed += int64(g.DownloadCount)
	}
	for _, row := range sales {
		stats.TopBeats = append(stats.TopBeats, *row)
	}
	sort.Slice(stats.TopBeats, func(i, j int) bool {
		a, b := stats.TopBeats[i], stats.TopBeats[j]
		if a.Units != b.Units {
			return a.Units > b.Units
		}
		if a.RevenueCents != b.RevenueCents {
			return a.RevenueCents > b.RevenueCents
		}
		return a.BeatID < b.BeatID
	})
	if len(stats.TopBeats) > storage.TopBeatsLimit {
		stats.TopBeats = stats.TopBeats[:storage.TopBeatsLimit]
	}
	return stats, nil
}
