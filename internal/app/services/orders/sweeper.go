package orders

import (
	"context"
	"sync"
	"time"

	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/metrics"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/internal/app/system"
	"github.com/beatforge/storefront/pkg/logger"
)

// DefaultPendingTimeout is how long an order may sit in pending before the
// sweeper gives up on the gateway ever confirming it.
const DefaultPendingTimeout = 2 * time.Hour

// Sweeper fails pending orders whose payment was abandoned and tracks how
// many download grants have passed their expiry. It races the webhook
// consumer on purpose: both sides use the conditional status transition, so a
// late confirmation and the sweeper cannot both win. Grant expiry is enforced
// at consumption time; the sweep only surfaces the count.
type Sweeper struct {
	store    storage.OrderStore
	grants   storage.GrantStore
	timeout  time.Duration
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	lastExpired int
}

var _ system.Service = (*Sweeper)(nil)

func NewSweeper(store storage.OrderStore, grants storage.GrantStore, timeout time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("order-sweeper")
	}
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	return &Sweeper{
		store:    store,
		grants:   grants,
		timeout:  timeout,
		interval: 5 * time.Minute,
		log:      log,
	}
}

func (s *Sweeper) Name() string { return "order-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("order sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	pending, err := s.store.ListAllOrders(ctx, order.StatusPending)
	if err != nil {
		s.log.WithError(err).Warn("list pending orders failed")
		return
	}

	cutoff := time.Now().Add(-s.timeout)
	for _, ord := range pending {
		if ord.CreatedAt.After(cutoff) {
			continue
		}
		moved, err := s.store.TransitionOrder(ctx, ord.ID, order.StatusPending, order.StatusFailed)
		if err != nil {
			s.log.WithError(err).Warnf("sweep order %s failed", ord.Number)
			continue
		}
		if moved {
			s.log.Infof("order %s failed after pending timeout", ord.Number)
		}
	}

	s.sweepGrants(ctx)
}

func (s *Sweeper) sweepGrants(ctx context.Context) {
	count, err := s.grants.CountExpiredGrants(ctx, time.Now())
	if err != nil {
		s.log.WithError(err).Warn("count expired grants failed")
		return
	}
	metrics.SetExpiredGrants(count)

	s.mu.Lock()
	changed := count != s.lastExpired
	s.lastExpired = count
	s.mu.Unlock()
	if changed {
		s.log.Infof("%d download grants past expiry", count)
	}
}
