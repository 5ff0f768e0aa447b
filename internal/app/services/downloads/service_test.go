package downloads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beatforge/storefront/internal/apperr"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/grant"
	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/storage/memory"
	"github.com/beatforge/storefront/internal/mediastore"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	signer := mediastore.NewSigner("https://media.example.com", "media-secret", 15*time.Minute)
	return New(store, store, signer, nil), store
}

func seedBeat(t *testing.T, store *memory.Store) catalog.Beat {
	t.Helper()
	beat, err := store.CreateBeat(context.Background(), catalog.Beat{
		Title: "Night Drive",
		Files: map[catalog.FileFormat]catalog.MediaRef{
			catalog.FormatMP3: {ID: "file-mp3"},
			catalog.FormatWAV: {ID: "file-wav"},
		},
		Licenses: []catalog.LicenseTier{
			{Type: catalog.LicenseBasic, PriceCents: 2900, Available: true,
				Features: catalog.Features{Formats: []catalog.FileFormat{catalog.FormatMP3}}},
		},
	})
	if err != nil {
		t.Fatalf("seed beat: %v", err)
	}
	return beat
}

func TestIssueForOrder(t *testing.T) {
	svc, store := newService(t)
	beat := seedBeat(t, store)
	ctx := context.Background()

	ord := order.Order{
		ID:            "ord-1",
		Number:        "ORD-20260314-ABCDEF",
		DeliveryEmail: "a@b.com",
		Guest:         true,
		Items: []order.LineItem{
			{BeatID: beat.ID, Title: beat.Title, LicenseType: catalog.LicenseBasic, PriceCents: 2900},
		},
	}

	issued, err := svc.IssueForOrder(ctx, ord)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(issued) != 1 {
		t.Fatalf("grants = %d, want 1", len(issued))
	}

	g := issued[0]
	if g.DownloadCount != 0 || g.MaxDownloads != grant.DefaultMaxDownloads {
		t.Fatalf("counters wrong: %+v", g)
	}
	if time.Until(g.ExpiresAt) < 29*24*time.Hour {
		t.Fatalf("expiry too soon: %s", g.ExpiresAt)
	}
	// Basic tier unlocks mp3 only.
	if len(g.Files) != 1 || g.Files[0].ID != "file-mp3" {
		t.Fatalf("files = %+v", g.Files)
	}
	if g.ContractRef.ID == "" {
		t.Fatalf("missing contract ref")
	}
	if g.DeliveryEmail != "a@b.com" {
		t.Fatalf("delivery email = %s", g.DeliveryEmail)
	}
}

func TestIssueForOrderSkipsReissue(t *testing.T) {
	svc, store := newService(t)
	beat := seedBeat(t, store)
	ctx := context.Background()

	ord := order.Order{
		ID: "ord-1",
		Items: []order.LineItem{
			{BeatID: beat.ID, LicenseType: catalog.LicenseBasic},
		},
	}

	first, err := svc.IssueForOrder(ctx, ord)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := svc.IssueForOrder(ctx, ord)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if len(second) != len(first) || second[0].ID != first[0].ID {
		t.Fatalf("reissue created new grants")
	}

	all, _ := store.ListGrantsByOrder(ctx, "ord-1")
	if len(all) != 1 {
		t.Fatalf("stored grants = %d, want 1", len(all))
	}
}

func TestIssueForOrderMissingBeat(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	ord := order.Order{
		ID:    "ord-1",
		Items: []order.LineItem{{BeatID: "vanished", LicenseType: catalog.LicenseBasic}},
	}
	issued, err := svc.IssueForOrder(ctx, ord)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(issued) != 1 {
		t.Fatalf("grant not issued for vanished beat")
	}
	if len(issued[0].Files) != 0 {
		t.Fatalf("files = %+v, want none", issued[0].Files)
	}
	_ = store
}

func TestConsumeServesSignedURLs(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	g, err := store.CreateGrant(ctx, grant.Grant{
		AccountID:    "acct-1",
		BeatID:       "beat-1",
		LicenseType:  catalog.LicenseBasic,
		MaxDownloads: 3,
		ExpiresAt:    now.Add(time.Hour),
		Files:        []catalog.MediaRef{{ID: "file-mp3"}},
		ContractRef:  catalog.MediaRef{ID: "contract-1"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	bundle, err := svc.Consume(ctx, g.ID, "acct-1", "")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if bundle.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2", bundle.Remaining)
	}
	if len(bundle.Files) != 1 {
		t.Fatalf("files = %d", len(bundle.Files))
	}
	if !strings.Contains(bundle.Files[0].URL, "sig=") || !strings.Contains(bundle.Files[0].URL, "expires=") {
		t.Fatalf("file url not signed: %s", bundle.Files[0].URL)
	}
	if bundle.ContractURL == "" {
		t.Fatalf("contract url missing")
	}
}

func TestConsumeOwnership(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	owned, _ := store.CreateGrant(ctx, grant.Grant{
		AccountID: "acct-1", MaxDownloads: 3, ExpiresAt: now.Add(time.Hour),
	})
	guest, _ := store.CreateGrant(ctx, grant.Grant{
		DeliveryEmail: "guest@example.com", MaxDownloads: 3, ExpiresAt: now.Add(time.Hour),
	})

	if _, err := svc.Consume(ctx, owned.ID, "acct-2", ""); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("foreign account error = %v", err)
	}
	if _, err := svc.Consume(ctx, guest.ID, "", "other@example.com"); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("wrong guest email error = %v", err)
	}
	if _, err := svc.Consume(ctx, guest.ID, "", "GUEST@example.com"); err != nil {
		t.Fatalf("guest email should fold case: %v", err)
	}
	if _, err := svc.Consume(ctx, "missing", "acct-1", ""); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing grant error = %v", err)
	}
}

func TestConsumeExhaustedAndExpired(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	exhausted, _ := store.CreateGrant(ctx, grant.Grant{
		AccountID: "acct-1", DownloadCount: 3, MaxDownloads: 3, ExpiresAt: now.Add(time.Hour),
	})
	expired, _ := store.CreateGrant(ctx, grant.Grant{
		AccountID: "acct-1", MaxDownloads: 3, ExpiresAt: now.Add(-time.Hour),
	})

	if _, err := svc.Consume(ctx, exhausted.ID, "acct-1", ""); !errors.Is(err, apperr.ErrGrantExhausted) {
		t.Fatalf("exhausted error = %v", err)
	}
	if _, err := svc.Consume(ctx, expired.ID, "acct-1", ""); !errors.Is(err, apperr.ErrGrantExpired) {
		t.Fatalf("expired error = %v", err)
	}
}

func TestConsumeConcurrentLastUse(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := store.CreateGrant(ctx, grant.Grant{
		AccountID: "acct-1", DownloadCount: 2, MaxDownloads: 3, ExpiresAt: now.Add(time.Hour),
	})

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(ctx, g.ID, "acct-1", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, apperr.ErrGrantExhausted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}
