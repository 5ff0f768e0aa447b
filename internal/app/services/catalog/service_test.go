package catalog

import (
	"context"
	"testing"

	"github.com/beatforge/storefront/internal/apperr"
	domain "github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/internal/app/storage/memory"
)

func validBeat() domain.Beat {
	return domain.Beat{
		Title: "Night Drive",
		Tempo: 140,
		Genre: "trap",
		Licenses: []domain.LicenseTier{
			{Type: domain.LicenseBasic, PriceCents: 2900, Available: true},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validBeat())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("missing id")
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Night Drive" {
		t.Fatalf("title = %s", got.Title)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	cases := map[string]domain.Beat{
		"empty title": func() domain.Beat { b := validBeat(); b.Title = ""; return b }(),
		"negative tempo": func() domain.Beat { b := validBeat(); b.Tempo = -1; return b }(),
		"no tiers": func() domain.Beat { b := validBeat(); b.Licenses = nil; return b }(),
		"unknown tier type": func() domain.Beat {
			b := validBeat()
			b.Licenses[0].Type = "platinum"
			return b
		}(),
		"negative price": func() domain.Beat {
			b := validBeat()
			b.Licenses[0].PriceCents = -100
			return b
		}(),
		"duplicate tier": func() domain.Beat {
			b := validBeat()
			b.Licenses = append(b.Licenses, b.Licenses[0])
			return b
		}(),
	}
	for name, beat := range cases {
		if _, err := svc.Create(ctx, beat); apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("%s: error = %v, want validation", name, err)
		}
	}
}

func TestGetIncrementsPlays(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validBeat())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 1; i <= 3; i++ {
		got, err := svc.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got.Plays != int64(i) {
			t.Fatalf("plays after get %d = %d", i, got.Plays)
		}
	}

	// GetRaw must not touch the counter.
	raw, err := svc.GetRaw(ctx, created.ID)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if raw.Plays != 3 {
		t.Fatalf("raw plays = %d, want 3", raw.Plays)
	}
}

func TestUpdatePreservesPlays(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validBeat())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); err != nil {
		t.Fatalf("get: %v", err)
	}

	update := validBeat()
	update.ID = created.ID
	update.Title = "Night Drive (Remaster)"
	updated, err := svc.Update(ctx, update)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Plays != 1 {
		t.Fatalf("plays after update = %d, want 1", updated.Plays)
	}
	if updated.Title != "Night Drive (Remaster)" {
		t.Fatalf("title = %s", updated.Title)
	}
}

func TestDelete(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validBeat())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("get after delete error = %v", err)
	}
	if err := svc.Delete(ctx, created.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("double delete error = %v", err)
	}
}

func TestListFiltersPassThrough(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, validBeat()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	other := validBeat()
	other.Title = "Sunrise"
	other.Genre = "lofi"
	if _, err := svc.Create(ctx, other); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := svc.List(ctx, storage.BeatFilter{Genre: "lofi"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Sunrise" {
		t.Fatalf("filtered list = %+v", got)
	}
}
