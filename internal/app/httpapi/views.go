package httpapi

import (
	"time"

	"github.com/beatforge/storefront/internal/app/domain/account"
	"github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/grant"
	"github.com/beatforge/storefront/internal/app/domain/order"
)

// Response views keep wire shapes decoupled from the domain structs and make
// sure credentials and hashes never leak into a payload.

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func accountView(acct account.Account) accountResponse {
	return accountResponse{
		ID:        acct.ID,
		Email:     acct.Email,
		FirstName: acct.FirstName,
		LastName:  acct.LastName,
		Role:      string(acct.Role),
		CreatedAt: acct.CreatedAt,
	}
}

type beatResponse struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Tempo     int                   `json:"tempo"`
	Key       string                `json:"key,omitempty"`
	Genre     string                `json:"genre,omitempty"`
	Moods     []string              `json:"moods,omitempty"`
	Tags      []string              `json:"tags,omitempty"`
	Preview   catalog.MediaRef      `json:"preview"`
	Cover     catalog.MediaRef      `json:"cover"`
	Licenses  []catalog.LicenseTier `json:"licenses"`
	Plays     int64                 `json:"plays"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// beatView deliberately omits Files: the full-quality deliverables are only
// reachable through a download grant.
func beatView(b catalog.Beat) beatResponse {
	return beatResponse{
		ID:        b.ID,
		Title:     b.Title,
		Tempo:     b.Tempo,
		Key:       b.Key,
		Genre:     b.Genre,
		Moods:     b.Moods,
		Tags:      b.Tags,
		Preview:   b.Preview,
		Cover:     b.Cover,
		Licenses:  b.Licenses,
		Plays:     b.Plays,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func beatViews(beats []catalog.Beat) []beatResponse {
	out := make([]beatResponse, 0, len(beats))
	for _, b := range beats {
		out = append(out, beatView(b))
	}
	return out
}

type orderResponse struct {
	ID            string           `json:"id"`
	Number        string           `json:"number"`
	AccountID     string           `json:"account_id,omitempty"`
	Items         []order.LineItem `json:"items"`
	TotalCents    int64            `json:"total_cents"`
	Status        string           `json:"status"`
	DeliveryEmail string           `json:"delivery_email"`
	Guest         bool             `json:"guest"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func orderView(ord order.Order) orderResponse {
	return orderResponse{
		ID:            ord.ID,
		Number:        ord.Number,
		AccountID:     ord.AccountID,
		Items:         ord.Items,
		TotalCents:    ord.TotalCents,
		Status:        string(ord.Status),
		DeliveryEmail: ord.DeliveryEmail,
		Guest:         ord.Guest,
		CreatedAt:     ord.CreatedAt,
		UpdatedAt:     ord.UpdatedAt,
	}
}

func orderViews(list []order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(list))
	for _, ord := range list {
		out = append(out, orderView(ord))
	}
	return out
}

type grantResponse struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	BeatID        string    `json:"beat_id"`
	LicenseType   string    `json:"license_type"`
	DownloadCount int       `json:"download_count"`
	MaxDownloads  int       `json:"max_downloads"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// grantView omits the raw media refs; files are only handed out as signed
// URLs through consumption.
func grantView(g grant.Grant) grantResponse {
	return grantResponse{
		ID:            g.ID,
		OrderID:       g.OrderID,
		BeatID:        g.BeatID,
		LicenseType:   string(g.LicenseType),
		DownloadCount: g.DownloadCount,
		MaxDownloads:  g.MaxDownloads,
		ExpiresAt:     g.ExpiresAt,
		CreatedAt:     g.CreatedAt,
	}
}

func grantViews(list []grant.Grant) []grantResponse {
	out := make([]grantResponse, 0, len(list))
	for _, g := range list {
		out = append(out, grantView(g))
	}
	return out
}
