package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/beatforge/storefront/internal/app"
	"github.com/beatforge/storefront/internal/app/auth"
	"github.com/beatforge/storefront/internal/app/domain/account"
	"github.com/beatforge/storefront/internal/app/storage/memory"
	"github.com/beatforge/storefront/internal/mediastore"
	"github.com/beatforge/storefront/internal/middleware"
	"github.com/beatforge/storefront/internal/payments"
)

const testWebhookSecret = "whsec-test"

type stubGateway struct {
	sessions int
}

func (g *stubGateway) CreateSession(_ context.Context, req payments.SessionRequest) (payments.Session, error) {
	g.sessions++
	return payments.Session{
		ID:  fmt.Sprintf("sess-%d", g.sessions),
		URL: fmt.Sprintf("https://pay.example.com/sess-%d", g.sessions),
	}, nil
}

type fixture struct {
	handler http.Handler
	store   *memory.Store
	tokens  *auth.Manager
	gateway *stubGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	tokens := auth.NewManager("test-secret", time.Hour)
	gateway := &stubGateway{}
	signer := mediastore.NewSigner("https://media.example.com", "media-secret", 15*time.Minute)

	application, err := app.New(
		app.Stores{Accounts: store, Beats: store, Orders: store, Grants: store, Stats: store},
		app.Options{
			Tokens:        tokens,
			Gateway:       gateway,
			Signer:        signer,
			SuccessURL:    "https://shop.example.com/thanks",
			CancelURL:     "https://shop.example.com/cart",
			WebhookSecret: testWebhookSecret,
		},
		nil,
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	authn := middleware.NewAuthenticator(tokens, nil)
	return &fixture{
		handler: NewHandler(application, authn, nil, nil),
		store:   store,
		tokens:  tokens,
		gateway: gateway,
	}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rr.Body.String())
	}
	if !envelope.Success {
		t.Fatalf("request failed: %s", envelope.Error)
	}
	if dst != nil {
		if err := json.Unmarshal(envelope.Data, dst); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func (f *fixture) adminToken(t *testing.T) string {
	t.Helper()
	acct, err := f.store.CreateAccount(context.Background(), account.Account{
		Email: "admin@example.com", PasswordHash: "x", Role: account.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	token, err := f.tokens.Issue(acct)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

func (f *fixture) seedBeat(t *testing.T, adminToken string) string {
	t.Helper()
	create := map[string]interface{}{
		"title": "Night Drive",
		"tempo": 140,
		"genre": "trap",
		"moods": []string{"dark"},
		"files": map[string]interface{}{
			"mp3": map[string]string{"id": "file-mp3"},
			"wav": map[string]string{"id": "file-wav"},
		},
		"licenses": []map[string]interface{}{
			{
				"type": "basic", "price_cents": 2900, "available": true,
				"features": map[string]interface{}{"formats": []string{"mp3"}},
			},
			{
				"type": "pro", "price_cents": 9900, "available": true,
				"features": map[string]interface{}{"formats": []string{"mp3", "wav"}},
			},
		},
	}
	resp := f.do(t, http.MethodPost, "/api/admin/beats", adminToken, create)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create beat status = %d: %s", resp.Code, resp.Body.String())
	}
	var beat struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &beat)
	return beat.ID
}

func (f *fixture) deliverWebhook(t *testing.T, event payments.Event) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, payments.Sign(payload, testWebhookSecret))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestGuestPurchaseLifecycle(t *testing.T) {
	f := newFixture(t)
	admin := f.adminToken(t)
	beatID := f.seedBeat(t, admin)

	// Browse the catalog anonymously.
	rr := f.do(t, http.MethodGet, "/api/beats?genre=trap", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list beats status = %d", rr.Code)
	}
	var beats []struct {
		ID       string `json:"id"`
		Licenses []struct {
			Type       string `json:"type"`
			PriceCents int64  `json:"price_cents"`
		} `json:"licenses"`
	}
	decodeData(t, rr, &beats)
	if len(beats) != 1 || beats[0].Licenses[0].PriceCents != 2900 {
		t.Fatalf("catalog listing = %+v", beats)
	}

	// Open a guest checkout session.
	rr = f.do(t, http.MethodPost, "/api/checkout/session", "", map[string]interface{}{
		"email": "a@b.com",
		"selections": []map[string]string{
			{"beat_id": beatID, "license_type": "basic"},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d: %s", rr.Code, rr.Body.String())
	}
	var session struct {
		SessionID   string `json:"session_id"`
		CheckoutURL string `json:"checkout_url"`
	}
	decodeData(t, rr, &session)
	if session.SessionID == "" || session.CheckoutURL == "" {
		t.Fatalf("session = %+v", session)
	}

	// The gateway confirms payment.
	event := payments.Event{
		ID:            "evt-1",
		Type:          payments.EventCheckoutCompleted,
		SessionID:     session.SessionID,
		CustomerEmail: "a@b.com",
		AmountCents:   2900,
		Lines: []payments.Line{
			{BeatID: beatID, Title: "Night Drive", LicenseType: "basic", AmountCents: 2900},
		},
		Metadata: map[string]string{"guest": "true", "email": "a@b.com"},
	}
	if rr := f.deliverWebhook(t, event); rr.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rr.Code, rr.Body.String())
	}
	// Duplicate delivery is acknowledged without side effects.
	if rr := f.deliverWebhook(t, event); rr.Code != http.StatusOK {
		t.Fatalf("duplicate webhook status = %d", rr.Code)
	}

	ord, err := f.store.GetOrderByProviderRef(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("order not created: %v", err)
	}
	if ord.Status != "completed" || ord.TotalCents != 2900 {
		t.Fatalf("order = %+v", ord)
	}

	// Guest looks up the order by number and delivery email.
	rr = f.do(t, http.MethodGet, "/api/orders/"+ord.Number+"?email=a@b.com", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("lookup status = %d: %s", rr.Code, rr.Body.String())
	}

	// Wrong email is refused.
	rr = f.do(t, http.MethodGet, "/api/orders/"+ord.Number+"?email=x@y.com", "", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("wrong email status = %d", rr.Code)
	}

	// Exactly one grant with three uses.
	grants, err := f.store.ListGrantsByOrder(context.Background(), ord.ID)
	if err != nil || len(grants) != 1 {
		t.Fatalf("grants = %d err = %v", len(grants), err)
	}
	grantID := grants[0].ID

	// Three downloads succeed, the fourth is refused.
	for i := 0; i < 3; i++ {
		rr = f.do(t, http.MethodPost, "/api/downloads/"+grantID, "", map[string]string{"email": "a@b.com"})
		if rr.Code != http.StatusOK {
			t.Fatalf("download %d status = %d: %s", i+1, rr.Code, rr.Body.String())
		}
	}
	rr = f.do(t, http.MethodPost, "/api/downloads/"+grantID, "", map[string]string{"email": "a@b.com"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("exhausted download status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRegisteredPurchaseFlow(t *testing.T) {
	f := newFixture(t)
	admin := f.adminToken(t)
	beatID := f.seedBeat(t, admin)

	rr := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "buyer@example.com", "password": "hunter2secret",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "buyer@example.com", "password": "hunter2secret",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d", rr.Code)
	}
	var login struct {
		Token   string `json:"token"`
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
	}
	decodeData(t, rr, &login)

	rr = f.do(t, http.MethodPost, "/api/checkout/session", login.Token, map[string]interface{}{
		"selections": []map[string]string{
			{"beat_id": beatID, "license_type": "pro"},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d: %s", rr.Code, rr.Body.String())
	}
	var session struct {
		SessionID string `json:"session_id"`
	}
	decodeData(t, rr, &session)

	event := payments.Event{
		ID:        "evt-1",
		Type:      payments.EventCheckoutCompleted,
		SessionID: session.SessionID,
		Lines: []payments.Line{
			{BeatID: beatID, Title: "Night Drive", LicenseType: "pro", AmountCents: 9900},
		},
		Metadata: map[string]string{"account_id": login.Account.ID, "email": "buyer@example.com"},
	}
	if rr := f.deliverWebhook(t, event); rr.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/api/me/orders", login.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("my orders status = %d", rr.Code)
	}
	var myOrders []struct {
		Status     string `json:"status"`
		TotalCents int64  `json:"total_cents"`
	}
	decodeData(t, rr, &myOrders)
	if len(myOrders) != 1 || myOrders[0].Status != "completed" || myOrders[0].TotalCents != 9900 {
		t.Fatalf("my orders = %+v", myOrders)
	}

	rr = f.do(t, http.MethodGet, "/api/me/downloads", login.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("my downloads status = %d", rr.Code)
	}
	var myGrants []struct {
		ID           string `json:"id"`
		MaxDownloads int    `json:"max_downloads"`
	}
	decodeData(t, rr, &myGrants)
	if len(myGrants) != 1 || myGrants[0].MaxDownloads != 3 {
		t.Fatalf("my grants = %+v", myGrants)
	}

	// Pro tier unlocks both formats.
	rr = f.do(t, http.MethodPost, "/api/downloads/"+myGrants[0].ID, login.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("download status = %d: %s", rr.Code, rr.Body.String())
	}
	var bundle struct {
		Files []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"files"`
		Remaining int `json:"remaining_downloads"`
	}
	decodeData(t, rr, &bundle)
	if len(bundle.Files) != 2 {
		t.Fatalf("files = %+v", bundle.Files)
	}
	if bundle.Remaining != 2 {
		t.Fatalf("remaining = %d", bundle.Remaining)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(payments.Event{
		ID: "evt-1", Type: payments.EventCheckoutCompleted, SessionID: "sess-1",
		Lines: []payments.Line{{BeatID: "b1", AmountCents: 100}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, "deadbeef")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if _, err := f.store.GetOrderByProviderRef(context.Background(), "sess-1"); err == nil {
		t.Fatalf("unsigned webhook created an order")
	}
}

func TestAdminSurfaceGuarded(t *testing.T) {
	f := newFixture(t)
	admin := f.adminToken(t)

	userAcct, err := f.store.CreateAccount(context.Background(), account.Account{
		Email: "user@example.com", PasswordHash: "x", Role: account.RoleUser,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	userToken, err := f.tokens.Issue(userAcct)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if rr := f.do(t, http.MethodGet, "/api/admin/stats", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous admin status = %d, want 401", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/api/admin/stats", userToken, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("user admin status = %d, want 403", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/api/admin/stats", admin, nil); rr.Code != http.StatusOK {
		t.Fatalf("admin stats status = %d", rr.Code)
	}
}

func TestAdminRefund(t *testing.T) {
	f := newFixture(t)
	admin := f.adminToken(t)
	beatID := f.seedBeat(t, admin)

	rr := f.do(t, http.MethodPost, "/api/checkout/session", "", map[string]interface{}{
		"email":      "a@b.com",
		"selections": []map[string]string{{"beat_id": beatID, "license_type": "basic"}},
	})
	var session struct {
		SessionID string `json:"session_id"`
	}
	decodeData(t, rr, &session)

	f.deliverWebhook(t, payments.Event{
		ID: "evt-1", Type: payments.EventCheckoutCompleted, SessionID: session.SessionID,
		Lines:    []payments.Line{{BeatID: beatID, Title: "Night Drive", LicenseType: "basic", AmountCents: 2900}},
		Metadata: map[string]string{"guest": "true", "email": "a@b.com"},
	})

	ord, err := f.store.GetOrderByProviderRef(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}

	rr = f.do(t, http.MethodPost, "/api/admin/orders/"+ord.ID+"/refund", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refund status = %d: %s", rr.Code, rr.Body.String())
	}
	var refunded struct {
		Status string `json:"status"`
	}
	decodeData(t, rr, &refunded)
	if refunded.Status != "refunded" {
		t.Fatalf("status = %s", refunded.Status)
	}

	// Listing by status sees it.
	rr = f.do(t, http.MethodGet, "/api/admin/orders?status=refunded", admin, nil)
	var list []struct {
		ID string `json:"id"`
	}
	decodeData(t, rr, &list)
	if len(list) != 1 || list[0].ID != ord.ID {
		t.Fatalf("refunded list = %+v", list)
	}
}

func TestBeatDetailCountsPlays(t *testing.T) {
	f := newFixture(t)
	admin := f.adminToken(t)
	beatID := f.seedBeat(t, admin)

	for i := 0; i < 2; i++ {
		if rr := f.do(t, http.MethodGet, "/api/beats/"+beatID, "", nil); rr.Code != http.StatusOK {
			t.Fatalf("get beat status = %d", rr.Code)
		}
	}

	rr := f.do(t, http.MethodGet, "/api/beats/"+beatID, "", nil)
	var beat struct {
		Plays int64 `json:"plays"`
	}
	decodeData(t, rr, &beat)
	if beat.Plays != 3 {
		t.Fatalf("plays = %d, want 3", beat.Plays)
	}

	// The admin fetch-for-edit view does not count a play.
	rr = f.do(t, http.MethodGet, "/api/admin/beats/"+beatID, admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin get beat status = %d", rr.Code)
	}
	decodeData(t, rr, &beat)
	if beat.Plays != 3 {
		t.Fatalf("plays after admin fetch = %d, want 3", beat.Plays)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}
