// Package httpapi exposes the storefront REST API.
package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/beatforge/storefront/internal/apperr"
	app "github.com/beatforge/storefront/internal/app"
	catalogdom "github.com/beatforge/storefront/internal/app/domain/catalog"
	"github.com/beatforge/storefront/internal/app/domain/order"
	"github.com/beatforge/storefront/internal/app/metrics"
	checkoutsvc "github.com/beatforge/storefront/internal/app/services/checkout"
	"github.com/beatforge/storefront/internal/app/storage"
	"github.com/beatforge/storefront/internal/httputil"
	"github.com/beatforge/storefront/internal/middleware"
	"github.com/beatforge/storefront/internal/payments"
	"github.com/beatforge/storefront/pkg/logger"
)

const maxWebhookBody = 1 << 20

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns the storefront router with the standard middleware
// chain: metrics, request IDs, then authentication, then rate limiting keyed
// by identity.
func NewHandler(application *app.Application, authn *middleware.Authenticator, limiter *middleware.RateLimiter, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", h.handleRegister).Methods("POST")
	api.HandleFunc("/auth/login", h.handleLogin).Methods("POST")

	api.Handle("/me", middleware.RequireAccount(http.HandlerFunc(h.handleMe))).Methods("GET")
	api.Handle("/me/orders", middleware.RequireAccount(http.HandlerFunc(h.handleMyOrders))).Methods("GET")
	api.Handle("/me/downloads", middleware.RequireAccount(http.HandlerFunc(h.handleMyDownloads))).Methods("GET")

	api.HandleFunc("/beats", h.handleListBeats).Methods("GET")
	api.HandleFunc("/beats/{id}", h.handleGetBeat).Methods("GET")

	api.HandleFunc("/checkout/session", h.handleCheckout).Methods("POST")
	api.HandleFunc("/webhooks/payment", h.handleWebhook).Methods("POST")

	api.HandleFunc("/orders/{number}", h.handleOrderLookup).Methods("GET")
	api.HandleFunc("/downloads/{id}", h.handleDownload).Methods("POST")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/beats", h.handleAdminCreateBeat).Methods("POST")
	admin.HandleFunc("/beats/{id}", h.handleAdminGetBeat).Methods("GET")
	admin.HandleFunc("/beats/{id}", h.handleAdminUpdateBeat).Methods("PUT")
	admin.HandleFunc("/beats/{id}", h.handleAdminDeleteBeat).Methods("DELETE")
	admin.HandleFunc("/orders", h.handleAdminListOrders).Methods("GET")
	admin.HandleFunc("/orders/{id}", h.handleAdminGetOrder).Methods("GET")
	admin.HandleFunc("/orders/{id}/refund", h.handleAdminRefund).Methods("POST")
	admin.HandleFunc("/orders/{id}/grants", h.handleAdminOrderGrants).Methods("GET")
	admin.HandleFunc("/stats", h.handleAdminStats).Methods("GET")

	var chained http.Handler = router
	if limiter != nil {
		chained = limiter.Handler(chained)
	}
	if authn != nil {
		chained = authn.Handler(chained)
	}
	chained = middleware.RequestID(log)(chained)
	return metrics.InstrumentHandler(chained)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- auth ---

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	acct, err := h.app.Accounts.Register(r.Context(), payload.Email, payload.Password, payload.FirstName, payload.LastName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, accountView(acct))
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	acct, token, err := h.app.Accounts.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"account": accountView(acct),
	})
}

func (h *handler) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, accountView(acct))
}

func (h *handler) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Orders.ListForAccount(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderViews(list))
}

func (h *handler) handleMyDownloads(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Downloads.ListForAccount(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grantViews(list))
}

// --- catalog ---

func (h *handler) handleListBeats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.BeatFilter{
		Genre:  q.Get("genre"),
		Mood:   q.Get("mood"),
		Tag:    q.Get("tag"),
		Search: q.Get("search"),
	}
	beats, err := h.app.Catalog.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, beatViews(beats))
}

func (h *handler) handleGetBeat(w http.ResponseWriter, r *http.Request) {
	beat, err := h.app.Catalog.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, beatView(beat))
}

// --- checkout ---

func (h *handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email      string                  `json:"email"`
		Selections []checkoutsvc.Selection `json:"selections"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	accountID := middleware.GetAccountID(r.Context())
	email := payload.Email
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		email = claims.Email
	}

	session, err := h.app.Checkout.Begin(r.Context(), accountID, email, payload.Selections)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"session_id":   session.ID,
		"checkout_url": session.URL,
	})
}

// handleWebhook ingests gateway notifications. The raw body is read before
// decoding because the signature covers the exact bytes sent.
func (h *handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteError(w, apperr.Validation("unreadable webhook body"))
		return
	}

	event, err := payments.ParseEvent(body, r.Header.Get(payments.SignatureHeader), h.app.WebhookSecret)
	if err != nil {
		h.log.WithError(err).Warn("webhook rejected")
		httputil.WriteError(w, err)
		return
	}

	if err := h.app.Orders.HandleEvent(r.Context(), event); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"received": event.ID})
}

// --- orders and downloads ---

func (h *handler) handleOrderLookup(w http.ResponseWriter, r *http.Request) {
	ord, err := h.app.Orders.Lookup(r.Context(),
		mux.Vars(r)["number"],
		middleware.GetAccountID(r.Context()),
		r.URL.Query().Get("email"),
	)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderView(ord))
}

func (h *handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	// Body is optional for authenticated buyers.
	if r.ContentLength > 0 {
		if !httputil.DecodeJSON(w, r, &payload) {
			return
		}
	}

	bundle, err := h.app.Downloads.Consume(r.Context(),
		mux.Vars(r)["id"],
		middleware.GetAccountID(r.Context()),
		payload.Email,
	)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bundle)
}

// --- admin ---

func (h *handler) handleAdminCreateBeat(w http.ResponseWriter, r *http.Request) {
	var payload beatInput
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	beat, err := h.app.Catalog.Create(r.Context(), payload.toDomain())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, beatView(beat))
}

// handleAdminGetBeat serves the fetch-for-edit view; unlike the public detail
// endpoint it does not count a play.
func (h *handler) handleAdminGetBeat(w http.ResponseWriter, r *http.Request) {
	beat, err := h.app.Catalog.GetRaw(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, beatView(beat))
}

func (h *handler) handleAdminUpdateBeat(w http.ResponseWriter, r *http.Request) {
	var payload beatInput
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	beat := payload.toDomain()
	beat.ID = mux.Vars(r)["id"]
	updated, err := h.app.Catalog.Update(r.Context(), beat)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, beatView(updated))
}

func (h *handler) handleAdminDeleteBeat(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	status := order.Status(r.URL.Query().Get("status"))
	list, err := h.app.Orders.ListAll(r.Context(), status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderViews(list))
}

func (h *handler) handleAdminGetOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.app.Orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderView(ord))
}

func (h *handler) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	ord, err := h.app.Orders.Refund(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderView(ord))
}

func (h *handler) handleAdminOrderGrants(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Downloads.ListForOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grantViews(list))
}

func (h *handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Stats.OrderStats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// beatInput is the admin write payload for catalog entries.
type beatInput struct {
	Title    string                                 `json:"title"`
	Tempo    int                                    `json:"tempo"`
	Key      string                                 `json:"key"`
	Genre    string                                 `json:"genre"`
	Moods    []string                               `json:"moods"`
	Tags     []string                               `json:"tags"`
	Preview  catalogdom.MediaRef                    `json:"preview"`
	Cover    catalogdom.MediaRef                    `json:"cover"`
	Files    map[catalogdom.FileFormat]catalogdom.MediaRef `json:"files"`
	Licenses []catalogdom.LicenseTier               `json:"licenses"`
}

func (in beatInput) toDomain() catalogdom.Beat {
	return catalogdom.Beat{
		Title:    in.Title,
		Tempo:    in.Tempo,
		Key:      in.Key,
		Genre:    in.Genre,
		Moods:    in.Moods,
		Tags:     in.Tags,
		Preview:  in.Preview,
		Cover:    in.Cover,
		Files:    in.Files,
		Licenses: in.Licenses,
	}
}
