// Package httputil provides the request/response envelope shared by every
// endpoint: {"success":true,"data":...} on success and
// {"success":false,"error":"..."} on failure.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/beatforge/storefront/internal/apperr"
)

type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteJSON writes data wrapped in the success envelope.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data})
}

// WriteError maps err through the taxonomy and writes the error envelope.
// Internal and external details never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: e.Public()})
}

// WriteErrorStatus writes the error envelope with an explicit status, for
// cases like rate limiting that sit outside the error taxonomy.
func WriteErrorStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: message})
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
// On failure it writes a 400 envelope and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}
