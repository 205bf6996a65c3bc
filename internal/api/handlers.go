/**
 * @description
 * HTTP handlers for the payments-service: the gateway callback webhook and
 * the collaborator-facing payment status query.
 *
 * The webhook contract is asymmetric on purpose: the gateway interprets any
 * non-200 response or malformed body as "retry me", so the handler always
 * answers 200 with the acknowledgment envelope and reports failure only
 * through ResultCode. Internal retries are the retry scheduler's job, never
 * the gateway's.
 *
 * @dependencies
 * - encoding/json, io, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Engine, models, errors.
 */
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lipabooks/payments-service/internal/app"
	"github.com/lipabooks/payments-service/internal/domain"
	"github.com/lipabooks/payments-service/internal/store"
)

// Gateway callback bodies are small; anything larger is hostile.
const maxCallbackBodyBytes = 1 << 20

// Handler holds the application service the handlers interact with.
type Handler struct {
	service       *app.Service
	authenticator *app.SourceAuthenticator
}

// NewHandler creates a new Handler.
func NewHandler(service *app.Service, authenticator *app.SourceAuthenticator) *Handler {
	return &Handler{service: service, authenticator: authenticator}
}

// handleGatewayCallback receives the asynchronous payment notification.
func (h *Handler) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	source := callerAddr(r)

	if !h.authenticator.Allow(source) {
		// Acknowledge per the gateway contract, but do not process.
		respondWithJSON(w, http.StatusOK, domain.AckRejected("Rejected"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodyBytes))
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"failed to read callback body\" gateway=%s source=%s err=%v", gateway, source, err)
		respondWithJSON(w, http.StatusOK, domain.AckRejected("Unreadable body"))
		return
	}

	cb, err := app.ParseCallback(gateway, body)
	if err != nil {
		// Malformed payloads are permanent: no lookup, no retry.
		var parseErr *app.ParseError
		if errors.As(err, &parseErr) {
			log.Printf("level=warn component=webhook msg=\"callback rejected by parser\" gateway=%s source=%s reason=%q", gateway, source, parseErr.Reason)
		} else {
			log.Printf("level=warn component=webhook msg=\"callback parse failed\" gateway=%s source=%s err=%v", gateway, source, err)
		}
		respondWithJSON(w, http.StatusOK, domain.AckRejected("Invalid payload"))
		return
	}

	ack := h.service.HandleCallback(r.Context(), cb)
	respondWithJSON(w, http.StatusOK, ack)
}

// handleGetPaymentStatus serves the read-only payment projection used by UI
// polling. No side effects.
func (h *Handler) handleGetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		http.Error(w, "Invalid payment id", http.StatusBadRequest)
		return
	}

	projection, err := h.service.GetPaymentStatus(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			http.Error(w, "Payment not found", http.StatusNotFound)
			return
		}
		log.Printf("level=error component=api msg=\"payment status lookup failed\" payment_id=%s err=%v", paymentID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, projection)
}

// callerAddr resolves the originating address, honoring the first hop of
// X-Forwarded-For when a proxy fronts the service.
func callerAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	return r.RemoteAddr
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
