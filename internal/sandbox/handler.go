package sandbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/bankclient/internal/metrics"
)

const maxHistory = 20

type Handler struct {
	bank     *Bank
	requests *prometheus.CounterVec
}

func NewHandler(b *Bank, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Handler{bank: b, requests: m.SandboxHandled}
}

// Router wires every sandbox endpoint. When gatherer is non-nil it is served
// on /metrics.
func (h *Handler) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	api := r.NewRoute().Subrouter()
	api.Use(h.faults)
	api.HandleFunc("/authToken", h.AuthToken).Methods(http.MethodPost)
	api.HandleFunc("/auth/validate", h.ValidateToken).Methods(http.MethodPost)
	api.HandleFunc("/transfer", h.Transfer).Methods(http.MethodPost)
	api.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/validate/{id}", h.ValidateAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/balance/{id}", h.Balance).Methods(http.MethodGet)
	api.HandleFunc("/transactions/history", h.History).Methods(http.MethodGet)
	return r
}

// faults answers with a scripted status when one is queued for the path.
func (h *Handler) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := h.bank.nextFault(r.URL.Path); code != 0 {
			h.respondError(w, code, "injected fault", r.Method, routeTemplate(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// bearerScope returns the scope of the request's bearer token, "" when there
// is no Authorization header, or an error when the token is bad.
func (h *Handler) bearerScope(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		return "", nil
	}
	tok, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return "", ErrInvalidToken
	}
	return h.bank.ParseToken(tok)
}

func (h *Handler) AuthToken(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/authToken")
		return
	}
	scope := r.URL.Query().Get("claim")
	if scope == "" {
		scope = "enquiry"
	}

	tok, exp, err := h.bank.IssueToken(creds.Username, creds.Password, scope)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "POST", "/authToken")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"token":     tok,
		"scope":     scope,
		"expiresAt": exp.UTC(),
	}, "POST", "/authToken")
}

func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	scope, err := h.bearerScope(r)
	valid := err == nil && r.Header.Get("Authorization") != ""
	h.respondJSON(w, http.StatusOK, map[string]any{"valid": valid, "scope": scope}, "POST", "/auth/validate")
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	scope, err := h.bearerScope(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "Invalid token", "POST", "/transfer")
		return
	}
	if scope != "" && scope != "transfer" {
		h.respondError(w, http.StatusForbidden, "Token scope does not allow transfers", "POST", "/transfer")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Stream read error", "POST", "/transfer")
		return
	}
	hash := sha256.Sum256(body)
	reqHash := hex.EncodeToString(hash[:])

	var in TransferInput
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&in); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/transfer")
		return
	}

	out, err := h.bank.Transfer(in, r.Header.Get("Idempotency-Key"), reqHash, scope)
	if err != nil {
		if errors.Is(err, ErrIdempotencyMismatch) {
			h.respondError(w, http.StatusUnprocessableEntity, "Key reuse mismatch", "POST", "/transfer")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error(), "POST", "/transfer")
		return
	}
	h.respondRaw(w, http.StatusOK, out, "POST", "/transfer")
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.bank.Accounts(), "GET", "/accounts")
}

func (h *Handler) ValidateAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	known := h.bank.Known(id)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"accountId": id,
		"valid":     known,
		"exists":    known,
	}, "GET", "/accounts/validate/{id}")
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	bal, ok := h.bank.Balance(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "Account not found", "GET", "/accounts/balance/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"accountId": id, "balance": bal}, "GET", "/accounts/balance/{id}")
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	scope, err := h.bearerScope(r)
	if err != nil || scope == "" {
		h.respondError(w, http.StatusUnauthorized, "Authentication required", "GET", "/transactions/history")
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = 10
	}
	if limit > maxHistory {
		h.respondError(w, http.StatusBadRequest, "limit must not exceed 20", "GET", "/transactions/history")
		return
	}

	txs := h.bank.History(limit)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
		"limit":        limit,
	}, "GET", "/transactions/history")
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	body, err := json.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"error":"encoding failed"}`)
	}
	h.respondRaw(w, code, body, method, endpoint)
}

func (h *Handler) respondRaw(w http.ResponseWriter, code int, body []byte, method, endpoint string) {
	h.requests.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
