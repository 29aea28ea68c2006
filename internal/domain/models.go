package domain

import (
	"encoding/json"
	"time"
)

// Transfer statuses reported by the banking API. The server may return others.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusUnknown = "UNKNOWN"
)

// TransferRequest is the payload sent to POST /transfer.
// Build it through validate.NewTransferRequest so the invariants hold.
type TransferRequest struct {
	FromAccount string  `json:"fromAccount"`
	ToAccount   string  `json:"toAccount"`
	Amount      float64 `json:"amount"`
}

// TransferResult is the server's answer to a transfer. Fields the client does
// not model are kept in Extras.
type TransferResult struct {
	TransactionID string                     `json:"transactionId"`
	Status        string                     `json:"status"`
	Message       string                     `json:"message"`
	FromAccount   string                     `json:"fromAccount"`
	ToAccount     string                     `json:"toAccount"`
	Amount        float64                    `json:"amount"`
	Extras        map[string]json.RawMessage `json:"-"`
}

var transferResultKeys = []string{"transactionId", "status", "message", "fromAccount", "toAccount", "amount"}

type transferResultFields struct {
	TransactionID string  `json:"transactionId"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	FromAccount   string  `json:"fromAccount"`
	ToAccount     string  `json:"toAccount"`
	Amount        float64 `json:"amount"`
}

func (r *TransferResult) UnmarshalJSON(b []byte) error {
	var f transferResultFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range transferResultKeys {
		delete(all, k)
	}

	*r = TransferResult{
		TransactionID: f.TransactionID,
		Status:        f.Status,
		Message:       f.Message,
		FromAccount:   f.FromAccount,
		ToAccount:     f.ToAccount,
		Amount:        f.Amount,
	}
	if r.Status == "" {
		r.Status = StatusUnknown
	}
	if len(all) > 0 {
		r.Extras = all
	}
	return nil
}

func (r TransferResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extras)+len(transferResultKeys))
	for k, v := range r.Extras {
		out[k] = v
	}
	out["transactionId"] = r.TransactionID
	out["status"] = r.Status
	out["message"] = r.Message
	out["fromAccount"] = r.FromAccount
	out["toAccount"] = r.ToAccount
	out["amount"] = r.Amount
	return json.Marshal(out)
}

// Succeeded reports whether the server accepted the transfer.
func (r *TransferResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Extra decodes one server-supplied extra field into v.
func (r *TransferResult) Extra(key string, v any) bool {
	raw, ok := r.Extras[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// CachedToken is a bearer token held by the auth manager for one (user, scope).
// Values are never mutated after they are stored.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
	Username  string
	Scope     string
}

// Expired reports whether the token must be fetched again at now.
func (t CachedToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RetryState lives for a single logical call in the retry engine.
type RetryState struct {
	Attempt int
	LastErr error
}

// JournalEntry is one recorded transfer outcome.
type JournalEntry struct {
	ID             int64     `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	FromAccount    string    `json:"from_account"`
	ToAccount      string    `json:"to_account"`
	Amount         float64   `json:"amount"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
