// Package sandbox is an in-memory stand-in for the remote banking API. It
// serves the same endpoints the client calls and is meant for tests and local
// development only.
package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrBadCredentials      = errors.New("invalid username or password")
	ErrInvalidToken        = errors.New("invalid token")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

const (
	// Seeded accounts. Anything else, including ACC2000-ACC2049, is rejected.
	FirstAccount = 1000
	LastAccount  = 1099

	InitialBalance = 1000.0
	TokenTTL       = 60 * time.Minute
)

// Transaction is one completed transfer as kept by the sandbox.
type Transaction struct {
	TransactionID string    `json:"transactionId"`
	FromAccount   string    `json:"fromAccount"`
	ToAccount     string    `json:"toAccount"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

type idempotencyRecord struct {
	hash string
	body []byte
}

type Option func(*Bank)

func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

func WithUser(username, password string) Option {
	return func(b *Bank) { b.users[username] = password }
}

// Bank holds sandbox state. Balances live in a map under one mutex.
type Bank struct {
	mu       sync.Mutex
	balances map[string]float64
	history  []Transaction
	idem     map[string]idempotencyRecord
	faults   map[string][]int
	users    map[string]string
	secret   []byte
	now      func() time.Time
	issued   int
}

func NewBank(opts ...Option) *Bank {
	b := &Bank{
		balances: make(map[string]float64),
		idem:     make(map[string]idempotencyRecord),
		faults:   make(map[string][]int),
		users:    map[string]string{"alice": "password123"},
		secret:   []byte(uuid.NewString()),
		now:      time.Now,
	}
	for i := FirstAccount; i <= LastAccount; i++ {
		b.balances[accountID(i)] = InitialBalance
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func accountID(n int) string {
	return fmt.Sprintf("ACC%04d", n)
}

// FailNext makes the next n requests to path answer with status.
func (b *Bank) FailNext(path string, status, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.faults[path] = append(b.faults[path], status)
	}
}

func (b *Bank) nextFault(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.faults[path]
	if len(q) == 0 {
		return 0
	}
	b.faults[path] = q[1:]
	return q[0]
}

// TokensIssued reports how many tokens the sandbox has handed out.
func (b *Bank) TokensIssued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issued
}

func (b *Bank) IssueToken(username, password, scope string) (string, time.Time, error) {
	b.mu.Lock()
	want, ok := b.users[username]
	if ok && want == password {
		b.issued++
	}
	b.mu.Unlock()
	if !ok || want != password {
		return "", time.Time{}, ErrBadCredentials
	}

	now := b.now()
	exp := now.Add(TokenTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   username,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"jti":   uuid.NewString(),
	})
	signed, err := tok.SignedString(b.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseToken returns the scope of a valid token.
func (b *Bank) ParseToken(raw string) (string, error) {
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return b.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	scope, _ := claims["scope"].(string)
	return scope, nil
}

// Known reports whether id is an open account.
func (b *Bank) Known(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.balances[id]
	return ok
}

func (b *Bank) Balance(id string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[id]
	return bal, ok
}

type AccountView struct {
	ID      string  `json:"id"`
	Balance float64 `json:"balance"`
}

func (b *Bank) Accounts() []AccountView {
	b.mu.Lock()
	out := make([]AccountView, 0, len(b.balances))
	for id, bal := range b.balances {
		out = append(out, AccountView{ID: id, Balance: bal})
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns up to limit transactions, newest first.
func (b *Bank) History(limit int) []Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transaction, 0, limit)
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.history[i])
	}
	return out
}

// TransferInput is the decoded POST /transfer body.
type TransferInput struct {
	FromAccount string  `json:"fromAccount"`
	ToAccount   string  `json:"toAccount"`
	Amount      float64 `json:"amount"`
}

// Transfer applies in once per idempotency key and returns the JSON body to
// send. A repeated key with the same payload replays the stored body.
func (b *Bank) Transfer(in TransferInput, idemKey, reqHash, scope string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idemKey != "" {
		if rec, ok := b.idem[idemKey]; ok {
			if rec.hash != reqHash {
				return nil, ErrIdempotencyMismatch
			}
			return rec.body, nil
		}
	}

	resp := map[string]any{
		"fromAccount": in.FromAccount,
		"toAccount":   in.ToAccount,
		"amount":      in.Amount,
	}
	fail := func(msg string) {
		resp["transactionId"] = ""
		resp["status"] = "FAILED"
		resp["message"] = msg
	}

	fromBal, fromOK := b.balances[in.FromAccount]
	_, toOK := b.balances[in.ToAccount]
	switch {
	case !fromOK || !toOK:
		fail("Invalid account")
		if !fromOK {
			resp["fromAccountError"] = fmt.Sprintf("account %s does not exist", in.FromAccount)
		}
		if !toOK {
			resp["toAccountError"] = fmt.Sprintf("account %s does not exist", in.ToAccount)
		}
	case in.FromAccount == in.ToAccount:
		fail("Cannot transfer to the same account")
	case in.Amount <= 0:
		fail("Amount must be positive")
	case fromBal < in.Amount:
		fail("Insufficient funds")
	default:
		tx := Transaction{
			TransactionID: uuid.NewString(),
			FromAccount:   in.FromAccount,
			ToAccount:     in.ToAccount,
			Amount:        in.Amount,
			Timestamp:     b.now().UTC(),
		}
		b.balances[in.FromAccount] -= in.Amount
		b.balances[in.ToAccount] += in.Amount
		b.history = append(b.history, tx)

		resp["transactionId"] = tx.TransactionID
		resp["status"] = "SUCCESS"
		resp["message"] = "Transfer completed successfully"
		resp["newFromAccountBalance"] = b.balances[in.FromAccount]
		if scope != "" {
			resp["permissionLevel"] = scope
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	if idemKey != "" {
		b.idem[idemKey] = idempotencyRecord{hash: reqHash, body: body}
	}
	return body, nil
}
