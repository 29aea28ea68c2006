// Package client exposes the banking operations: transfers, account lookups,
// and transaction history. Every operation validates what it can locally,
// attaches a bearer token when authentication is on, and runs the HTTP call
// through the retry engine.
//
// Operations do not return errors. A failure is logged with its cause and the
// operation returns nil so batch and interactive callers can carry on.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/auth"
	"github.com/punchamoorthee/bankclient/internal/config"
	"github.com/punchamoorthee/bankclient/internal/domain"
	"github.com/punchamoorthee/bankclient/internal/journal"
	"github.com/punchamoorthee/bankclient/internal/metrics"
	"github.com/punchamoorthee/bankclient/internal/retry"
	"github.com/punchamoorthee/bankclient/internal/validate"
)

const (
	// MaxHistoryLimit is the largest page the history endpoint accepts.
	MaxHistoryLimit     = 20
	DefaultHistoryLimit = 10

	IdempotencyKeyHeader = "Idempotency-Key"
)

// Operation outcomes recorded in metrics.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
	outcomeError  = "error"
)

type Client struct {
	cfg       config.Config
	baseURL   string
	http      *http.Client
	engine    *retry.Engine
	auth      *auth.Manager
	journal   journal.Journal
	log       *zap.Logger
	metrics   *metrics.Metrics
	retryOpts []retry.Option
	strict    bool
}

// New builds a Client for cfg. Unless overridden by options, it owns a
// pooled HTTP client and a fresh auth manager sharing that pool.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}
	if c.http == nil {
		c.http = NewHTTPClient(cfg)
	}
	if c.journal == nil {
		c.journal = journal.Nop{}
	}
	if c.auth == nil {
		c.auth = auth.New(c.baseURL, c.http, c.log, c.metrics)
	}
	c.engine = retry.New(c.http, retry.Policy{
		MaxRetries:    cfg.MaxRetries,
		BackoffFactor: cfg.RetryBackoff,
		RetryStatus:   cfg.RetryStatus,
	}, c.log, c.metrics, c.retryOpts...)

	c.log.Info("banking client initialized", zap.String("base_url", c.baseURL), zap.Bool("use_auth", cfg.UseAuth))
	return c
}

// Auth returns the token cache used by the client.
func (c *Client) Auth() *auth.Manager { return c.auth }

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// RefreshToken forces a new token for the configured user and scope.
func (c *Client) RefreshToken(ctx context.Context) bool {
	c.log.Info("refreshing authentication token")
	_, err := c.auth.GetToken(ctx, c.cfg.Username, c.cfg.Password, c.cfg.AuthScope, true)
	return err == nil
}

// headers resolves the Authorization header. When auth is wanted and no
// token can be obtained the call fails with auth.ErrAuthentication; the
// request is never sent unauthenticated and stale tokens are never reused.
func (c *Client) headers(ctx context.Context, useAuth bool) (http.Header, error) {
	h := http.Header{}
	if !useAuth {
		return h, nil
	}
	tok, err := c.auth.GetToken(ctx, c.cfg.Username, c.cfg.Password, c.cfg.AuthScope, false)
	if err != nil {
		return nil, err
	}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

func (c *Client) wantAuth(o callOptions, def bool) bool {
	if o.useAuth != nil {
		return *o.useAuth
	}
	return def
}

// call runs one request and drops the cached token when the server rejects
// it, so the next call authenticates again.
func (c *Client) call(ctx context.Context, useAuth bool, req retry.Request) (*retry.Response, error) {
	h, err := c.headers(ctx, useAuth)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		h[k] = vs
	}
	req.Header = h
	req.URL = c.baseURL + req.Endpoint

	resp, err := c.engine.Do(ctx, req)
	var se *retry.StatusError
	if useAuth && errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		c.log.Warn("token rejected by server, dropping cached token", zap.String("endpoint", se.Endpoint))
		c.auth.Invalidate(c.cfg.Username, c.cfg.AuthScope)
	}
	return resp, err
}

func (c *Client) fail(op string, err error, fields ...zap.Field) {
	c.metrics.Operations.WithLabelValues(op, outcomeError).Inc()

	fields = append(fields, zap.Error(err))
	var se *retry.StatusError
	if errors.As(err, &se) && len(se.Body) > 0 {
		body := string(se.Body)
		if len(body) > 200 {
			body = body[:200]
		}
		fields = append(fields, zap.Int("status", se.StatusCode), zap.String("response", body))
	}
	c.log.Error(op+" failed", fields...)
}

// Transfer moves amount from one account to another. It returns nil when the
// request was invalid or could not be completed; a transfer the server
// declined is returned with its status.
func (c *Client) Transfer(ctx context.Context, from, to string, amount float64, opts ...CallOption) *domain.TransferResult {
	const op = "transfer"
	o := resolve(opts)

	req := domain.TransferRequest{
		FromAccount: validate.SanitizeAccountID(from),
		ToAccount:   validate.SanitizeAccountID(to),
		Amount:      amount,
	}
	if !o.skipValidation {
		var err error
		if req, err = validate.NewTransferRequest(from, to, amount, c.strict, c.log); err != nil {
			c.metrics.Operations.WithLabelValues(op, outcomeError).Inc()
			c.log.Error("validation failed", zap.Error(err))
			return nil
		}
	}

	key := uuid.NewString()
	c.log.Info("initiating transfer",
		zap.String("from", req.FromAccount),
		zap.String("to", req.ToAccount),
		zap.Float64("amount", req.Amount),
		zap.String("idempotency_key", key),
	)

	resp, err := c.call(ctx, c.wantAuth(o, c.cfg.UseAuth), retry.Request{
		Method:   http.MethodPost,
		Endpoint: "/transfer",
		Header:   http.Header{IdempotencyKeyHeader: {key}},
		Body:     req,
	})
	var result domain.TransferResult
	if err == nil {
		err = resp.JSON(&result)
	}
	c.record(ctx, key, req, &result, err)
	if err != nil {
		c.fail(op, err, zap.String("from", req.FromAccount), zap.String("to", req.ToAccount))
		return nil
	}

	if result.Succeeded() {
		c.metrics.Operations.WithLabelValues(op, outcomeOK).Inc()
		c.log.Info("transfer successful", zap.String("transaction_id", result.TransactionID))
	} else {
		c.metrics.Operations.WithLabelValues(op, outcomeFailed).Inc()
		c.log.Warn("transfer not completed", zap.String("status", result.Status), zap.String("message", result.Message))
	}
	return &result
}

func (c *Client) record(ctx context.Context, key string, req domain.TransferRequest, res *domain.TransferResult, err error) {
	e := domain.JournalEntry{
		IdempotencyKey: key,
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		TransactionID:  res.TransactionID,
		Status:         res.Status,
		CreatedAt:      time.Now().UTC(),
	}
	if err != nil {
		e.Status = "ERROR"
		e.Error = err.Error()
	}
	// Recording must outlive a cancelled transfer context.
	if jerr := c.journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		c.log.Warn("could not record transfer in journal", zap.Error(jerr))
	}
}

// ValidateAccount asks the server whether accountID exists and is active.
func (c *Client) ValidateAccount(ctx context.Context, accountID string, opts ...CallOption) map[string]any {
	const op = "validate_account"
	id := validate.SanitizeAccountID(accountID)
	c.log.Info("validating account", zap.String("account", id))

	return c.getObject(ctx, op, "/accounts/validate/"+url.PathEscape(id), nil, c.wantAuth(resolve(opts), c.cfg.UseAuth))
}

// GetBalance fetches the balance of accountID.
func (c *Client) GetBalance(ctx context.Context, accountID string, opts ...CallOption) map[string]any {
	const op = "get_balance"
	id := validate.SanitizeAccountID(accountID)
	c.log.Info("getting balance", zap.String("account", id))

	return c.getObject(ctx, op, "/accounts/balance/"+url.PathEscape(id), nil, c.wantAuth(resolve(opts), c.cfg.UseAuth))
}

// GetTransactionHistory fetches up to limit recent transactions. The limit is
// clamped to MaxHistoryLimit and authentication is on unless disabled
// explicitly for this call.
func (c *Client) GetTransactionHistory(ctx context.Context, limit int, opts ...CallOption) map[string]any {
	const op = "get_transaction_history"
	limit = ClampHistoryLimit(limit)
	c.log.Info("fetching transaction history", zap.Int("limit", limit))

	q := url.Values{"limit": {strconv.Itoa(limit)}}
	return c.getObject(ctx, op, "/transactions/history", q, c.wantAuth(resolve(opts), true))
}

// ClampHistoryLimit maps limit into [1, MaxHistoryLimit]; non-positive values
// become DefaultHistoryLimit.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit < 1:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func (c *Client) getObject(ctx context.Context, op, endpoint string, q url.Values, useAuth bool) map[string]any {
	resp, err := c.call(ctx, useAuth, retry.Request{Method: http.MethodGet, Endpoint: endpoint, Query: q})
	var out map[string]any
	if err == nil {
		err = resp.JSON(&out)
	}
	if err != nil {
		c.fail(op, err, zap.String("endpoint", endpoint))
		return nil
	}
	c.metrics.Operations.WithLabelValues(op, outcomeOK).Inc()
	c.log.Debug(op+" result", zap.Any("result", out))
	return out
}

// ListAccounts fetches every account. The server may answer with a bare list
// or an object holding an "accounts" list.
func (c *Client) ListAccounts(ctx context.Context, opts ...CallOption) []map[string]any {
	const op = "list_accounts"
	c.log.Info("fetching all accounts")

	resp, err := c.call(ctx, c.wantAuth(resolve(opts), c.cfg.UseAuth), retry.Request{Method: http.MethodGet, Endpoint: "/accounts"})
	var accounts []map[string]any
	if err == nil {
		accounts, err = decodeAccounts(resp)
	}
	if err != nil {
		c.fail(op, err)
		return nil
	}
	c.metrics.Operations.WithLabelValues(op, outcomeOK).Inc()
	c.log.Info("retrieved accounts", zap.Int("count", len(accounts)))
	return accounts
}

func decodeAccounts(resp *retry.Response) ([]map[string]any, error) {
	var list []map[string]any
	if err := resp.JSON(&list); err == nil {
		if list == nil {
			list = []map[string]any{}
		}
		return list, nil
	}

	var obj map[string]any
	if err := resp.JSON(&obj); err != nil {
		return nil, err
	}
	if raw, ok := obj["accounts"].([]any); ok {
		list = make([]map[string]any, 0, len(raw))
		for _, a := range raw {
			switch v := a.(type) {
			case map[string]any:
				list = append(list, v)
			default:
				list = append(list, map[string]any{"id": fmt.Sprint(v)})
			}
		}
		return list, nil
	}
	if _, ok := obj["id"]; ok {
		return []map[string]any{obj}, nil
	}
	return nil, fmt.Errorf("unexpected accounts payload")
}
