package client

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/auth"
	"github.com/punchamoorthee/bankclient/internal/config"
	"github.com/punchamoorthee/bankclient/internal/journal"
	"github.com/punchamoorthee/bankclient/internal/metrics"
	"github.com/punchamoorthee/bankclient/internal/retry"
)

// Connection pool limits shared by every request a Client makes.
const (
	MaxConnsPerHost     = 100
	MaxIdleConnsPerHost = 20
	IdleConnTimeout     = 30 * time.Second
)

// NewHTTPClient returns a pooled HTTP client with the configured timeout.
func NewHTTPClient(cfg config.Config) *http.Client {
	t := cleanhttp.DefaultPooledTransport()
	t.MaxConnsPerHost = MaxConnsPerHost
	t.MaxIdleConns = MaxConnsPerHost
	t.MaxIdleConnsPerHost = MaxIdleConnsPerHost
	t.IdleConnTimeout = IdleConnTimeout
	t.DialContext = (&net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: IdleConnTimeout,
	}).DialContext

	return &http.Client{
		Transport: t,
		Timeout:   cfg.Timeout,
	}
}

type Option func(*Client)

// WithHTTPClient replaces the pooled client built from the config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuthManager makes the client use mgr's token cache.
func WithAuthManager(mgr *auth.Manager) Option {
	return func(c *Client) { c.auth = mgr }
}

func WithJournal(j journal.Journal) Option {
	return func(c *Client) { c.journal = j }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetryOptions passes opts to the request engine.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) { c.retryOpts = append(c.retryOpts, opts...) }
}

// WithStrictValidation makes validation warnings fatal for transfers.
func WithStrictValidation() Option {
	return func(c *Client) { c.strict = true }
}

type callOptions struct {
	useAuth        *bool
	skipValidation bool
}

// CallOption adjusts a single operation.
type CallOption func(*callOptions)

// WithAuth overrides the configured use-auth default for one call.
func WithAuth(enabled bool) CallOption {
	return func(o *callOptions) { o.useAuth = &enabled }
}

// WithoutValidation skips client-side transfer validation. Account ids are
// still sanitized.
func WithoutValidation() CallOption {
	return func(o *callOptions) { o.skipValidation = true }
}

func resolve(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
