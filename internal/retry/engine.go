// Package retry executes single HTTP calls against the banking API with
// bounded exponential backoff.
//
// Each call walks a small state machine:
//
//	Attempting -> Succeeded
//	Attempting -> FailedNonRetryable
//	Attempting -> BackoffWait -> Attempting
//	Attempting -> FailedRetryableExhausted
//
// BackoffWait is the only place the engine blocks on a timer, and it returns
// as soon as the caller's context is done.
package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/domain"
	"github.com/punchamoorthee/bankclient/internal/metrics"
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNonRetryable     = errors.New("non-retryable response")

	// ErrInvalidRequest means the request could not be built; it is never retried.
	ErrInvalidRequest = errors.New("invalid request")
)

// maxInterval caps a single backoff wait.
const maxInterval = time.Hour

type State int

const (
	Attempting State = iota
	BackoffWait
	Succeeded
	FailedRetryableExhausted
	FailedNonRetryable
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case BackoffWait:
		return "backoff_wait"
	case Succeeded:
		return "succeeded"
	case FailedRetryableExhausted:
		return "failed_retryable_exhausted"
	case FailedNonRetryable:
		return "failed_non_retryable"
	default:
		return "unknown"
	}
}

// StatusError is returned when the server answered with a failing status.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       []byte
	Attempts   int
	cause      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d after %d attempt(s): %v", e.Method, e.Endpoint, e.StatusCode, e.Attempts, e.cause)
}

func (e *StatusError) Unwrap() error { return e.cause }

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy controls how many attempts are made and how long to wait between them.
type Policy struct {
	MaxRetries    int
	BackoffFactor time.Duration
	RetryStatus   []int
}

// Request describes one logical call. Body, when non-nil, is sent as JSON on
// every attempt.
type Request struct {
	Method   string
	URL      string
	Endpoint string
	Query    url.Values
	Header   http.Header
	Body     any
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

type Option func(*Engine)

// WithSleeper replaces the timer-based wait, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn func(from, to State, st domain.RetryState)) Option {
	return func(e *Engine) { e.observe = fn }
}

type Engine struct {
	doer      Doer
	policy    Policy
	retryable map[int]struct{}
	log       *zap.Logger
	metrics   *metrics.Metrics
	sleep     Sleeper
	observe   func(from, to State, st domain.RetryState)
}

func New(doer Doer, p Policy, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Engine {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	e := &Engine{
		doer:      doer,
		policy:    p,
		retryable: make(map[int]struct{}, len(p.RetryStatus)),
		log:       log,
		metrics:   m,
		sleep:     SleepContext,
	}
	for _, code := range p.RetryStatus {
		e.retryable[code] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retryable reports whether status is in the configured retry set.
func (e *Engine) Retryable(status int) bool {
	_, ok := e.retryable[status]
	return ok
}

// Delays returns the wait before each retry: BackoffFactor * 2^attempt.
func (e *Engine) Delays() []time.Duration {
	b := e.newBackOff()
	out := make([]time.Duration, 0, e.policy.MaxRetries-1)
	for i := 0; i < e.policy.MaxRetries-1; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.BackoffFactor
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs req until it succeeds, fails with a non-retryable status, exhausts
// the attempt budget, or ctx is done.
func (e *Engine) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Endpoint == "" {
		req.Endpoint = req.URL
	}

	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	var (
		b     = e.newBackOff()
		st    domain.RetryState
		state = Attempting
		resp  *Response
	)

	transition := func(to State) {
		e.log.Debug("retry state transition",
			zap.String("endpoint", req.Endpoint),
			zap.Stringer("from", state),
			zap.Stringer("to", to),
			zap.Int("attempt", st.Attempt),
		)
		if e.observe != nil {
			e.observe(state, to, st)
		}
		state = to
	}

	for {
		switch state {
		case Attempting:
			var err error
			resp, err = e.attempt(ctx, req, payload)
			last := st.Attempt >= e.policy.MaxRetries-1

			if err != nil {
				if errors.Is(err, ErrInvalidRequest) {
					return nil, fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, err)
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, fmt.Errorf("%s %s: %w", req.Method, req.Endpoint, ctxErr)
				}
				st.LastErr = err
				if last {
					transition(FailedRetryableExhausted)
				} else {
					transition(BackoffWait)
				}
				continue
			}

			st.LastErr = nil
			switch {
			case e.Retryable(resp.StatusCode):
				st.LastErr = fmt.Errorf("status %d", resp.StatusCode)
				if last {
					transition(FailedRetryableExhausted)
				} else {
					transition(BackoffWait)
				}
			case resp.StatusCode >= http.StatusBadRequest:
				transition(FailedNonRetryable)
			default:
				transition(Succeeded)
			}

		case BackoffWait:
			delay := b.NextBackOff()
			e.log.Warn("request failed, retrying",
				zap.String("method", req.Method),
				zap.String("endpoint", req.Endpoint),
				zap.Duration("wait", delay),
				zap.Int("attempt", st.Attempt+1),
				zap.Int("max_attempts", e.policy.MaxRetries),
				zap.Error(st.LastErr),
			)
			e.metrics.Retries.WithLabelValues(req.Endpoint).Inc()
			if err := e.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%s %s: waiting to retry: %w", req.Method, req.Endpoint, err)
			}
			st.Attempt++
			transition(Attempting)

		case Succeeded:
			resp.Attempts = st.Attempt + 1
			return resp, nil

		case FailedNonRetryable:
			return nil, &StatusError{
				Method:     req.Method,
				Endpoint:   req.Endpoint,
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
				Attempts:   st.Attempt + 1,
				cause:      ErrNonRetryable,
			}

		case FailedRetryableExhausted:
			if resp == nil {
				return nil, fmt.Errorf("%s %s: %w after %d attempt(s): %w",
					req.Method, req.Endpoint, ErrRetriesExhausted, st.Attempt+1, st.LastErr)
			}
			return nil, &StatusError{
				Method:     req.Method,
				Endpoint:   req.Endpoint,
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
				Attempts:   st.Attempt + 1,
				cause:      ErrRetriesExhausted,
			}
		}
	}
}

func (e *Engine) attempt(ctx context.Context, req Request, payload []byte) (*Response, error) {
	u := req.URL
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if payload != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := e.doer.Do(httpReq)
	e.metrics.HTTPLatency.WithLabelValues(req.Method, req.Endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.HTTPRequests.WithLabelValues(req.Method, req.Endpoint, "error").Inc()
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		e.metrics.HTTPRequests.WithLabelValues(req.Method, req.Endpoint, "error").Inc()
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	e.metrics.HTTPRequests.WithLabelValues(req.Method, req.Endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// SleepContext waits for d, returning early with ctx.Err() if ctx is done first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
