package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bankclient/internal/domain"
	"github.com/punchamoorthee/bankclient/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// scripted answers each request with the next status in codes, repeating the last.
func scripted(t *testing.T, codes ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(codes[n])
		io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newEngine(max int, factor time.Duration, rec *recorder, opts ...Option) *Engine {
	opts = append([]Option{WithSleeper(rec.sleep)}, opts...)
	return New(http.DefaultClient, Policy{
		MaxRetries:    max,
		BackoffFactor: factor,
		RetryStatus:   []int{500, 502, 503, 504},
	}, nil, metrics.New(nil), opts...)
}

func TestRetriesThenSucceeds(t *testing.T) {
	srv, calls := scripted(t, 500, 500, 200)
	rec := &recorder{}
	e := newEngine(3, time.Second, rec)

	resp, err := e.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	srv, calls := scripted(t, 400)
	rec := &recorder{}
	e := newEngine(3, time.Second, rec)

	_, err := e.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: map[string]int{"a": 1}})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, 1, se.Attempts)
	assert.ErrorIs(t, err, ErrNonRetryable)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	assert.Empty(t, rec.delays)
}

func TestTerminalRetryableStatusIsFailure(t *testing.T) {
	srv, calls := scripted(t, 503)
	rec := &recorder{}
	e := newEngine(3, 500*time.Millisecond, rec)

	resp, err := e.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Endpoint: "/accounts"})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, 3, se.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, rec.delays)
}

func TestNetworkErrorsAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &recorder{}
	e := newEngine(4, 100*time.Millisecond, rec)

	_, err := e.Do(context.Background(), Request{Method: http.MethodGet, URL: url})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
}

type countingDoer struct{ calls int32 }

func (d *countingDoer) Do(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&d.calls, 1)
	return nil, errors.New("unreachable")
}

func TestMalformedRequestIsNotRetried(t *testing.T) {
	rec := &recorder{}
	doer := &countingDoer{}
	var transitions int
	e := New(doer, Policy{MaxRetries: 5, BackoffFactor: time.Second}, nil, metrics.New(nil),
		WithSleeper(rec.sleep),
		WithObserver(func(State, State, domain.RetryState) { transitions++ }),
	)

	_, err := e.Do(context.Background(), Request{Method: http.MethodGet, URL: "http://[::1", Endpoint: "/accounts"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Zero(t, atomic.LoadInt32(&doer.calls))
	assert.Empty(t, rec.delays)
	assert.Zero(t, transitions)
}

func TestStateTransitions(t *testing.T) {
	srv, _ := scripted(t, 502, 200)
	rec := &recorder{}

	var seen []State
	e := newEngine(3, 0, rec, WithObserver(func(from, to State, _ domain.RetryState) {
		seen = append(seen, to)
	}))

	_, err := e.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []State{BackoffWait, Attempting, Succeeded}, seen)
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	srv, calls := scripted(t, 500)
	e := New(http.DefaultClient, Policy{MaxRetries: 5, BackoffFactor: time.Hour, RetryStatus: []int{500}}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Do(ctx, Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestContextDeadlineDuringRequest(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	rec := &recorder{}
	e := newEngine(3, time.Millisecond, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Do(ctx, Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, rec.delays)
}

func TestRequestShape(t *testing.T) {
	var gotQuery, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, `{"token":"abc"}`)
	}))
	defer srv.Close()

	e := New(srv.Client(), Policy{MaxRetries: 1}, nil, nil)
	resp, err := e.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/authToken",
		Query:  map[string][]string{"claim": {"transfer"}},
		Header: http.Header{"Authorization": {"Bearer t"}},
		Body:   map[string]string{"username": "alice"},
	})
	require.NoError(t, err)

	var out struct{ Token string }
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, "abc", out.Token)
	assert.Equal(t, "claim=transfer", gotQuery)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"username":"alice"}`, gotBody)
}

func TestMetricsCountAttemptsAndRetries(t *testing.T) {
	srv, _ := scripted(t, 500, 500, 200)
	m := metrics.New(nil)
	rec := &recorder{}
	e := New(http.DefaultClient, Policy{MaxRetries: 3, RetryStatus: []int{500}}, nil, m, WithSleeper(rec.sleep))

	_, err := e.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Endpoint: "/accounts"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/accounts", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/accounts", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Retries.WithLabelValues("/accounts")))
}

func TestDelays(t *testing.T) {
	e := New(http.DefaultClient, Policy{MaxRetries: 4, BackoffFactor: 250 * time.Millisecond}, nil, nil)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}, e.Delays())

	e = New(http.DefaultClient, Policy{MaxRetries: 0}, nil, nil)
	assert.Empty(t, e.Delays())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
