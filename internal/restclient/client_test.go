package restclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	c := New("test", baseURL, 0)
	c.InitialBackoff = time.Millisecond
	c.MaxBackoff = 5 * time.Millisecond
	return c
}

func TestGetJSONSendsHeadersAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/conversations", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"a"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/v1/").WithHeader("Authorization", "Bearer k")
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/conversations", url.Values{"limit": {"100"}}, &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "a", out.Data[0].ID)
}

func TestRetriesRateLimitedResponses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.001}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	var out []any
	require.NoError(t, newTestClient(srv.URL).GetJSON(context.Background(), "x", nil, &out))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNonRetryableStatusReturnsStatusError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).GetJSON(context.Background(), "x", nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestServerErrorsExhaustRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.MaxRetries = 2
	err := c.GetJSON(context.Background(), "x", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, retryAfter(h, nil))
	assert.Equal(t, 1500*time.Millisecond, retryAfter(http.Header{}, []byte(`{"retry_after":1.5}`)))
	assert.Equal(t, time.Duration(0), retryAfter(http.Header{}, []byte(`oops`)))
	assert.Equal(t, defaultMaxBackoff, retryAfter(http.Header{"Retry-After": {"3600"}}, nil))
}
