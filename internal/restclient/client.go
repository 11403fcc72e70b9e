// Package restclient is the JSON-over-HTTP client shared by the provider
// adapters. It paces requests, retries 429/5xx with backoff and honours
// Retry-After style hints.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Napageneral/memsync/internal/metrics"
)

const (
	defaultMaxRetries     = 4
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultTimeout        = 60 * time.Second
	maxErrorBody          = 512
)

// StatusError is returned for a final non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client talks to one provider.
type Client struct {
	Provider string
	BaseURL  string
	Header   http.Header

	HTTPClient     *http.Client
	Limiter        *rate.Limiter
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// New builds a client for baseURL. rps<=0 disables pacing.
func New(provider, baseURL string, rps float64) *Client {
	c := &Client{
		Provider:       provider,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Header:         http.Header{},
		HTTPClient:     &http.Client{Timeout: defaultTimeout},
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
	if rps > 0 {
		burst := int(math.Ceil(rps))
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

// WithHeader sets a header sent on every request and returns c.
func (c *Client) WithHeader(key, value string) *Client {
	c.Header.Set(key, value)
	return c
}

// GetJSON issues GET path?params and decodes the JSON body into out.
// path may be absolute, in which case BaseURL is ignored.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, params, nil, out)
}

// Do sends a request with an optional JSON body and decodes the response.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	target := c.resolve(path, params)

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}

	var lastErr error
	var wait time.Duration
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = c.backoff(attempt)
			}
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			wait = 0
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		for k, vs := range c.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.UpstreamRequests.WithLabelValues(c.Provider, codeClass(resp.StatusCode)).Inc()
		if err != nil {
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: snippet(respBody)}
			wait = retryAfter(resp.Header, respBody)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: snippet(respBody)}
		}
		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s: %w", target, err)
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) resolve(path string, params url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.BaseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + params.Encode()
	}
	return target
}

func (c *Client) backoff(attempt int) time.Duration {
	b := float64(c.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if b > float64(c.MaxBackoff) {
		b = float64(c.MaxBackoff)
	}
	jitter := b * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(b + jitter)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retryAfter reads the Retry-After header (seconds) or Discord's
// {"retry_after": seconds} body.
func retryAfter(h http.Header, body []byte) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return capWait(secs)
		}
	}
	var hint struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &hint) == nil && hint.RetryAfter > 0 {
		return capWait(hint.RetryAfter)
	}
	return 0
}

func capWait(secs float64) time.Duration {
	d := time.Duration(secs * float64(time.Second))
	if d > defaultMaxBackoff {
		d = defaultMaxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

func codeClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
