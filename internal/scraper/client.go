package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPError is a non-2xx response. The body is kept (truncated) so callers
// can tell a challenge page from a genuine server error.
type HTTPError struct {
	Status int
	URL    string
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Status, e.URL)
}

const maxErrBody = 2048

// ClientConfig mirrors the http section of the app config.
type ClientConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	PageDelay    time.Duration
	UserAgent    string
}

// Client wraps http.Client with the retry, pacing and header conventions
// shared by every adapter. Each adapter gets its own Client so cookie jars
// never leak between sources.
type Client struct {
	http      *http.Client
	cfg       ClientConfig
	log       *zap.Logger
	defHeader http.Header
}

type ClientOption func(*Client)

// WithCookieJar gives the client a fresh in-memory jar. Adapters that ride
// server-side sessions (ASP.NET postbacks, token warm-ups) need this.
func WithCookieJar() ClientOption {
	return func(c *Client) {
		jar, _ := cookiejar.New(nil)
		c.http.Jar = jar
	}
}

// WithHeader sets a header on every request the client sends.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.defHeader.Set(key, value)
	}
}

func NewClient(cfg ClientConfig, log *zap.Logger, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	c := &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		log:       log,
		defHeader: http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches the URL and returns the body. Non-2xx statuses come back as
// *HTTPError with the body attached.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, http.Header, error) {
	return c.do(ctx, http.MethodGet, rawURL, "", nil, header)
}

// PostForm sends an application/x-www-form-urlencoded body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, header http.Header) ([]byte, http.Header, error) {
	return c.do(ctx, http.MethodPost, rawURL, "application/x-www-form-urlencoded", []byte(form.Encode()), header)
}

// PostJSON marshals payload and sends it as application/json.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any, header http.Header) ([]byte, http.Header, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, "application/json", body, header)
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body []byte, header http.Header) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := Sleep(ctx, c.cfg.RetryBackoff); err != nil {
				return nil, nil, err
			}
			c.log.Debug("retrying request",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt))
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, nil, fmt.Errorf("build request %s: %w", rawURL, err)
		}
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		req.Header.Set("Accept", "*/*")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, vals := range c.defHeader {
			for _, v := range vals {
				req.Header.Set(k, v)
			}
		}
		for k, vals := range header {
			for _, v := range vals {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request %s: %w", rawURL, err)
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response from %s: %w", rawURL, readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &HTTPError{Status: resp.StatusCode, URL: rawURL, Body: truncate(string(respBody), maxErrBody)}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, resp.Header, &HTTPError{Status: resp.StatusCode, URL: rawURL, Body: truncate(string(respBody), maxErrBody)}
		}
		return respBody, resp.Header, nil
	}
	return nil, nil, lastErr
}

// Cookies returns the jar's cookies for the URL, or nil without a jar.
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	if c.http.Jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.http.Jar.Cookies(u)
}

// PageDelay pauses between page fetches so sources are not hammered. The
// adapter's configured delay wins over the global default when set.
func (c *Client) PageDelay(ctx context.Context, override time.Duration) error {
	d := c.cfg.PageDelay
	if override > 0 {
		d = override
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until the context ends, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// LooksLikeChallenge spots anti-bot interstitials that arrive with a 200.
func LooksLikeChallenge(body string, markers ...string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(body, m) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
