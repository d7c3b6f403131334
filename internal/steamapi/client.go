package steamapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"steamwatch/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "https://api.steampowered.com"

	// MaxBatch is the upstream limit of identities per summaries request.
	MaxBatch = 100

	maxBody = 4 << 20
)

var (
	ErrNoAPIKey            = errors.New("steam web api key not configured")
	ErrUpstreamUnavailable = errors.New("steam api unavailable")
	ErrBadResponse         = errors.New("unexpected steam api response")
)

// Config controls the HTTP client. Zero durations fall back to defaults.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	ProxyURL   string
	VerifySSL  bool
	Debug      bool
}

// Client talks to the Steam Web API. It is safe for concurrent use and may
// be reconfigured while requests are in flight.
type Client struct {
	log logx.Logger

	mu     sync.RWMutex
	cfg    Config
	api    *http.Client // proxied, follows redirects
	direct *http.Client // bypasses the proxy

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	c := &Client{log: log.With(logx.String("comp", "steamapi")), sleep: sleepCtx}
	if err := c.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconfigure swaps the HTTP clients for cfg.
func (c *Client) Reconfigure(cfg Config) error {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	api, err := newHTTPClient(cfg, true)
	if err != nil {
		return err
	}
	direct, err := newHTTPClient(cfg, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.api = api
	c.direct = direct
	c.mu.Unlock()
	return nil
}

func newHTTPClient(cfg Config, useProxy bool) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	if useProxy && strings.TrimSpace(cfg.ProxyURL) != "" {
		u, err := url.Parse(strings.TrimSpace(cfg.ProxyURL))
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("steamapi: invalid proxy url %q", cfg.ProxyURL)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	if !cfg.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-out
	}
	return &http.Client{Transport: tr, Timeout: cfg.Timeout}, nil
}

func (c *Client) snapshot() (Config, *http.Client, *http.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.api, c.direct
}

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool {
	cfg, _, _ := c.snapshot()
	return cfg.APIKey != ""
}

func (c *Client) ProxyURL() string {
	cfg, _, _ := c.snapshot()
	return cfg.ProxyURL
}

// getJSON performs one GET against an API method and decodes the body.
func (c *Client) getJSON(ctx context.Context, hc *http.Client, endpoint string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// getWithRetry retries transient transport failures with a fixed delay.
func (c *Client) getWithRetry(ctx context.Context, endpoint string, q url.Values, out any) error {
	cfg, hc, _ := c.snapshot()
	var err error
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			if cfg.Debug {
				c.log.Debug("steam request retry", logx.Int("attempt", attempt), logx.Int("retries", cfg.Retries), logx.Err(err))
			}
			if serr := c.sleep(ctx, cfg.RetryDelay); serr != nil {
				return serr
			}
		}
		err = c.getJSON(ctx, hc, endpoint, q, out)
		if err == nil || !isTransient(ctx, err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// isTransient reports timeouts, connection errors and protocol errors.
// Caller cancellation and TLS verification failures are not retried.
func isTransient(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrBadResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &authErr) || errors.As(err, &hostErr) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
