package steamapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Probe GETs target through the configured proxy and returns the status code.
func (c *Client) Probe(ctx context.Context, target string) (int, error) {
	_, hc, _ := c.snapshot()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// IPEchoURL answers {"ip": "..."}.
var IPEchoURL = "https://api.ipify.org?format=json"

// PublicIP asks an IP echo service for the egress address, either directly
// or through the proxy.
func (c *Client) PublicIP(ctx context.Context, direct bool) (string, error) {
	_, proxied, plain := c.snapshot()
	hc := proxied
	if direct {
		hc = plain
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, IPEchoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if body.IP == "" {
		return "unknown", nil
	}
	return body.IP, nil
}

func wrapUpstream(err error) error {
	if err == nil || errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrNoAPIKey) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
