package steamapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"steamwatch/internal/steamid"
	"steamwatch/pkg/logx"
)

// Player is the subset of GetPlayerSummaries fields steamwatch uses.
type Player struct {
	SteamID        string `json:"steamid"`
	PersonaName    string `json:"personaname"`
	PersonaState   int    `json:"personastate"`
	ProfileURL     string `json:"profileurl"`
	RealName       string `json:"realname,omitempty"`
	GameID         string `json:"gameid,omitempty"`
	GameExtraInfo  string `json:"gameextrainfo,omitempty"`
	LastLogoff     int64  `json:"lastlogoff,omitempty"`
	TimeCreated    int64  `json:"timecreated,omitempty"`
	LocCountryCode string `json:"loccountrycode,omitempty"`
	LocStateCode   string `json:"locstatecode,omitempty"`
	LocCityID      int    `json:"loccityid,omitempty"`
}

// Playing reports whether the player is in a game, and its display name.
func (p Player) Playing() (bool, string) {
	return p.GameID != "" || p.GameExtraInfo != "", p.GameExtraInfo
}

// Name returns the persona name, or fallback when it is empty.
func (p Player) Name(fallback string) string {
	if n := strings.TrimSpace(p.PersonaName); n != "" {
		return n
	}
	return fallback
}

var personaStates = [...]string{
	"Offline", "Online", "Busy", "Away", "Snooze", "Looking to trade", "Looking to play",
}

// PersonaStateText names a personastate value; empty for unknown values.
func PersonaStateText(state int) string {
	if state < 0 || state >= len(personaStates) {
		return ""
	}
	return personaStates[state]
}

type summariesResponse struct {
	Response struct {
		Players []Player `json:"players"`
	} `json:"response"`
}

// Summaries fetches players in batches of MaxBatch. A batch that still fails
// after its retries is skipped; the call fails only when every batch failed.
func (c *Client) Summaries(ctx context.Context, ids []steamid.ID) (map[steamid.ID]Player, error) {
	cfg, _, _ := c.snapshot()
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	out := make(map[steamid.ID]Player, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	endpoint := cfg.BaseURL + "/ISteamUser/GetPlayerSummaries/v0002/"
	var (
		failed  int
		batches int
		lastErr error
	)
	for start := 0; start < len(ids); start += MaxBatch {
		end := min(start+MaxBatch, len(ids))
		batches++

		parts := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			parts = append(parts, id.String())
		}
		q := url.Values{"key": {cfg.APIKey}, "steamids": {strings.Join(parts, ",")}}
		if cfg.Debug {
			c.log.Debug("steam summaries request",
				logx.Int("count", len(parts)),
				logx.Int("retries", cfg.Retries),
				logx.Bool("proxy", cfg.ProxyURL != ""),
			)
		}

		var resp summariesResponse
		if err := c.getWithRetry(ctx, endpoint, q, &resp); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			lastErr = err
			c.log.Warn("steam summaries batch failed", logx.Int("batch", batches), logx.Int("count", len(parts)), logx.Err(err))
			continue
		}
		for _, p := range resp.Response.Players {
			id, err := steamid.Parse(p.SteamID)
			if err != nil {
				continue
			}
			out[id] = p
		}
		if cfg.Debug {
			c.log.Debug("steam summaries response", logx.Int("players", len(resp.Response.Players)))
		}
	}
	if failed == batches {
		if errors.Is(lastErr, ErrUpstreamUnavailable) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
	}
	return out, nil
}

// Summary fetches a single player. ok is false when Steam does not know id.
func (c *Client) Summary(ctx context.Context, id steamid.ID) (Player, bool, error) {
	m, err := c.Summaries(ctx, []steamid.ID{id})
	if err != nil {
		return Player{}, false, err
	}
	p, ok := m[id]
	return p, ok, nil
}
