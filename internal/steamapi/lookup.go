package steamapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"steamwatch/internal/steamid"
)

type vanityResponse struct {
	Response struct {
		Success int    `json:"success"`
		SteamID string `json:"steamid"`
		Message string `json:"message"`
	} `json:"response"`
}

// ResolveVanity maps a custom profile name to its SteamID64. found is false
// when Steam reports no match.
func (c *Client) ResolveVanity(ctx context.Context, name string) (steamid.ID, bool, error) {
	cfg, _, _ := c.snapshot()
	if cfg.APIKey == "" {
		return 0, false, ErrNoAPIKey
	}
	q := url.Values{"key": {cfg.APIKey}, "vanityurl": {name}}
	var resp vanityResponse
	if err := c.getWithRetry(ctx, cfg.BaseURL+"/ISteamUser/ResolveVanityURL/v0001/", q, &resp); err != nil {
		return 0, false, wrapUpstream(err)
	}
	if resp.Response.Success != 1 {
		return 0, false, nil
	}
	id, err := steamid.Parse(resp.Response.SteamID)
	if err != nil {
		return 0, false, fmt.Errorf("%w: steamid %q", ErrBadResponse, resp.Response.SteamID)
	}
	return id, true, nil
}

// FollowLink issues a GET, follows redirects and returns the final URL.
func (c *Client) FollowLink(ctx context.Context, link string) (string, error) {
	_, hc, _ := c.snapshot()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", wrapUpstream(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Request.URL.String(), nil
}

type ownedGamesResponse struct {
	Response struct {
		Games []struct {
			AppID           int `json:"appid"`
			PlaytimeForever int `json:"playtime_forever"`
		} `json:"games"`
	} `json:"response"`
}

// Playtime returns total hours played for appID. ok is false when the game
// is not visible in the player's library.
func (c *Client) Playtime(ctx context.Context, id steamid.ID, appID int) (int, bool, error) {
	cfg, _, _ := c.snapshot()
	if cfg.APIKey == "" {
		return 0, false, ErrNoAPIKey
	}
	q := url.Values{
		"key":                       {cfg.APIKey},
		"steamid":                   {id.String()},
		"include_appinfo":           {"0"},
		"include_played_free_games": {"1"},
		"appids_filter[0]":          {strconv.Itoa(appID)},
	}
	var resp ownedGamesResponse
	if err := c.getWithRetry(ctx, cfg.BaseURL+"/IPlayerService/GetOwnedGames/v0001/", q, &resp); err != nil {
		return 0, false, wrapUpstream(err)
	}
	if len(resp.Response.Games) == 0 {
		return 0, false, nil
	}
	return max(0, resp.Response.Games[0].PlaytimeForever/60), true, nil
}

type achievementsResponse struct {
	PlayerStats struct {
		Achievements []struct {
			Achieved int `json:"achieved"`
		} `json:"achievements"`
	} `json:"playerstats"`
}

// Achievements returns unlocked and total achievement counts for appID.
func (c *Client) Achievements(ctx context.Context, id steamid.ID, appID int) (achieved, total int, ok bool, err error) {
	cfg, _, _ := c.snapshot()
	if cfg.APIKey == "" {
		return 0, 0, false, ErrNoAPIKey
	}
	q := url.Values{"key": {cfg.APIKey}, "steamid": {id.String()}, "appid": {strconv.Itoa(appID)}}
	var resp achievementsResponse
	if err := c.getWithRetry(ctx, cfg.BaseURL+"/ISteamUserStats/GetPlayerAchievements/v0001/", q, &resp); err != nil {
		return 0, 0, false, wrapUpstream(err)
	}
	list := resp.PlayerStats.Achievements
	if len(list) == 0 {
		return 0, 0, false, nil
	}
	for _, a := range list {
		if a.Achieved == 1 {
			achieved++
		}
	}
	return achieved, len(list), true, nil
}
