package steamapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/steamid"
	"steamwatch/pkg/logx"
)

func newTestClient(t *testing.T, srv *httptest.Server, retries int) (*Client, *[]time.Duration) {
	t.Helper()
	c, err := New(Config{
		APIKey:     "key",
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		Retries:    retries,
		RetryDelay: 2 * time.Second,
		VerifySSL:  true,
	}, logx.Nop())
	require.NoError(t, err)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func dropConn(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		_ = conn.Close()
	}
}

func ids(n int) []steamid.ID {
	out := make([]steamid.ID, n)
	for i := range out {
		out[i] = steamid.FromAccount(uint64(1000 + i))
	}
	return out
}

func TestSummariesBatchesAndDecodes(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ISteamUser/GetPlayerSummaries/v0002/", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		list := strings.Split(r.URL.Query().Get("steamids"), ",")
		batches = append(batches, len(list))

		players := make([]string, 0, len(list))
		for i, sid := range list {
			game := ""
			if i == 0 {
				game = `,"gameid":"570","gameextrainfo":"Dota 2"`
			}
			players = append(players, fmt.Sprintf(`{"steamid":"%s","personaname":"p%d","personastate":1%s}`, sid, i, game))
		}
		fmt.Fprintf(w, `{"response":{"players":[%s]}}`, strings.Join(players, ","))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 2)
	in := ids(150)
	got, err := c.Summaries(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []int{100, 50}, batches)
	assert.Len(t, got, 150)

	first := got[in[0]]
	playing, label := first.Playing()
	assert.True(t, playing)
	assert.Equal(t, "Dota 2", label)
	assert.Equal(t, "p0", first.Name("x"))

	playing, _ = got[in[1]].Playing()
	assert.False(t, playing)
}

func TestSummariesRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			dropConn(w)
			return
		}
		fmt.Fprint(w, `{"response":{"players":[{"steamid":"76561197960266728","personaname":"a"}]}}`)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, 2)
	got, err := c.Summaries(context.Background(), []steamid.ID{steamid.FromAccount(1000)})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *slept)
}

func TestSummariesGivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		dropConn(w)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 1)
	_, err := c.Summaries(context.Background(), ids(3))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSummariesDoesNotRetryHTTPErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, 3)
	_, err := c.Summaries(context.Background(), ids(1))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, *slept)
}

func TestSummariesSkipsFailedBatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, `not json`)
			return
		}
		sid := strings.Split(r.URL.Query().Get("steamids"), ",")[0]
		fmt.Fprintf(w, `{"response":{"players":[{"steamid":"%s"}]}}`, sid)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	in := ids(101)
	got, err := c.Summaries(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	_, ok := got[in[100]]
	assert.True(t, ok)
}

func TestRequiresAPIKey(t *testing.T) {
	c, err := New(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.False(t, c.HasKey())

	_, err = c.Summaries(context.Background(), ids(1))
	assert.ErrorIs(t, err, ErrNoAPIKey)
	_, _, err = c.ResolveVanity(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoAPIKey)
	_, _, err = c.Playtime(context.Background(), ids(1)[0], 10)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestResolveVanity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("vanityurl") {
		case "gaben":
			fmt.Fprint(w, `{"response":{"success":1,"steamid":"76561197960287930"}}`)
		default:
			fmt.Fprint(w, `{"response":{"success":42,"message":"No match"}}`)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	id, ok, err := c.ResolveVanity(context.Background(), "gaben")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, steamid.ID(76561197960287930), id)

	_, ok, err = c.ResolveVanity(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/s/abc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop", http.StatusFound)
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/profiles/76561197960287930/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/profiles/", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	final, err := c.FollowLink(context.Background(), srv.URL+"/s/abc")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/profiles/76561197960287930/", final)
}

func TestPlaytimeAndAchievements(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/IPlayerService/GetOwnedGames/v0001/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "730", r.URL.Query().Get("appids_filter[0]"))
		fmt.Fprint(w, `{"response":{"game_count":1,"games":[{"appid":730,"playtime_forever":185}]}}`)
	})
	mux.HandleFunc("/ISteamUserStats/GetPlayerAchievements/v0001/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"playerstats":{"achievements":[{"achieved":1},{"achieved":0},{"achieved":1}]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	id := ids(1)[0]

	hours, ok, err := c.Playtime(context.Background(), id, 730)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, hours)

	got, total, ok, err := c.Achievements(context.Background(), id, 730)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Equal(t, 3, total)
}

func TestPersonaStateText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Offline", PersonaStateText(0))
	assert.Equal(t, "Looking to play", PersonaStateText(6))
	assert.Equal(t, "", PersonaStateText(7))
	assert.Equal(t, "", PersonaStateText(-1))
}

func TestInvalidProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ProxyURL: "::bad"}, logx.Nop())
	assert.Error(t, err)
}
