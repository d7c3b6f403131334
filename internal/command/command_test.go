package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/config"
	"steamwatch/internal/notifier"
	"steamwatch/internal/resolve"
	"steamwatch/internal/state"
	"steamwatch/internal/steamapi"
	"steamwatch/internal/steamid"
	"steamwatch/internal/storage"
	"steamwatch/internal/task/scheduler"
	"steamwatch/internal/transport"
	"steamwatch/internal/watch"
	"steamwatch/pkg/logx"
)

const gabe = steamid.ID(76561197960287930)

type fakeReplier struct {
	mu   sync.Mutex
	sent []string
	ch   chan string
}

func (f *fakeReplier) SendText(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	if f.ch != nil {
		f.ch <- text
	}
	return nil
}

func (f *fakeReplier) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeLookup struct{}

func (fakeLookup) ResolveVanity(context.Context, string) (steamid.ID, bool, error) {
	return 0, false, nil
}

func (fakeLookup) FollowLink(context.Context, string) (string, error) {
	return "", errors.New("offline")
}

type fakeSteam struct {
	key     bool
	proxy   string
	player  steamapi.Player
	found   bool
	err     error
	probe   map[string]int
	ips     [2]string
	hours   int
	achieve [2]int
}

func (f *fakeSteam) HasKey() bool     { return f.key }
func (f *fakeSteam) ProxyURL() string { return f.proxy }
func (f *fakeSteam) Summary(context.Context, steamid.ID) (steamapi.Player, bool, error) {
	return f.player, f.found, f.err
}
func (f *fakeSteam) Playtime(context.Context, steamid.ID, int) (int, bool, error) {
	return f.hours, f.hours > 0, nil
}
func (f *fakeSteam) Achievements(context.Context, steamid.ID, int) (int, int, bool, error) {
	return f.achieve[0], f.achieve[1], f.achieve[1] > 0, nil
}
func (f *fakeSteam) Probe(_ context.Context, target string) (int, error) {
	code, ok := f.probe[target]
	if !ok {
		return 0, context.DeadlineExceeded
	}
	return code, nil
}
func (f *fakeSteam) PublicIP(_ context.Context, direct bool) (string, error) {
	if direct {
		return f.ips[0], nil
	}
	return f.ips[1], nil
}

type fakeRouter struct {
	mu     sync.Mutex
	routed []string
	hist   []notifier.Delivery
}

func (f *fakeRouter) History() []notifier.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.Delivery(nil), f.hist...)
}

func (f *fakeRouter) Route(_ context.Context, id steamid.ID, text string) {
	f.mu.Lock()
	f.routed = append(f.routed, id.String()+" "+text)
	f.mu.Unlock()
}

func (f *fakeRouter) Normalizer() notifier.Normalizer {
	return notifier.Normalizer{DefaultPlatform: "telegram", DefaultKind: notifier.KindGroup}
}

type fakeEngine struct {
	forgotten []steamid.ID
	sessions  map[steamid.ID]watch.Session
}

func (f *fakeEngine) Forget(id steamid.ID) { f.forgotten = append(f.forgotten, id) }

func (f *fakeEngine) Snapshot() map[steamid.ID]watch.Session { return f.sessions }

type fakeJobs struct{ snap scheduler.Snapshot }

func (f fakeJobs) Snapshot() scheduler.Snapshot { return f.snap }

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (f *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	return nil
}

type harness struct {
	d      *Dispatcher
	st     *state.Service
	rep    *fakeReplier
	steam  *fakeSteam
	router *fakeRouter
	engine *fakeEngine
	audit  *fakeAudit
	jobs   *fakeJobs
	cfg    *config.Config
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: "file", Dir: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	norm := notifier.Normalizer{DefaultPlatform: "telegram", DefaultKind: notifier.KindGroup}
	st := state.New(store, norm, logx.Nop())
	require.NoError(t, st.Load(context.Background()))

	if cfg == nil {
		cfg = &config.Config{}
	}
	h := &harness{
		st:     st,
		rep:    &fakeReplier{},
		steam:  &fakeSteam{key: true},
		router: &fakeRouter{},
		engine: &fakeEngine{},
		audit:  &fakeAudit{},
		jobs:   &fakeJobs{},
		cfg:    cfg,
	}
	h.d = New(Deps{
		State:    st,
		Resolver: resolve.New(st, fakeLookup{}, 0, logx.Nop()),
		Steam:    h.steam,
		Engine:   h.engine,
		Router:   h.router,
		Audit:    h.audit,
		Jobs:     h.jobs,
		Config:   func() *config.Config { return h.cfg },
	}, Options{Timeout: 5 * time.Second})
	h.d.SetReplier("telegram", h.rep)
	return h
}

func update(from, text string) transport.Update {
	return transport.Update{
		Platform:   "telegram",
		ChannelID:  "-100",
		Kind:       transport.KindGroup,
		SenderID:   from,
		SenderName: "user" + from,
		Text:       text,
	}
}

func (h *harness) run(t *testing.T, from, text string) string {
	t.Helper()
	require.True(t, h.d.Handle(context.Background(), update(from, text)), "not a command: %q", text)
	return h.rep.last()
}

func TestParse(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		sub  string
		args []string
		ok   bool
	}{
		{"/sw", "", nil, true},
		{"/sw add 123 grp", "add", []string{"123", "grp"}, true},
		{"/sw@watch_bot LIST", "list", []string{}, true},
		{`/sw add "my name" g`, "add", []string{"my name", "g"}, true},
		{"/swx add", "", nil, false},
		{"sw add", "", nil, false},
		{"/start", "", nil, false},
		{"", "", nil, false},
	}
	for _, tc := range cases {
		sub, args, ok := Parse(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.sub, sub, tc.in)
		if tc.ok && tc.args != nil {
			assert.Equal(t, tc.args, args, tc.in)
		}
	}
}

func TestTokenizeEscapes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b c", `d"e`}, tokenize(`a 'b c' d\"e`))
	assert.Nil(t, tokenize("   "))
}

func TestHandleIgnoresNonCommands(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.d.Handle(context.Background(), update("1", "hello")))
	assert.Empty(t, h.rep.sent)
}

func TestBarePrefixShowsMenu(t *testing.T) {
	h := newHarness(t, nil)
	out := h.run(t, "1", "/sw")
	assert.Contains(t, out, "Usage: /sw <subcommand>")
	assert.Contains(t, out, "/sw bind")
	assert.Equal(t, out, h.run(t, "1", "/sw help"))
}

func TestUnknownSubcommand(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "Unknown subcommand. Send /sw menu for the command list.", h.run(t, "1", "/sw frobnicate"))
}

func TestAddRemoveList(t *testing.T) {
	h := newHarness(t, nil)

	assert.Contains(t, h.run(t, "1", "/sw add"), "Usage: /sw add")
	assert.Equal(t, "Added 76561197960287930 to the watch list. Group: squad", h.run(t, "1", "/sw add 76561197960287930 squad"))
	assert.Equal(t, "76561197960287930 is already watched.", h.run(t, "1", "/sw add 76561197960287930"))
	assert.Equal(t, "squad", h.st.GroupOf(gabe))

	require.NoError(t, h.st.Bind(context.Background(), "7", gabe, "gaben"))
	assert.Equal(t, "Watch list:\n- 76561197960287930 (gaben (7), group: squad)", h.run(t, "1", "/sw list"))

	assert.Equal(t, "Removed 76561197960287930 from the watch list.", h.run(t, "1", "/sw rm 76561197960287930"))
	assert.Equal(t, []steamid.ID{gabe}, h.engine.forgotten)
	assert.Equal(t, "76561197960287930 is not in the watch list.", h.run(t, "1", "/sw remove 76561197960287930"))
	assert.Equal(t, "The watch list is empty.", h.run(t, "1", "/sw list"))

	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	require.Len(t, h.audit.entries, 5)
	first := h.audit.entries[0]
	assert.Equal(t, "add", first.Action)
	assert.Equal(t, "1", first.Actor)
	assert.Equal(t, "telegram", first.Platform)
	assert.True(t, first.OK)
}

func TestAddRegroupsWatchedAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "1", "/sw add 76561197960287930 squad")

	assert.Equal(t, "76561197960287930 is already watched.", h.run(t, "1", "/sw add 76561197960287930 squad"))
	assert.Equal(t, "76561197960287930 is already watched. Group set to raid.", h.run(t, "1", "/sw add 76561197960287930 raid"))
	assert.Equal(t, "raid", h.st.GroupOf(gabe))
	assert.Len(t, h.st.Watched(), 1)
}

func TestListShowsActiveSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "1", "/sw add 76561197960287930")
	h.run(t, "1", "/sw add 76561197960287931")
	h.engine.sessions = map[steamid.ID]watch.Session{
		gabe:     {State: watch.Active, Label: "Dota 2", Start: time.Now().Add(-10*time.Minute - time.Second)},
		gabe + 1: {State: watch.Idle},
	}
	assert.Equal(t, "Watch list:\n- 76561197960287930 (playing Dota 2, 10 min)\n- 76561197960287931", h.run(t, "1", "/sw list"))
}

func TestAddResolvesBoundMention(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.st.Bind(context.Background(), "42", gabe, "gaben"))

	assert.Equal(t, "Added 76561197960287930 to the watch list.", h.run(t, "1", "/sw add tg://user?id=42"))
	assert.Equal(t, "No binding found for that user.", h.run(t, "1", "/sw add <@99>"))
	assert.Equal(t, "76561197960287930 is already watched.", h.run(t, "1", "/sw add @gaben"))
}

func TestAdminGate(t *testing.T) {
	cfg := &config.Config{Admins: config.AdminConfig{UserIDs: []string{"1"}}}
	h := newHarness(t, cfg)

	assert.Equal(t, "Permission denied.", h.run(t, "2", "/sw add 76561197960287930"))
	assert.False(t, h.st.IsWatched(gabe))
	assert.Equal(t, "Permission denied.", h.run(t, "2", "/sw sub"))

	assert.Contains(t, h.run(t, "2", "/sw resolve 76561197960287930"), "SteamID64: 76561197960287930")
	assert.Contains(t, h.run(t, "1", "/sw add 76561197960287930"), "Added")
}

func TestInterval(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "Usage: /sw interval <seconds>", h.run(t, "1", "/sw interval"))
	assert.Equal(t, "Usage: /sw interval <seconds>", h.run(t, "1", "/sw interval 1m"))
	assert.Equal(t, "Poll interval must be at least 30 seconds.", h.run(t, "1", "/sw interval 29"))
	assert.Empty(t, h.st.Setting(state.SettingPollInterval))

	assert.Equal(t, "Poll interval set to 90 seconds.", h.run(t, "1", "/sw int 90"))
	assert.Equal(t, "1m30s", h.st.Setting(state.SettingPollInterval))
}

func TestSubscribeGlobal(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "Subscribed this chat to notifications.", h.run(t, "1", "/sw sub"))
	assert.Equal(t, "This chat is already subscribed.", h.run(t, "1", "/sw subscribe"))
	assert.Equal(t, []string{"telegram:GroupMessage:-100"}, h.st.GlobalAudiences())

	// group routing off: the argument is ignored
	assert.Equal(t, "This chat is already subscribed.", h.run(t, "1", "/sw sub squad"))
	assert.Empty(t, h.st.Groups())
	assert.Equal(t, "Subscriptions for this chat:\n- global: subscribed", h.run(t, "1", "/sw subinfo"))
	assert.Equal(t, "Group routing is disabled. Set notify.group_enabled first.", h.run(t, "1", "/sw groupinfo"))

	assert.Equal(t, "Unsubscribed this chat from notifications.", h.run(t, "1", "/sw unsub"))
	assert.Equal(t, "This chat is not subscribed.", h.run(t, "1", "/sw unsub"))
}

func TestSubscribeGroups(t *testing.T) {
	cfg := &config.Config{Notify: config.NotifyConfig{GroupEnabled: true}}
	h := newHarness(t, cfg)

	assert.Equal(t, "No group subscriptions yet.", h.run(t, "1", "/sw groupinfo"))
	assert.Equal(t, "Subscribed this chat to group squad.", h.run(t, "1", "/sw sub squad"))
	assert.Equal(t, "This chat is already subscribed to group squad.", h.run(t, "1", "/sw sub squad"))
	assert.Empty(t, h.st.GlobalAudiences())

	assert.Equal(t, "Subscriptions for this chat:\n- groups: squad\n- global: not subscribed", h.run(t, "1", "/sw subinfo"))
	assert.Equal(t, "Group subscriptions:\n- squad (1 chats)", h.run(t, "1", "/sw groupinfo"))
	assert.Equal(t, "Group squad:\n- telegram:GroupMessage:-100", h.run(t, "1", "/sw groupinfo squad"))
	assert.Equal(t, "That group has no subscribed chats.", h.run(t, "1", "/sw groupinfo other"))

	assert.Equal(t, "Unsubscribed this chat from group squad.", h.run(t, "1", "/sw unsub squad"))
	assert.Equal(t, "This chat is not subscribed to group squad.", h.run(t, "1", "/sw unsub squad"))
	assert.Empty(t, h.st.Groups())
}

func TestSubClean(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "Subscription cleanup done:\n- global: 0 -> 0\n- groups: 0 -> 0", h.run(t, "1", "/sw subclean"))
}

func TestBindMeUnbind(t *testing.T) {
	h := newHarness(t, &config.Config{Admins: config.AdminConfig{UserIDs: []string{"1"}}})

	assert.Equal(t, resolve.Message(resolve.ErrNotBound), h.run(t, "5", "/sw me"))
	assert.Contains(t, h.run(t, "5", "/sw bind"), "Usage: /sw bind")
	assert.Equal(t, "Bound 5 to account ID 22202 (SteamID64: 76561197960287930).", h.run(t, "5", "/sw bind 76561197960287930"))
	assert.Equal(t, "You already have a binding. Use /sw unbind first.", h.run(t, "5", "/sw bind 76561197960287931"))
	assert.Equal(t, "That SteamID is bound to another user.", h.run(t, "6", "/sw bind 76561197960287930"))

	b, ok := h.st.BindingOf("5")
	require.True(t, ok)
	assert.Equal(t, "user5", b.Name)

	assert.Equal(t, "Current binding: account ID 22202 (SteamID64: 76561197960287930).", h.run(t, "5", "/sw me"))
	assert.Equal(t, "SteamID64: 76561197960287930\nAccount ID: 22202", h.run(t, "5", "/sw resolve me"))

	// unbinding someone else needs admin
	assert.Equal(t, "Permission denied.", h.run(t, "6", "/sw unbind 5"))
	assert.Equal(t, "Binding removed.", h.run(t, "1", "/sw unbind <@5>"))
	assert.Equal(t, "No binding found.", h.run(t, "5", "/sw unbind"))
}

func TestShowFriendCode(t *testing.T) {
	h := newHarness(t, &config.Config{Watch: config.WatchConfig{ShowFriendCode: true}})
	code, err := steamid.EncodeFriendCode(gabe)
	require.NoError(t, err)

	out := h.run(t, "1", "/sw resolve 76561197960287930")
	assert.Contains(t, out, "Friend code: "+code)
}

func TestQueryAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.steam.found = true
	h.steam.player = steamapi.Player{PersonaName: "gaben", GameID: "570", GameExtraInfo: "Dota 2"}

	assert.Equal(t, "gaben is now playing Dota 2!", h.run(t, "1", "/sw query 76561197960287930"))
	assert.Equal(t, "Pushed the current status to subscribers.", h.run(t, "1", "/sw status 76561197960287930"))
	assert.Equal(t, []string{"76561197960287930 gaben is now playing Dota 2!"}, h.router.routed)

	h.steam.player = steamapi.Player{PersonaName: "gaben"}
	assert.Equal(t, "gaben is not in a game right now.", h.run(t, "1", "/sw q 76561197960287930"))

	h.steam.found = false
	assert.Equal(t, "No data returned for that SteamID.", h.run(t, "1", "/sw query 76561197960287930"))

	h.steam.err = steamapi.ErrUpstreamUnavailable
	assert.Equal(t, "Could not fetch data from Steam. Try again later.", h.run(t, "1", "/sw query 76561197960287930"))

	h.steam.key = false
	assert.Equal(t, "Steam Web API key is not configured.", h.run(t, "1", "/sw query 76561197960287930"))
}

func TestInfo(t *testing.T) {
	h := newHarness(t, nil)
	h.steam.found = true
	h.steam.hours = 1200
	h.steam.achieve = [2]int{3, 10}
	h.steam.player = steamapi.Player{
		PersonaName:    "gaben",
		PersonaState:   1,
		ProfileURL:     "https://steamcommunity.com/id/gabelogannewell/",
		GameID:         "570",
		GameExtraInfo:  "Dota 2",
		LocCountryCode: "US",
		LocStateCode:   "WA",
	}

	out := h.run(t, "1", "/sw info 76561197960287930")
	assert.Contains(t, out, "Name: gaben")
	assert.Contains(t, out, "SteamID64: 76561197960287930")
	assert.Contains(t, out, "State: Online")
	assert.Contains(t, out, "Location: US-WA")
	assert.Contains(t, out, "Playing: Dota 2 (appid: 570)")
	assert.Contains(t, out, "Total playtime: 1200 h")
	assert.Contains(t, out, "Achievements: 3/10")
}

func TestConnectivity(t *testing.T) {
	h := newHarness(t, nil)
	h.steam.probe = map[string]int{communityURL: 200}

	assert.Equal(t, "Connectivity test:\nsteamcommunity.com: 200\napi.steampowered.com: failed (timeout)\nproxy: not configured", h.run(t, "1", "/sw test"))
	assert.Equal(t, "No proxy configured (steam.proxy_url).", h.run(t, "1", "/sw proxytest"))

	h.steam.proxy = "socks5://127.0.0.1:1080"
	h.steam.ips = [2]string{"1.1.1.1", "2.2.2.2"}
	assert.Equal(t, "Proxy test:\ndirect IP: 1.1.1.1\nproxied IP: 2.2.2.2\nproxy: socks5://127.0.0.1:1080", h.run(t, "1", "/sw proxy"))
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	h := newHarness(t, nil)
	h.d.SetRegistry([]Command{{
		Name:  "boom",
		Audit: true,
		Handle: func(context.Context, *Request) error {
			panic("kaboom")
		},
	}})
	assert.True(t, h.d.Handle(context.Background(), update("1", "/sw boom")))

	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	require.Len(t, h.audit.entries, 1)
	assert.False(t, h.audit.entries[0].OK)
	assert.Contains(t, h.audit.entries[0].Error, "kaboom")
}

func TestRunDispatchesUpdates(t *testing.T) {
	h := newHarness(t, nil)
	h.rep.ch = make(chan string, 4)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update)
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx, updates) }()

	updates <- update("1", "not a command")
	updates <- update("1", "/sw resolve 76561197960287930")

	select {
	case got := <-h.rep.ch:
		assert.Equal(t, "SteamID64: 76561197960287930\nAccount ID: 22202", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMissingReplierIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	u := update("1", "/sw add 76561197960287930")
	u.Platform = "discord"
	assert.True(t, h.d.Handle(context.Background(), u))
	assert.True(t, h.st.IsWatched(gabe))
	assert.Empty(t, h.rep.sent)
}

func TestSubInfoShowsLastDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "1", "/sw sub")
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)
	h.router.hist = []notifier.Delivery{
		{At: at.Add(-time.Hour), Audience: "telegram:GroupMessage:-100", OK: true},
		{At: at, Audience: "telegram:GroupMessage:-100", Error: "chat unavailable"},
		{At: at.Add(time.Hour), Audience: "telegram:GroupMessage:-200", OK: true},
	}
	assert.Equal(t, "Subscriptions for this chat:\n- global: subscribed\n- last delivery: 2024-05-01 08:30:00 (failed)", h.run(t, "1", "/sw subinfo"))
}

func TestQueryShowsTrackedSession(t *testing.T) {
	h := newHarness(t, nil)
	h.steam.found = true
	h.steam.player = steamapi.Player{PersonaName: "gaben", GameExtraInfo: "Dota 2"}
	h.engine.sessions = map[steamid.ID]watch.Session{
		gabe: {State: watch.Active, Label: "Dota 2", Start: time.Now().Add(-5*time.Minute - time.Second)},
	}
	assert.Equal(t, "gaben is now playing Dota 2!\nTracked session, 5 min.", h.run(t, "1", "/sw query 76561197960287930"))
}

func TestBindingsList(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "No bindings yet.", h.run(t, "1", "/sw bindings"))
	require.NoError(t, h.st.Bind(context.Background(), "7", gabe, "gaben"))
	require.NoError(t, h.st.Bind(context.Background(), "8", gabe+1, ""))
	assert.Equal(t, "Bindings:\n- gaben (7): 76561197960287930\n- 8: 76561197960287931", h.run(t, "1", "/sw bindings"))
}

func TestJobs(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "No maintenance jobs scheduled.", h.run(t, "1", "/sw jobs"))

	next := time.Date(2024, 5, 2, 4, 0, 0, 0, time.UTC)
	h.jobs.snap = scheduler.Snapshot{
		Timezone: "UTC",
		Schedules: []scheduler.ScheduleInfo{
			{Name: "subclean", Spec: "0 4 * * *", Next: next},
			{Name: "audit_prune", Spec: "@every 24h0m0s", Running: true},
		},
		History: []scheduler.HistoryItem{
			{Name: "subclean", Error: "boom"},
			{Name: "subclean"},
		},
	}
	assert.Equal(t, "Maintenance jobs (UTC):\n- subclean [0 4 * * *], next 2024-05-02 04:00, last ok\n- audit_prune [@every 24h0m0s], running",
		h.run(t, "1", "/sw jobs"))
}
