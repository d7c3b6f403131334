package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/notifier"
	"steamwatch/internal/resolve"
	"steamwatch/internal/state"
	"steamwatch/internal/steamid"
	"steamwatch/internal/task/scheduler"
	"steamwatch/internal/watch"
	"steamwatch/pkg/logx"
)

const (
	minIntervalSec = 30

	communityURL = "https://steamcommunity.com"
	webAPIURL    = "https://api.steampowered.com/ISteamWebAPIUtil/GetSupportedAPIList/v1/"

	targetUsage = "<steamid64|profile_url|vanity|friend_code|me|@user>"
)

func (d *Dispatcher) builtins() []Command {
	return []Command{
		{Name: "menu", Aliases: []string{"help"}, Description: "show this menu", Handle: d.cmdMenu},
		{Name: "add", Usage: "add " + targetUsage + " [group]", Description: "watch an account", Admin: true, Audit: true, Handle: d.cmdAdd},
		{Name: "remove", Aliases: []string{"rm", "del"}, Usage: "remove " + targetUsage, Description: "stop watching an account", Admin: true, Audit: true, Handle: d.cmdRemove},
		{Name: "list", Aliases: []string{"ls"}, Description: "list watched accounts", Admin: true, Handle: d.cmdList},
		{Name: "interval", Aliases: []string{"int"}, Usage: "interval <seconds>", Description: "set the poll interval", Admin: true, Audit: true, Handle: d.cmdInterval},
		{Name: "sub", Aliases: []string{"subscribe"}, Usage: "sub [group]", Description: "subscribe this chat", Admin: true, Audit: true, Handle: d.cmdSub},
		{Name: "unsub", Aliases: []string{"unsubscribe"}, Usage: "unsub [group]", Description: "unsubscribe this chat", Admin: true, Audit: true, Handle: d.cmdUnsub},
		{Name: "subinfo", Aliases: []string{"sub_info"}, Description: "show this chat's subscriptions", Admin: true, Handle: d.cmdSubInfo},
		{Name: "groupinfo", Aliases: []string{"group_info"}, Usage: "groupinfo [group]", Description: "show group subscriptions", Admin: true, Handle: d.cmdGroupInfo},
		{Name: "subclean", Aliases: []string{"sub_clean"}, Description: "normalize stored subscriptions", Admin: true, Audit: true, Handle: d.cmdSubClean},
		{Name: "resolve", Usage: "resolve " + targetUsage, Description: "resolve an identifier", Handle: d.cmdResolve},
		{Name: "query", Aliases: []string{"q"}, Usage: "query " + targetUsage, Description: "show current presence", Handle: d.cmdQuery},
		{Name: "info", Aliases: []string{"i"}, Usage: "info " + targetUsage, Description: "show profile details", Handle: d.cmdInfo},
		{Name: "status", Usage: "status " + targetUsage, Description: "push current presence to subscribers", Handle: d.cmdStatus},
		{Name: "test", Description: "check Steam connectivity", Handle: d.cmdTest},
		{Name: "proxytest", Aliases: []string{"proxy"}, Description: "compare direct and proxied IP", Handle: d.cmdProxyTest},
		{Name: "bind", Usage: "bind " + targetUsage, Description: "bind your Steam account", Audit: true, Handle: d.cmdBind},
		{Name: "unbind", Usage: "unbind [user]", Description: "remove a binding", Audit: true, Handle: d.cmdUnbind},
		{Name: "me", Description: "show your binding", Handle: d.cmdMe},
		{Name: "bindings", Description: "list all bindings", Admin: true, Handle: d.cmdBindings},
		{Name: "jobs", Description: "show maintenance jobs", Admin: true, Handle: d.cmdJobs},
	}
}

func (d *Dispatcher) cmdMenu(ctx context.Context, req *Request) error {
	lines := []string{
		"SteamWatch",
		"Usage: /sw <subcommand>",
		"",
		"Manage: /sw add|remove|list|interval",
		"Notify: /sw sub|unsub [group] | subinfo | groupinfo | subclean",
		"Query: /sw query|status|info|resolve",
		"Network: /sw test|proxytest",
		"Binding: /sw bind|unbind|me|bindings",
		"Maintenance: /sw jobs",
		"",
	}
	for _, c := range d.Commands() {
		usage := c.Usage
		if usage == "" {
			usage = c.Name
		}
		line := "/sw " + usage + " - " + c.Description
		if c.Admin {
			line += " (admin)"
		}
		lines = append(lines, line)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

// target resolves the first argument, or a mention in the raw message when
// no argument is given. It replies on failure and returns ok=false.
func (d *Dispatcher) target(ctx context.Context, req *Request, usage string) (steamid.ID, bool) {
	input := req.Arg(0)
	if input == "" {
		if _, found := resolve.MentionedUser(req.Update.Text); !found {
			_ = req.Reply(ctx, "Usage: /sw "+usage)
			return 0, false
		}
	}
	id, err := d.deps.Resolver.Resolve(ctx, input, req.Update)
	if err != nil {
		req.Logger.Debug("resolve failed", logx.Err(err))
		_ = req.Reply(ctx, resolve.Message(err))
		return 0, false
	}
	return id, true
}

// saveFailed reports a persistence error without leaking its details.
func saveFailed(ctx context.Context, req *Request, err error) error {
	_ = req.Reply(ctx, "Could not save the change. Try again later.")
	return err
}

func (d *Dispatcher) cmdAdd(ctx context.Context, req *Request) error {
	id, ok := d.target(ctx, req, "add "+targetUsage+" [group]")
	if !ok {
		return nil
	}
	group := strings.TrimSpace(req.Arg(1))
	added, err := d.deps.State.AddWatch(ctx, id, group)
	if err != nil {
		return saveFailed(ctx, req, err)
	}
	if !added {
		if group == "" || d.deps.State.GroupOf(id) == group {
			return req.Reply(ctx, fmt.Sprintf("%s is already watched.", id))
		}
		if err := d.deps.State.SetGroup(ctx, id, group); err != nil {
			return saveFailed(ctx, req, err)
		}
		return req.Reply(ctx, fmt.Sprintf("%s is already watched. Group set to %s.", id, group))
	}
	if group != "" {
		return req.Reply(ctx, fmt.Sprintf("Added %s to the watch list. Group: %s", id, group))
	}
	return req.Reply(ctx, fmt.Sprintf("Added %s to the watch list.", id))
}

func (d *Dispatcher) cmdRemove(ctx context.Context, req *Request) error {
	id, ok := d.target(ctx, req, "remove "+targetUsage)
	if !ok {
		return nil
	}
	removed, err := d.deps.State.RemoveWatch(ctx, id)
	if err != nil {
		return saveFailed(ctx, req, err)
	}
	if !removed {
		return req.Reply(ctx, fmt.Sprintf("%s is not in the watch list.", id))
	}
	if d.deps.Engine != nil {
		d.deps.Engine.Forget(id)
	}
	return req.Reply(ctx, fmt.Sprintf("Removed %s from the watch list.", id))
}

func (d *Dispatcher) cmdList(ctx context.Context, req *Request) error {
	entries := d.deps.State.Watched()
	if len(entries) == 0 {
		return req.Reply(ctx, "The watch list is empty.")
	}
	var sessions map[steamid.ID]watch.Session
	if d.deps.Engine != nil {
		sessions = d.deps.Engine.Snapshot()
	}
	lines := []string{"Watch list:"}
	for _, e := range entries {
		var notes []string
		if users := d.deps.State.UsersOf(e.ID); len(users) > 0 {
			// first bound user only
			u := users[0]
			if name := strings.TrimSpace(u.Name); name != "" {
				notes = append(notes, fmt.Sprintf("%s (%s)", name, u.User))
			} else {
				notes = append(notes, "user "+u.User)
			}
		}
		if e.Group != "" {
			notes = append(notes, "group: "+e.Group)
		}
		if s, ok := sessions[e.ID]; ok && s.State == watch.Active {
			notes = append(notes, "playing "+gameOr(s.Label)+sessionAge(s))
		}
		if len(notes) == 0 {
			lines = append(lines, "- "+e.ID.String())
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s)", e.ID, strings.Join(notes, ", ")))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (d *Dispatcher) cmdInterval(ctx context.Context, req *Request) error {
	raw := req.Arg(0)
	if !steamid.IsDigits(raw) {
		return req.Reply(ctx, "Usage: /sw interval <seconds>")
	}
	sec, err := strconv.Atoi(raw)
	if err != nil || sec < minIntervalSec {
		return req.Reply(ctx, fmt.Sprintf("Poll interval must be at least %d seconds.", minIntervalSec))
	}
	value := (time.Duration(sec) * time.Second).String()
	if err := d.deps.State.SetSetting(ctx, state.SettingPollInterval, value); err != nil {
		return saveFailed(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("Poll interval set to %d seconds.", sec))
}

// groupArg returns the group argument when group routing is enabled.
func groupArg(req *Request) string {
	if !req.Config.Notify.GroupEnabled {
		return ""
	}
	return strings.TrimSpace(req.Arg(0))
}

func (d *Dispatcher) cmdSub(ctx context.Context, req *Request) error {
	aud := req.Update.Audience()
	if group := groupArg(req); group != "" {
		_, changed, err := d.deps.State.SubscribeGroup(ctx, group, aud)
		if err != nil {
			return d.subFailed(ctx, req, err)
		}
		if !changed {
			return req.Reply(ctx, "This chat is already subscribed to group "+group+".")
		}
		return req.Reply(ctx, "Subscribed this chat to group "+group+".")
	}
	_, changed, err := d.deps.State.Subscribe(ctx, aud)
	if err != nil {
		return d.subFailed(ctx, req, err)
	}
	if !changed {
		return req.Reply(ctx, "This chat is already subscribed.")
	}
	return req.Reply(ctx, "Subscribed this chat to notifications.")
}

func (d *Dispatcher) cmdUnsub(ctx context.Context, req *Request) error {
	aud := req.Update.Audience()
	if group := groupArg(req); group != "" {
		_, changed, err := d.deps.State.UnsubscribeGroup(ctx, group, aud)
		if err != nil {
			return d.subFailed(ctx, req, err)
		}
		if !changed {
			return req.Reply(ctx, "This chat is not subscribed to group "+group+".")
		}
		return req.Reply(ctx, "Unsubscribed this chat from group "+group+".")
	}
	_, changed, err := d.deps.State.Unsubscribe(ctx, aud)
	if err != nil {
		return d.subFailed(ctx, req, err)
	}
	if !changed {
		return req.Reply(ctx, "This chat is not subscribed.")
	}
	return req.Reply(ctx, "Unsubscribed this chat from notifications.")
}

func (d *Dispatcher) subFailed(ctx context.Context, req *Request, err error) error {
	switch {
	case errors.Is(err, state.ErrInvalidAudience):
		return req.Reply(ctx, "This chat cannot be used as a notification target.")
	case errors.Is(err, state.ErrInvalidGroup):
		return req.Reply(ctx, "Invalid group name.")
	}
	return saveFailed(ctx, req, err)
}

func (d *Dispatcher) cmdSubInfo(ctx context.Context, req *Request) error {
	_, global, groups := d.deps.State.SubscriptionsOf(req.Update.Audience())
	lines := []string{"Subscriptions for this chat:"}
	if req.Config.Notify.GroupEnabled {
		if len(groups) > 0 {
			lines = append(lines, "- groups: "+strings.Join(groups, ", "))
		} else {
			lines = append(lines, "- groups: none")
		}
	}
	if global {
		lines = append(lines, "- global: subscribed")
	} else {
		lines = append(lines, "- global: not subscribed")
	}
	if last, ok := d.lastDelivery(req.Update.Audience()); ok {
		lines = append(lines, "- last delivery: "+last.At.Format("2006-01-02 15:04:05")+" ("+deliveryOutcome(last)+")")
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

// lastDelivery finds the most recent notification sent to aud.
func (d *Dispatcher) lastDelivery(aud string) (notifier.Delivery, bool) {
	target, ok := d.deps.Router.Normalizer().NormalizeString(aud)
	if !ok {
		return notifier.Delivery{}, false
	}
	hist := d.deps.Router.History()
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Audience == target {
			return hist[i], true
		}
	}
	return notifier.Delivery{}, false
}

func (d *Dispatcher) cmdGroupInfo(ctx context.Context, req *Request) error {
	if !req.Config.Notify.GroupEnabled {
		return req.Reply(ctx, "Group routing is disabled. Set notify.group_enabled first.")
	}
	if name := strings.TrimSpace(req.Arg(0)); name != "" {
		auds := d.deps.State.GroupAudiences(name)
		if len(auds) == 0 {
			return req.Reply(ctx, "That group has no subscribed chats.")
		}
		lines := []string{"Group " + name + ":"}
		for _, a := range auds {
			lines = append(lines, "- "+a)
		}
		return req.Reply(ctx, strings.Join(lines, "\n"))
	}
	groups := d.deps.State.Groups()
	if len(groups) == 0 {
		return req.Reply(ctx, "No group subscriptions yet.")
	}
	lines := []string{"Group subscriptions:"}
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("- %s (%d chats)", g, len(d.deps.State.GroupAudiences(g))))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (d *Dispatcher) cmdSubClean(ctx context.Context, req *Request) error {
	before, after, err := d.deps.State.NormalizeAudiences(ctx, d.deps.Router.Normalizer())
	if err != nil {
		return saveFailed(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("Subscription cleanup done:\n- global: %d -> %d\n- groups: %d -> %d",
		before.Global, after.Global, before.Groups, after.Groups))
}

// codes renders the identity lines shared by resolve, bind and me.
func codes(cfg *config.Config, id steamid.ID) string {
	s := fmt.Sprintf("account ID %d (SteamID64: %s)", id.AccountID(), id)
	if cfg.Watch.ShowFriendCode {
		if code, err := steamid.EncodeFriendCode(id); err == nil {
			s += ", friend code " + code
		}
	}
	return s
}

func (d *Dispatcher) cmdResolve(ctx context.Context, req *Request) error {
	id, ok := d.target(ctx, req, "resolve "+targetUsage)
	if !ok {
		return nil
	}
	lines := []string{
		"SteamID64: " + id.String(),
		"Account ID: " + strconv.FormatUint(uint64(id.AccountID()), 10),
	}
	if req.Config.Watch.ShowFriendCode {
		if code, err := steamid.EncodeFriendCode(id); err == nil {
			lines = append(lines, "Friend code: "+code)
		}
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

// summary resolves the target and fetches its player summary, replying on
// any failure.
func (d *Dispatcher) summary(ctx context.Context, req *Request, usage string) (steamid.ID, *playerView, bool) {
	id, ok := d.target(ctx, req, usage)
	if !ok {
		return 0, nil, false
	}
	if !d.deps.Steam.HasKey() {
		_ = req.Reply(ctx, resolve.Message(resolve.ErrNoAPIKey))
		return 0, nil, false
	}
	p, found, err := d.deps.Steam.Summary(ctx, id)
	if err != nil {
		req.Logger.Warn("summary fetch failed", logx.Err(err))
		_ = req.Reply(ctx, resolve.Message(err))
		return 0, nil, false
	}
	if !found {
		_ = req.Reply(ctx, "No data returned for that SteamID.")
		return 0, nil, false
	}
	playing, game := p.Playing()
	return id, &playerView{
		name:    p.Name(id.String()),
		playing: playing,
		game:    game,
		player:  p,
	}, true
}

func (d *Dispatcher) cmdQuery(ctx context.Context, req *Request) error {
	id, v, ok := d.summary(ctx, req, "query "+targetUsage)
	if !ok {
		return nil
	}
	out := v.presence()
	if d.deps.Engine != nil {
		if s, tracked := d.deps.Engine.Snapshot()[id]; tracked && s.State == watch.Active && !s.Start.IsZero() {
			out += "\nTracked session" + sessionAge(s) + "."
		}
	}
	return req.Reply(ctx, out)
}

func (d *Dispatcher) cmdStatus(ctx context.Context, req *Request) error {
	id, v, ok := d.summary(ctx, req, "status "+targetUsage)
	if !ok {
		return nil
	}
	d.deps.Router.Route(ctx, id, v.presence())
	return req.Reply(ctx, "Pushed the current status to subscribers.")
}

func (d *Dispatcher) cmdInfo(ctx context.Context, req *Request) error {
	id, v, ok := d.summary(ctx, req, "info "+targetUsage)
	if !ok {
		return nil
	}
	p := v.player
	lines := []string{"Name: " + v.name}
	if code, err := steamid.EncodeFriendCode(id); err == nil {
		lines = append(lines, "Friend code: "+code)
	}
	lines = append(lines, "SteamID64: "+id.String())
	if st := personaState(p.PersonaState); st != "" {
		lines = append(lines, "State: "+st)
	}
	if p.RealName != "" {
		lines = append(lines, "Real name: "+p.RealName)
	}
	if p.ProfileURL != "" {
		lines = append(lines, "Profile: "+p.ProfileURL)
	}
	if ts := formatUnix(p.LastLogoff); ts != "" {
		lines = append(lines, "Last logoff: "+ts)
	}
	if ts := formatUnix(p.TimeCreated); ts != "" {
		lines = append(lines, "Created: "+ts)
	}
	var loc []string
	for _, part := range []string{p.LocCountryCode, p.LocStateCode} {
		if part != "" {
			loc = append(loc, part)
		}
	}
	if p.LocCityID != 0 {
		loc = append(loc, strconv.Itoa(p.LocCityID))
	}
	if len(loc) > 0 {
		lines = append(lines, "Location: "+strings.Join(loc, "-"))
	}
	if v.playing {
		lines = append(lines, fmt.Sprintf("Playing: %s (appid: %s)", gameOr(v.game), p.GameID))
	} else {
		lines = append(lines, "Not in a game right now.")
	}

	if appID, err := strconv.Atoi(p.GameID); err == nil && appID > 0 {
		if hours, ok, err := d.deps.Steam.Playtime(ctx, id, appID); err == nil && ok {
			lines = append(lines, fmt.Sprintf("Total playtime: %d h", hours))
		} else if err != nil {
			req.Logger.Debug("playtime fetch failed", logx.Err(err))
		}
		if got, total, ok, err := d.deps.Steam.Achievements(ctx, id, appID); err == nil && ok {
			lines = append(lines, fmt.Sprintf("Achievements: %d/%d", got, total))
		} else if err != nil {
			req.Logger.Debug("achievements fetch failed", logx.Err(err))
		}
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (d *Dispatcher) cmdTest(ctx context.Context, req *Request) error {
	results := []string{
		probeLine(ctx, d.deps.Steam, "steamcommunity.com", communityURL),
		probeLine(ctx, d.deps.Steam, "api.steampowered.com", webAPIURL),
	}
	proxy := d.deps.Steam.ProxyURL()
	if proxy == "" {
		proxy = "not configured"
	}
	results = append(results, "proxy: "+proxy)
	return req.Reply(ctx, "Connectivity test:\n"+strings.Join(results, "\n"))
}

func probeLine(ctx context.Context, s Steam, label, target string) string {
	code, err := s.Probe(ctx, target)
	if err != nil {
		return label + ": failed (" + errClass(err) + ")"
	}
	return label + ": " + strconv.Itoa(code)
}

func (d *Dispatcher) cmdProxyTest(ctx context.Context, req *Request) error {
	proxy := d.deps.Steam.ProxyURL()
	if proxy == "" {
		return req.Reply(ctx, "No proxy configured (steam.proxy_url).")
	}
	lines := make([]string, 0, 3)
	for _, c := range []struct {
		label  string
		direct bool
	}{{"direct IP", true}, {"proxied IP", false}} {
		ip, err := d.deps.Steam.PublicIP(ctx, c.direct)
		if err != nil {
			lines = append(lines, c.label+": failed ("+errClass(err)+")")
			continue
		}
		lines = append(lines, c.label+": "+ip)
	}
	lines = append(lines, "proxy: "+proxy)
	return req.Reply(ctx, "Proxy test:\n"+strings.Join(lines, "\n"))
}

func (d *Dispatcher) cmdBind(ctx context.Context, req *Request) error {
	if req.Arg(0) == "" {
		return req.Reply(ctx, "Usage: /sw bind <steamid64|profile_url|vanity|friend_code>")
	}
	id, ok := d.target(ctx, req, "bind")
	if !ok {
		return nil
	}
	user := req.Update.SenderID
	err := d.deps.State.Bind(ctx, user, id, req.Update.SenderName)
	switch {
	case errors.Is(err, state.ErrAlreadyBound):
		return req.Reply(ctx, "You already have a binding. Use /sw unbind first.")
	case errors.Is(err, state.ErrIdentityTaken):
		return req.Reply(ctx, "That SteamID is bound to another user.")
	case err != nil:
		return saveFailed(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("Bound %s to %s.", user, codes(req.Config, id)))
}

func (d *Dispatcher) cmdUnbind(ctx context.Context, req *Request) error {
	user := req.Update.SenderID
	if arg := strings.TrimSpace(req.Arg(0)); arg != "" {
		if !req.Config.IsAdmin(req.Update.SenderID) {
			return req.Reply(ctx, resolve.Message(resolve.ErrPermissionDenied))
		}
		user = arg
		if m, ok := resolve.MentionedUser(arg); ok {
			user = m
		}
	}
	if _, err := d.deps.State.Unbind(ctx, user); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return req.Reply(ctx, "No binding found.")
		}
		return saveFailed(ctx, req, err)
	}
	return req.Reply(ctx, "Binding removed.")
}

func (d *Dispatcher) cmdMe(ctx context.Context, req *Request) error {
	id, ok := d.deps.State.Binding(req.Update.SenderID)
	if !ok {
		return req.Reply(ctx, resolve.Message(resolve.ErrNotBound))
	}
	return req.Reply(ctx, "Current binding: "+codes(req.Config, id)+".")
}

func (d *Dispatcher) cmdBindings(ctx context.Context, req *Request) error {
	all := d.deps.State.Bindings()
	if len(all) == 0 {
		return req.Reply(ctx, "No bindings yet.")
	}
	lines := []string{"Bindings:"}
	for _, b := range all {
		who := b.User
		if name := strings.TrimSpace(b.Name); name != "" {
			who = fmt.Sprintf("%s (%s)", name, b.User)
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", who, b.ID))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (d *Dispatcher) cmdJobs(ctx context.Context, req *Request) error {
	if d.deps.Jobs == nil {
		return req.Reply(ctx, "No maintenance jobs scheduled.")
	}
	snap := d.deps.Jobs.Snapshot()
	if len(snap.Schedules) == 0 {
		return req.Reply(ctx, "No maintenance jobs scheduled.")
	}
	last := map[string]scheduler.HistoryItem{}
	for _, h := range snap.History {
		last[h.Name] = h
	}
	lines := []string{"Maintenance jobs (" + snap.Timezone + "):"}
	for _, j := range snap.Schedules {
		line := fmt.Sprintf("- %s [%s]", j.Name, j.Spec)
		if !j.Next.IsZero() {
			line += ", next " + j.Next.Format("2006-01-02 15:04")
		}
		if h, ok := last[j.Name]; ok {
			line += ", last " + jobOutcome(h)
		}
		if j.Running {
			line += ", running"
		}
		lines = append(lines, line)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}
