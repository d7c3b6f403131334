// Package command implements the platform-neutral /sw command surface.
package command

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/notifier"
	"steamwatch/internal/resolve"
	rtsup "steamwatch/internal/runtime/supervisor"
	"steamwatch/internal/state"
	"steamwatch/internal/steamapi"
	"steamwatch/internal/steamid"
	"steamwatch/internal/storage"
	"steamwatch/internal/task/scheduler"
	"steamwatch/internal/transport"
	"steamwatch/internal/watch"
	"steamwatch/pkg/logx"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultQueueSize = 256
)

// Steam is the part of the Steam client interactive commands use.
type Steam interface {
	HasKey() bool
	ProxyURL() string
	Summary(ctx context.Context, id steamid.ID) (steamapi.Player, bool, error)
	Playtime(ctx context.Context, id steamid.ID, appID int) (int, bool, error)
	Achievements(ctx context.Context, id steamid.ID, appID int) (achieved, total int, ok bool, err error)
	Probe(ctx context.Context, target string) (int, error)
	PublicIP(ctx context.Context, direct bool) (string, error)
}

type Resolver interface {
	Resolve(ctx context.Context, input string, req resolve.Requester) (steamid.ID, error)
}

// Engine is the poll engine's session table.
type Engine interface {
	Forget(id steamid.ID)
	Snapshot() map[steamid.ID]watch.Session
}

type Router interface {
	Route(ctx context.Context, id steamid.ID, text string)
	Normalizer() notifier.Normalizer
	History() []notifier.Delivery
}

// Jobs lists the maintenance schedules.
type Jobs interface {
	Snapshot() scheduler.Snapshot
}

// Replier sends a reply into the chat a command came from.
type Replier interface {
	SendText(ctx context.Context, channelID, text string) error
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	State    *state.Service
	Resolver Resolver
	Steam    Steam
	Engine   Engine
	Router   Router
	Audit    AuditLog // optional
	Jobs     Jobs     // optional
	Config   func() *config.Config
	Log      logx.Logger
}

type Options struct {
	Workers   int           // 0 = NumCPU, at least 2
	QueueSize int           // pending commands before new ones are dropped
	Timeout   time.Duration // per command
}

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Admin       bool
	Audit       bool // record the outcome in the audit log
	Handle      HandlerFunc
}

type Request struct {
	Update  transport.Update
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Config  *config.Config

	reply func(ctx context.Context, text string) error
}

// Reply answers in the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.reply == nil {
		return nil
	}
	return r.reply(ctx, text)
}

// Arg returns the i-th argument or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

type Dispatcher struct {
	deps    Deps
	opts    Options
	log     logx.Logger
	metrics *metrics

	mu    sync.RWMutex
	cmds  []Command
	index map[string]*Command

	repMu    sync.RWMutex
	repliers map[string]Replier

	jobs chan func()
}

func New(deps Deps, opts Options) *Dispatcher {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Config == nil {
		empty := &config.Config{}
		deps.Config = func() *config.Config { return empty }
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = max(2, runtime.NumCPU())
	}
	d := &Dispatcher{
		deps:     deps,
		opts:     opts,
		log:      deps.Log.With(logx.String("comp", "command")),
		metrics:  newMetrics(),
		repliers: map[string]Replier{},
		jobs:     make(chan func(), opts.QueueSize),
	}
	d.SetRegistry(d.builtins())
	return d
}

// SetRegistry replaces the command table. Names and aliases are matched
// case-insensitively; the first registration of a word wins.
func (d *Dispatcher) SetRegistry(cmds []Command) {
	index := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if strings.TrimSpace(c.Name) == "" || c.Handle == nil {
			continue
		}
		list = append(list, c)
	}
	for i := range list {
		c := &list[i]
		for _, w := range append([]string{c.Name}, c.Aliases...) {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, exists := index[w]; !exists {
				index[w] = c
			}
		}
	}
	d.mu.Lock()
	d.cmds = list
	d.index = index
	d.mu.Unlock()
}

// Commands returns the registered commands sorted by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	out := append([]Command(nil), d.cmds...)
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Dispatcher) lookup(word string) (Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.index[strings.ToLower(word)]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// MenuCommands is the entry platforms with a command menu advertise.
func (d *Dispatcher) MenuCommands() []transport.BotCommand {
	return []transport.BotCommand{{Command: Prefix, Description: "Steam watch commands (/sw menu)"}}
}

// SetReplier installs the reply path for a platform.
func (d *Dispatcher) SetReplier(platform string, r Replier) {
	d.repMu.Lock()
	defer d.repMu.Unlock()
	if r == nil {
		delete(d.repliers, platform)
		return
	}
	d.repliers[platform] = r
}

func (d *Dispatcher) replier(platform string) Replier {
	d.repMu.RLock()
	defer d.repMu.RUnlock()
	return d.repliers[platform]
}

// Handle runs one update synchronously. It returns false when the text is
// not a /sw command.
func (d *Dispatcher) Handle(ctx context.Context, u transport.Update) bool {
	sub, args, ok := Parse(u.Text)
	if !ok {
		return false
	}
	d.exec(ctx, u, sub, args)
	return true
}

// Run feeds updates to a bounded worker pool until ctx is done or updates
// is closed.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	d.log.Info("command dispatcher started", logx.Int("workers", d.opts.Workers), logx.Int("job_queue_cap", cap(d.jobs)))

	for i := 0; i < d.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-d.jobs:
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								d.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			sub, args, isCmd := Parse(u.Text)
			if !isCmd {
				continue
			}
			job := func() { d.exec(sup.Context(), u, sub, args) }
			select {
			case d.jobs <- job:
			default:
				d.metrics.rejected.WithLabelValues("busy").Inc()
				d.log.Warn("command queue full, dropping", logx.String("platform", u.Platform), logx.String("from", u.SenderID), logx.String("cmd", sub))
			}
		}
	}
}

func (d *Dispatcher) exec(ctx context.Context, u transport.Update, sub string, args []string) {
	if sub == "" {
		sub = "menu"
	}
	rid := newReqID()
	reqLog := d.log.With(
		logx.String("rid", rid),
		logx.String("platform", u.Platform),
		logx.String("channel", u.ChannelID),
		logx.String("from", u.SenderID),
		logx.String("cmd", sub),
	)
	req := &Request{
		Update:  u,
		Command: sub,
		Args:    args,
		ReqID:   rid,
		Logger:  reqLog,
		Config:  d.deps.Config(),
	}
	req.reply = func(ctx context.Context, text string) error {
		r := d.replier(u.Platform)
		if r == nil {
			return ErrNoReplier
		}
		return r.SendText(ctx, u.ChannelID, text)
	}

	cmd, ok := d.lookup(sub)
	if !ok {
		d.metrics.rejected.WithLabelValues("unknown").Inc()
		_ = req.Reply(ctx, "Unknown subcommand. Send /sw menu for the command list.")
		return
	}
	req.Command = cmd.Name

	if cmd.Admin && !req.Config.IsAdmin(u.SenderID) {
		d.metrics.rejected.WithLabelValues("denied").Inc()
		reqLog.Warn("admin command denied")
		_ = req.Reply(ctx, resolve.Message(resolve.ErrPermissionDenied))
		return
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(reqLog),
		MWRequestLog(reqLog),
		MWMetrics(d.metrics),
		MWTimeout(d.opts.Timeout),
	)
	start := time.Now()
	err := final(ctx, req)
	if cmd.Audit {
		d.audit(ctx, req, err, time.Since(start))
	}
}

func (d *Dispatcher) audit(ctx context.Context, req *Request, err error, took time.Duration) {
	if d.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		Actor:    req.Update.SenderID,
		Platform: req.Update.Platform,
		Channel:  req.Update.ChannelID,
		Action:   req.Command,
		Target:   strings.Join(req.Args, " "),
		OK:       err == nil,
		TookMS:   took.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if aerr := d.deps.Audit.AppendAudit(actx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}

var ErrNoReplier = errors.New("no replier for platform")
