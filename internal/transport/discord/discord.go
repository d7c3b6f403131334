// Package discord is the Discord transport over a discordgo gateway session.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"steamwatch/internal/transport"
	"steamwatch/pkg/logx"
)

const (
	Platform  = "discord"
	textLimit = 2000
)

type Config struct {
	Token string
}

// session is the part of *discordgo.Session the adapter uses.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Adapter struct {
	log logx.Logger
	s   session

	out     atomic.Pointer[chan<- transport.Update]
	dropped atomic.Uint64

	mu      sync.Mutex
	running bool
	remove  func()
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log.With(logx.String("comp", "discord")), s: s}, nil
}

func (a *Adapter) Name() string { return Platform }

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(&out)
	a.remove = a.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.onMessage(m.Message)
	})
	if err := a.s.Open(); err != nil {
		a.remove()
		a.out.Store(nil)
		return err
	}
	a.running = true
	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) onMessage(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	kind := transport.KindGroup
	if m.GuildID == "" {
		kind = transport.KindFriend
	}
	up := transport.Update{
		Platform:   Platform,
		ChannelID:  m.ChannelID,
		Kind:       kind,
		MessageID:  m.ID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Text:       m.Content,
	}
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		if n := a.dropped.Add(1); n%50 == 1 {
			a.log.Warn("incoming messages dropped (channel full)", logx.Uint64("count", n))
		}
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.out.Store(nil)
	if a.remove != nil {
		a.remove()
		a.remove = nil
	}
	return a.s.Close()
}

func (a *Adapter) SendText(ctx context.Context, channelID string, text string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return errors.New("discord channel is empty")
	}
	for _, chunk := range transport.SplitText(text, textLimit) {
		if _, err := a.s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}
