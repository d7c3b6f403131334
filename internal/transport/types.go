// Package transport abstracts the chat platforms steamwatch talks to.
package transport

import (
	"context"
	"strings"
)

const (
	KindGroup  = "GroupMessage"
	KindFriend = "FriendMessage"
)

// Update is one inbound chat message.
type Update struct {
	Platform   string
	ChannelID  string
	Kind       string // KindGroup or KindFriend
	MessageID  string
	SenderID   string
	SenderName string
	Text       string
}

func (u Update) RequesterID() string { return u.SenderID }
func (u Update) RawText() string     { return u.Text }
func (u Update) DisplayName() string { return u.SenderName }

// Audience is the "platform:kind:channel" address of the chat the update
// came from.
func (u Update) Audience() string {
	kind := u.Kind
	if kind == "" {
		kind = KindGroup
	}
	return u.Platform + ":" + kind + ":" + u.ChannelID
}

type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, channelID string, text string) error
}

// BotCommand is one entry of a platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters whose platform shows a
// command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// SplitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that leave chunks at least a third full.
func SplitText(s string, limit int) []string {
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
