package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"steamwatch/internal/notifier"
	"steamwatch/internal/steamapi"
	"steamwatch/internal/task/scheduler"
	"steamwatch/internal/watch"
)

type playerView struct {
	name    string
	playing bool
	game    string
	player  steamapi.Player
}

func (v *playerView) presence() string {
	if v.playing {
		return v.name + " is now playing " + gameOr(v.game) + "!"
	}
	return v.name + " is not in a game right now."
}

func gameOr(label string) string {
	if label == "" {
		return "a game"
	}
	return label
}

// sessionAge renders ", N min" for a session with a known start.
func sessionAge(s watch.Session) string {
	if s.Start.IsZero() {
		return ""
	}
	return fmt.Sprintf(", %d min", int(time.Since(s.Start).Minutes()))
}

func deliveryOutcome(d notifier.Delivery) string {
	switch {
	case d.Deduped:
		return "deduped"
	case d.OK:
		return "ok"
	default:
		return "failed"
	}
}

func jobOutcome(h scheduler.HistoryItem) string {
	switch {
	case h.Skipped:
		return "skipped"
	case h.Error != "":
		return "failed"
	default:
		return "ok"
	}
}

func personaState(state int) string { return steamapi.PersonaStateText(state) }

func formatUnix(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

// errClass names an error kind for replies without exposing its text.
func errClass(err error) string {
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &nerr) && nerr.Timeout():
		return "timeout"
	case errors.As(err, new(*net.OpError)):
		return "network error"
	case errors.Is(err, steamapi.ErrBadResponse):
		return "bad response"
	default:
		return "error"
	}
}
