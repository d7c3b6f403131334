package watch

import (
	"fmt"
	"time"

	"steamwatch/internal/steamid"
)

type State int

const (
	Unseen State = iota
	Idle
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "unseen"
	}
}

// Session is the per-identity record kept between cycles.
type Session struct {
	State    State     `json:"state"`
	Label    string    `json:"label,omitempty"`
	Persona  string    `json:"persona,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Observation is one fetched presence.
type Observation struct {
	Active  bool
	Label   string
	Persona string
}

type EventKind int

const (
	Started EventKind = iota + 1
	Stopped
)

func (k EventKind) String() string {
	if k == Started {
		return "started"
	}
	return "stopped"
}

type Event struct {
	Kind    EventKind  `json:"kind"`
	ID      steamid.ID `json:"steamid"`
	Persona string     `json:"persona"`
	Label   string     `json:"label,omitempty"`
	Minutes int        `json:"minutes,omitempty"`
	Comment string     `json:"comment,omitempty"`
	At      time.Time  `json:"at"`
}

// Text renders the chat message for the event.
func (e Event) Text() string {
	game := e.Label
	if game == "" {
		game = "a game"
	}
	if e.Kind == Started {
		return fmt.Sprintf("%s is now playing %s!", e.Persona, game)
	}
	return fmt.Sprintf("%s stopped playing %s. Session: %d min. Verdict: %s", e.Persona, game, e.Minutes, e.Comment)
}

// step applies one observation. It returns the next session and the event
// to emit, if any.
func step(id steamid.ID, prev Session, obs Observation, now time.Time, notifyOnStop bool) (Session, *Event) {
	next := prev
	next.Label = obs.Label
	next.Persona = obs.Persona
	next.LastSeen = now

	state := Idle
	if obs.Active {
		state = Active
	}
	next.State = state

	switch {
	case prev.State == Unseen:
		next.Start = time.Time{}
		if state == Active {
			next.Start = now
		}
		return next, nil

	case prev.State == Idle && state == Active:
		next.Start = now
		return next, &Event{Kind: Started, ID: id, Persona: obs.Persona, Label: obs.Label, At: now}

	case prev.State == Active && state == Idle:
		minutes := 0
		if !prev.Start.IsZero() {
			minutes = int(now.Sub(prev.Start) / time.Minute)
			if minutes < 1 {
				minutes = 1
			}
		}
		next.Start = time.Time{}
		if !notifyOnStop {
			return next, nil
		}
		return next, &Event{
			Kind:    Stopped,
			ID:      id,
			Persona: obs.Persona,
			Label:   prev.Label,
			Minutes: minutes,
			Comment: Verdict(minutes),
			At:      now,
		}
	}
	return next, nil
}

// Verdict comments on a session length in minutes.
func Verdict(minutes int) string {
	switch {
	case minutes <= 5:
		return "Giving up already?"
	case minutes <= 15:
		return "That's it? Want me to get you a timer?"
	case minutes <= 30:
		return "Barely a pass. Hang in there longer next time."
	case minutes <= 60:
		return "Not bad, still room to grow."
	case minutes <= 120:
		return "Solid session, keep it up."
	default:
		return "Big session today. Respect."
	}
}
