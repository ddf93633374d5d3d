package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Script is the in-memory form of a dialogue script.
// Locations keep their authored order; the first one is where new users start.
type Script struct {
	Locations []Location `json:"locations"`
}

// Location returns the location with the given tag.
func (s *Script) Location(tag string) (Location, bool) {
	for _, loc := range s.Locations {
		if loc.Tag == tag {
			return loc, true
		}
	}
	return Location{}, false
}

// Location is a named unit of the script: narration shown on arrival plus
// the keywords a user can answer with.
type Location struct {
	Tag     string   `json:"tag"`
	Enter   []Effect `json:"enter"`
	Actions []Action `json:"actions"`
}

// Action returns the action bound to the given keyword.
func (l Location) Action(tag string) (Action, bool) {
	for _, a := range l.Actions {
		if a.Tag == tag {
			return a, true
		}
	}
	return Action{}, false
}

// Action binds a keyword to the chain of effects it triggers.
type Action struct {
	Tag     string   `json:"tag"`
	Effects []Effect `json:"effects"`
}

// Effect is either Say or Go.
type Effect interface {
	EffectDelay() Delay
	effect()
}

// Say emits one line of text to the user.
type Say struct {
	Text  string `json:"say"`
	Delay Delay  `json:"delay,omitempty"`
}

// Go moves the user to another location.
type Go struct {
	Target string `json:"goto"`
	Delay  Delay  `json:"delay,omitempty"`
}

func (s Say) EffectDelay() Delay { return s.Delay }
func (g Go) EffectDelay() Delay  { return g.Delay }

func (Say) effect() {}
func (Go) effect()  {}

// Delay is an authored wait such as "30s", "5m" or "1h".
// The zero value means no delay.
type Delay string

// IsZero reports whether no delay was authored.
func (d Delay) IsZero() bool {
	return strings.TrimSpace(string(d)) == ""
}

// Duration parses the delay.
// Returns ErrInvalidDelaySpec when the magnitude or unit is malformed.
func (d Delay) Duration() (time.Duration, error) {
	raw := strings.TrimSpace(string(d))
	if raw == "" {
		return 0, nil
	}
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelaySpec, raw)
	}

	magnitude, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || magnitude < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelaySpec, raw)
	}

	var unit time.Duration
	switch raw[len(raw)-1] {
	case 'h':
		unit = time.Hour
	case 'm':
		unit = time.Minute
	case 's':
		unit = time.Second
	default:
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidDelaySpec, raw)
	}

	if int64(magnitude) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q is too long", ErrInvalidDelaySpec, raw)
	}
	return time.Duration(magnitude) * unit, nil
}
