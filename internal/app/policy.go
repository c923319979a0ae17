package app

import (
	"fmt"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/rs/zerolog/log"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// Policy decides what happens to a member a broadcast could not reach.
type Policy interface {
	OnBackPressure(room core.RoomService, member *core.Member) BackpressureAction
}

// SimplePolicy kicks every member a broadcast could not reach.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, *core.Member) BackpressureAction {
	return KickMember
}

// DropPolicy keeps the member and loses only the frame it missed.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.RoomService, *core.Member) BackpressureAction {
	return DropFrame
}

// NewPolicy returns the policy configured by name: "kick" (default) or "drop".
func NewPolicy(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}

// applyPolicy runs p over every dropped member of a broadcast.
// Kicked members are closed; their own close path removes them from the room.
func applyPolicy(p Policy, room core.RoomService, res core.PublishResult) {
	for _, m := range res.Dropped {
		action := p.OnBackPressure(room, m)
		log.Warn().Str("module", "app.policy").Str("room", string(room.Room().Name)).
			Str("conn", string(m.ID)).Str("action", action.String()).Msg("delivery failed")
		if action == KickMember {
			m.Out.Close()
		}
	}
}
