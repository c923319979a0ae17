package app

import (
	"context"
	"time"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 2 * time.Second

// Orchestrator owns the room state shared by every connection's processor.
// It implements core.ProcessorFactory.
type Orchestrator struct {
	Rooms  core.RoomManager
	Policy Policy
	Bus    Bus
}

func NewOrchestrator(rooms core.RoomManager, policy Policy, bus Bus) *Orchestrator {
	if policy == nil {
		policy = SimplePolicy{}
	}
	if bus == nil {
		bus = LocalBus{}
	}
	return &Orchestrator{Rooms: rooms, Policy: policy, Bus: bus}
}

func (o *Orchestrator) NewProcessor(ws core.WebSocket) core.Processor {
	return &roomProcessor{orch: o, out: ws}
}

func (o *Orchestrator) Join(name domain.RoomName, m *core.Member) core.RoomService {
	room := o.Rooms.Join(name, m)
	log.Info().Str("module", "app.orch").Str("conn", string(m.ID)).Str("room", string(name)).Msg("added to room")
	return room
}

// Leave removes id from the room and reports whether it was a member.
func (o *Orchestrator) Leave(name domain.RoomName, id core.ConnID) bool {
	room, ok := o.Rooms.GetRoom(name)
	if !ok {
		return false
	}
	if !room.RemoveMember(id) {
		return false
	}
	o.Rooms.Release(name)
	log.Info().Str("module", "app.orch").Str("conn", string(id)).Str("room", string(name)).Msg("left room")
	return true
}

// OnFrame relays msg to the sender's room mates here and on other nodes.
func (o *Orchestrator) OnFrame(name domain.RoomName, from core.ConnID, msg core.Message) {
	if room, ok := o.Rooms.GetRoom(name); ok {
		applyPolicy(o.Policy, room, room.Broadcast(from, msg))
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	env := Envelope{Room: name, From: from, Binary: msg.Binary, Text: msg.Text, Data: msg.Data}
	if err := o.Bus.Publish(ctx, env); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("room", string(name)).Msg("bus publish failed")
	}
}

// Deliver hands an envelope from another node to the local members of its room.
func (o *Orchestrator) Deliver(env Envelope) {
	room, ok := o.Rooms.GetRoom(env.Room)
	if !ok {
		return
	}
	applyPolicy(o.Policy, room, room.Broadcast(env.From, env.Message()))
}

// EvictRoom closes every member socket of the room and reports whether the room existed.
// Members leave through their own close path.
func (o *Orchestrator) EvictRoom(name domain.RoomName) bool {
	room, ok := o.Rooms.GetRoom(name)
	if !ok {
		return false
	}
	members := room.Members()
	for _, m := range members {
		m.Out.Close()
	}
	log.Info().Str("module", "app.orch").Str("room", string(name)).Int("members", len(members)).Msg("room evicted")
	return true
}
