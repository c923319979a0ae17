package core

import (
	"sync"

	"github.com/dkeye/wsbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	members map[ConnID]*Member
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		members: make(map[ConnID]*Member),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) AddMember(m *Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = m
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("conn", string(m.ID)).Msg("member added")
}

func (r *roomImpl) RemoveMember(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("conn", string(id)).Msg("member removed")
	return true
}

// Broadcast writes msg to every member except from. Writes happen outside the room lock
// so a slow socket never blocks membership changes.
func (r *roomImpl) Broadcast(from ConnID, msg Message) PublishResult {
	r.mu.RLock()
	targets := make([]*Member, 0, len(r.members))
	for id, m := range r.members {
		if id == from {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.RUnlock()

	res := PublishResult{}
	for _, m := range targets {
		var err error
		if msg.Binary {
			err = m.Out.WriteBinary(msg.Data, 0, len(msg.Data))
		} else {
			err = m.Out.WriteText(msg.Text)
		}
		if err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.members))
	for id, m := range r.members {
		dto := MemberDTO{ID: id}
		if m.User != nil {
			dto.UserID = m.User.ID
			dto.Username = m.User.Username
		}
		out = append(out, dto)
	}
	return out
}

func (r *roomImpl) Members() []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}
