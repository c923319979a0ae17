package app

import (
	"sync"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomName]core.RoomService)}
}

// Join adds m to the named room, creating the room if needed.
// Lookup and add happen under the manager lock so a concurrent Release cannot
// drop the room between them.
func (f *RoomManagerImpl) Join(name domain.RoomName, m *core.Member) core.RoomService {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok {
		room = core.NewRoomService(&domain.Room{Name: name})
		f.rooms[name] = room
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	}
	room.AddMember(m)
	return room
}

func (f *RoomManagerImpl) GetRoom(name domain.RoomName) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[name]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for name, r := range f.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	return out
}

// Release removes the room once its last member has left.
// The count is checked under the manager's write lock, which Join also holds.
func (f *RoomManagerImpl) Release(name domain.RoomName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok || room.MemberCount() > 0 {
		return
	}
	delete(f.rooms, name)
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room released")
}
