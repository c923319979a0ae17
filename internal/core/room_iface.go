package core

import (
	"github.com/dkeye/wsbridge/internal/domain"
)

// Message is one relayed payload. Binary messages carry Data, text messages Text.
type Message struct {
	Binary bool
	Text   string
	Data   []byte
}

// Member is a connection participating in a room.
type Member struct {
	ID   ConnID
	User *domain.User
	Out  WebSocket
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []*Member
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       ConnID        `json:"id"`
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never closes transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	// Members returns the current members. The slice is a copy.
	Members() []*Member

	AddMember(m *Member)
	RemoveMember(id ConnID) bool
	Broadcast(from ConnID, msg Message) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

type RoomManager interface {
	// Join adds m to the named room, creating it if needed, as one step.
	Join(name domain.RoomName, m *Member) RoomService
	GetRoom(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	// Release drops the room if it has no members left.
	Release(name domain.RoomName)
}
