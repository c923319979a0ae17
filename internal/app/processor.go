package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/domain"
	"github.com/rs/zerolog/log"
)

type joinedEvent struct {
	Type    string           `json:"type"`
	Room    domain.RoomName  `json:"room"`
	ID      core.ConnID      `json:"id"`
	User    *domain.User     `json:"user"`
	Members []core.MemberDTO `json:"members"`
}

type memberEvent struct {
	Type   string         `json:"type"`
	Member core.MemberDTO `json:"member"`
}

// roomProcessor relays one connection's frames to its room.
// The lifecycle adapter guarantees Open precedes everything else and Close runs at most once.
type roomProcessor struct {
	orch *Orchestrator
	out  core.WebSocket

	id     core.ConnID
	room   domain.RoomName
	member *core.Member
}

// Open joins the room named by ?room= as ?name=, then greets the connection.
func (p *roomProcessor) Open(req *core.Request) error {
	room, err := domain.ParseRoomName(req.Query("room"))
	if err != nil {
		return err
	}
	username := req.Query("name")
	if username == "" {
		username = domain.DefaultUsername
	}
	user, err := domain.NewUser(username)
	if err != nil {
		return err
	}

	p.id = req.ConnID
	p.room = room
	p.member = &core.Member{ID: req.ConnID, User: user, Out: p.out}

	rs := p.orch.Join(room, p.member)
	hello, err := json.Marshal(joinedEvent{
		Type:    "joined",
		Room:    room,
		ID:      p.id,
		User:    user,
		Members: rs.MembersSnapshot(),
	})
	if err != nil {
		p.orch.Leave(room, p.id)
		return fmt.Errorf("marshal joined: %w", err)
	}
	if err := p.out.WriteText(string(hello)); err != nil {
		p.orch.Leave(room, p.id)
		return fmt.Errorf("send joined: %w", err)
	}
	p.announce("member_joined")
	return nil
}

func (p *roomProcessor) InvokeText(text string) error {
	p.orch.OnFrame(p.room, p.id, core.Message{Text: text})
	return nil
}

func (p *roomProcessor) InvokeBinary(data []byte, offset, length int) error {
	p.orch.OnFrame(p.room, p.id, core.Message{Binary: true, Data: data[offset : offset+length]})
	return nil
}

func (p *roomProcessor) Close(code int) {
	if p.member == nil {
		return
	}
	log.Debug().Str("module", "app.processor").Str("conn", string(p.id)).Int("code", code).Msg("processor closed")
	if p.orch.Leave(p.room, p.id) {
		p.announce("member_left")
	}
}

func (p *roomProcessor) announce(kind string) {
	dto := core.MemberDTO{ID: p.id}
	if p.member.User != nil {
		dto.UserID = p.member.User.ID
		dto.Username = p.member.User.Username
	}
	b, err := json.Marshal(memberEvent{Type: kind, Member: dto})
	if err != nil {
		log.Error().Err(err).Str("module", "app.processor").Msg("marshal member event")
		return
	}
	p.orch.OnFrame(p.room, p.id, core.Message{Text: string(b)})
}
