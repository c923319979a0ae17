package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/dkeye/wsbridge/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Envelope is a room message crossing node boundaries.
type Envelope struct {
	Node   string          `json:"node"`
	Room   domain.RoomName `json:"room"`
	From   core.ConnID     `json:"from"`
	Binary bool            `json:"binary,omitempty"`
	Text   string          `json:"text,omitempty"`
	Data   []byte          `json:"data,omitempty"`
}

func (e Envelope) Message() core.Message {
	return core.Message{Binary: e.Binary, Text: e.Text, Data: e.Data}
}

// Bus fans room messages out to other nodes.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Run delivers envelopes from other nodes until ctx is done.
	Run(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// LocalBus is the single-node bus: nothing leaves the process.
type LocalBus struct{}

func (LocalBus) Publish(context.Context, Envelope) error { return nil }

func (LocalBus) Run(ctx context.Context, _ func(Envelope)) error {
	<-ctx.Done()
	return nil
}

func (LocalBus) Close() error { return nil }

// RedisBus relays envelopes over Redis pub/sub, one channel per room.
type RedisBus struct {
	client  *redis.Client
	channel string
	node    string
}

func NewRedisBus(client *redis.Client, channel, node string) *RedisBus {
	return &RedisBus{client: client, channel: channel, node: node}
}

func (b *RedisBus) roomChannel(room domain.RoomName) string {
	return b.channel + ":" + string(room)
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	env.Node = b.node
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.roomChannel(env.Room), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Room, err)
	}
	return nil
}

func (b *RedisBus) Run(ctx context.Context, deliver func(Envelope)) error {
	pubsub := b.client.PSubscribe(ctx, b.channel+":*")
	defer pubsub.Close()

	// Receive confirms the subscription before messages are consumed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("psubscribe %s: %w", b.channel, err)
	}
	log.Info().Str("module", "app.bus").Str("channel", b.channel).Str("node", b.node).Msg("bus subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Str("module", "app.bus").Str("channel", msg.Channel).Msg("bad envelope")
				continue
			}
			if env.Node == b.node {
				continue
			}
			if env.Room == "" {
				env.Room = domain.RoomName(strings.TrimPrefix(msg.Channel, b.channel+":"))
			}
			deliver(env)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
