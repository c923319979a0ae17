package domain

import (
	"errors"
	"strings"
)

const (
	DefaultRoom    RoomName = "main"
	MaxRoomNameLen          = 36
)

var ErrRoomNameTooLong = errors.New("room name too long")

type RoomName string

type Room struct {
	Name RoomName
}

// ParseRoomName trims raw and falls back to DefaultRoom when it is empty.
func ParseRoomName(raw string) (RoomName, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRoom, nil
	}
	if len(raw) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(raw), nil
}
