package core

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

var (
	ErrAlreadyAttached = errors.New("processor already attached")
	ErrNoPendingFrame  = errors.New("no pending frame")
	ErrSocketClosed    = errors.New("socket closed")
)

// ConnID identifies one live transport session.
type ConnID string

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

// Request is the metadata of the request that opened a connection.
type Request struct {
	ConnID      ConnID
	Method      string
	URL         *url.URL
	Header      http.Header
	RemoteAddr  string
	ClientToken string
	Subprotocol string
}

// Query returns the URL query value for key, or "" when absent.
func (r *Request) Query(key string) string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.Query().Get(key)
}

// Socket is the transport handle for one connection.
// ReadFrame is only called from the connection's own callback goroutine.
type Socket interface {
	ID() ConnID
	Request() *Request
	ReadFrame() (RawFrame, error)
	WriteFrame(f RawFrame) error
	CloseSocket() error
}

// SocketHandler receives the transport lifecycle callbacks.
// For one socket, OnOpen precedes every OnFrame, which precede OnClose.
type SocketHandler interface {
	OnOpen(s Socket) error
	OnFrame(s Socket) error
	OnClose(s Socket)
}
