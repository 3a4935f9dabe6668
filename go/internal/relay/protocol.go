// Package relay serves a room store to remote clients over WebSocket.
//
// Clients send get_all and set requests tagged with an id and receive a
// reply frame with the same id. After every change in the backing store
// the hub pushes a snapshot frame to every connection.
package relay

import (
	"errors"

	"github.com/fichas-one/fichas/go/internal/store"
)

// FrameType identifies a relay message
type FrameType string

const (
	FrameGetAll   FrameType = "get_all"
	FrameSet      FrameType = "set"
	FrameReply    FrameType = "reply"
	FrameSnapshot FrameType = "snapshot"
)

// Frame is the single message shape in both directions.
type Frame struct {
	Type     FrameType      `json:"type"`
	ID       string         `json:"id,omitempty"`
	Patch    store.Patch    `json:"patch,omitempty"`
	Snapshot store.Snapshot `json:"snapshot,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ErrRemote wraps errors reported by the relay for a request.
var ErrRemote = errors.New("relay request failed")
