package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// socket.io packet type "4" (message) + engine.io type "2" (event)
const socketIOEventPrefix = "42"

// ErrNotEvent marks websocket messages that are not socket.io events
// (pings, handshakes). They are ignored.
var ErrNotEvent = errors.New("not a socket.io event")

// SocketIOEvent is one decoded `42["name",payload]` message.
type SocketIOEvent struct {
	Name    string
	Payload json.RawMessage
}

// Manual reports whether the event carries no data. The simulator sends these
// while it is driven by hand.
func (e SocketIOEvent) Manual() bool {
	p := bytes.TrimSpace(e.Payload)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// ParseSocketIO decodes a socket.io event frame.
func ParseSocketIO(msg []byte) (SocketIOEvent, error) {
	msg = bytes.TrimSpace(msg)
	if !bytes.HasPrefix(msg, []byte(socketIOEventPrefix)) {
		return SocketIOEvent{}, ErrNotEvent
	}
	body := msg[len(socketIOEventPrefix):]
	if len(body) == 0 {
		return SocketIOEvent{}, ErrNotEvent
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return SocketIOEvent{}, fmt.Errorf("decode socket.io event: %w", err)
	}
	if len(parts) == 0 {
		return SocketIOEvent{}, fmt.Errorf("decode socket.io event: empty array")
	}

	var ev SocketIOEvent
	if err := json.Unmarshal(parts[0], &ev.Name); err != nil {
		return SocketIOEvent{}, fmt.Errorf("decode socket.io event name: %w", err)
	}
	if len(parts) > 1 {
		ev.Payload = parts[1]
	}
	return ev, nil
}

// FormatSocketIO encodes payload as a socket.io event frame.
func FormatSocketIO(name string, payload any) ([]byte, error) {
	b, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, fmt.Errorf("encode socket.io event %q: %w", name, err)
	}
	return append([]byte(socketIOEventPrefix), b...), nil
}

// ManualReply is the answer to an event without data.
func ManualReply() []byte {
	return []byte(socketIOEventPrefix + `["manual",{}]`)
}
