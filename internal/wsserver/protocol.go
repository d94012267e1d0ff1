// Package wsserver serves the overlay frame stream over a loopback
// WebSocket and hosts the settings HTTP handlers on the same listener.
//
// # Protocol
//
// All messages are JSON text frames. A client subscribes to channels:
//
//	{"action":"subscribe","channels":["frames","status"]}
//
// and then receives
//
//	{"type":"frame","seq":12,"window":{...},"style":{...},"bubbles":[...]}
//	{"type":"status","paused":false}
//
// On subscribe the latest message of each channel is replayed so a reloaded
// page draws immediately.
package wsserver

import (
	"encoding/json"
	"fmt"

	"keybubbles/internal/render"
)

// Channel names a stream a client can subscribe to.
type Channel string

const (
	ChannelFrames Channel = "frames"
	ChannelStatus Channel = "status"
)

// channelControl tags error replies. Clients cannot subscribe to it.
const channelControl Channel = "control"

func (c Channel) valid() bool {
	return c == ChannelFrames || c == ChannelStatus
}

const (
	subscribeAction   = "subscribe"
	unsubscribeAction = "unsubscribe"
)

// subscribeMsg is the client request.
type subscribeMsg struct {
	Action   string    `json:"action"`
	Channels []Channel `json:"channels"`
}

// FrameMessage is one rendered frame as sent to the overlay.
type FrameMessage struct {
	Type string `json:"type"`
	render.Frame
}

// StatusMessage carries the pause state.
type StatusMessage struct {
	Type   string `json:"type"`
	Paused bool   `json:"paused"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeFrame renders a frame message.
func EncodeFrame(f render.Frame) ([]byte, error) {
	if f.Bubbles == nil {
		// The overlay iterates bubbles; never send null.
		f.Bubbles = []render.Box{}
	}
	data, err := json.Marshal(FrameMessage{Type: "frame", Frame: f})
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode frame %d: %w", f.Seq, err)
	}
	return data, nil
}

// EncodeStatus renders a status message.
func EncodeStatus(paused bool) ([]byte, error) {
	data, err := json.Marshal(StatusMessage{Type: "status", Paused: paused})
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode status: %w", err)
	}
	return data, nil
}

func jsonError(message string) ([]byte, error) {
	return json.Marshal(errorMsg{Type: "error", Message: message})
}

// decodeSubscribe parses and validates a client request.
func decodeSubscribe(raw []byte) (subscribeMsg, error) {
	var msg subscribeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return subscribeMsg{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if msg.Action != subscribeAction && msg.Action != unsubscribeAction {
		return subscribeMsg{}, fmt.Errorf("unknown action %q", msg.Action)
	}
	for _, ch := range msg.Channels {
		if !ch.valid() {
			return subscribeMsg{}, fmt.Errorf("unknown channel %q", ch)
		}
	}
	return msg, nil
}
