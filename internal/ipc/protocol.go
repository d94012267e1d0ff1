// Package ipc is the per-user control channel used by the CLI and the
// installer to drive a running instance. Each connection carries one
// newline-terminated JSON request and one JSON response.
package ipc

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Commands understood by the running instance.
const (
	CommandQuit     = "quit"
	CommandPause    = "pause"
	CommandResume   = "resume"
	CommandToggle   = "toggle"
	CommandSettings = "settings"
	CommandStatus   = "status"
	CommandPing     = "ping"
)

var knownCommands = []string{
	CommandQuit, CommandPause, CommandResume, CommandToggle,
	CommandSettings, CommandStatus, CommandPing,
}

// Commands returns every command name.
func Commands() []string { return slices.Clone(knownCommands) }

// Request is one control command.
type Request struct {
	Command string `json:"command"`
}

// Response reports the outcome and the pause state after the command.
type Response struct {
	OK      bool   `json:"ok"`
	Paused  bool   `json:"paused"`
	Message string `json:"message,omitempty"`
}

// Handler executes a request.
type Handler interface {
	Handle(req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req Request) Response

// Handle implements Handler.
func (f HandlerFunc) Handle(req Request) Response { return f(req) }

func encodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	if !slices.Contains(knownCommands, req.Command) {
		return Request{}, fmt.Errorf("unknown command %q", req.Command)
	}
	return req, nil
}

func encodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
