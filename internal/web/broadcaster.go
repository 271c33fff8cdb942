package web

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cjeanneret/LensGo/internal/logic/state"
)

// StatusEvent is a single log line pushed to SSE clients.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster fans log messages out to any number of SSE clients. It
// shares the snapshot stream's fanout discipline: buffered channels, slow
// clients miss messages.
type StatusBroadcaster struct {
	fan *state.Fanout[string]
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{fan: state.NewFanout[string](64)}
}

// Subscribe returns a channel receiving broadcast messages and a cleanup
// function. The caller must call the cleanup on client disconnect.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	return b.fan.Subscribe()
}

// Broadcast sends a message to every subscriber as JSON:
// {"t":"...","l":"info","msg":"..."}.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	evt := StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.fan.Publish(string(data))
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastWriter wraps the broadcaster as an io.Writer so the debug logger
// output can be mirrored to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
