package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"keybubbles/internal/render"
)

const testListenAddr = "127.0.0.1:0"

// waitForCondition polls fn every 10ms until it returns true or the timeout
// expires.
func waitForCondition(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ticker.C:
			if fn() {
				return true
			}
		case <-deadline.C:
			return false
		}
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(HubOptions{Addr: testListenAddr})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = hub.Stop() })
	return hub
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(hub.URL(), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", hub.URL(), err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func subscribe(t *testing.T, hub *Hub, conn *websocket.Conn, channels ...Channel) {
	t.Helper()
	sendJSON(t, conn, subscribeMsg{Action: subscribeAction, Channels: channels})
	if !waitForCondition(t, 2*time.Second, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			ok := true
			for _, ch := range channels {
				ok = ok && c.channels[ch]
			}
			if ok {
				return true
			}
		}
		return false
	}) {
		t.Fatalf("timed out waiting for subscription to %v", channels)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func sampleFrame(seq uint64) render.Frame {
	return render.Frame{
		Seq:    seq,
		Window: render.Rect{X: 110, Y: 986, W: 1720, H: 84},
		Style:  render.Style{Background: "rgba(0,0,0,0.800)", FontSize: 20},
		Bubbles: []render.Box{
			{ID: "b1", Text: "Ctrl+S", Rect: render.Rect{X: 10, Y: 10, W: 95, H: 63}, Opacity: 1},
		},
	}
}

func TestHubStartStop(t *testing.T) {
	hub := NewHub(HubOptions{Addr: testListenAddr})
	if hub.URL() != "" || hub.BaseURL() != "" {
		t.Fatal("URL set before Start")
	}
	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := hub.Start(context.Background()); err == nil {
		t.Fatal("second Start() succeeded")
	}
	if hub.URL() == "" || hub.BaseURL() == "" {
		t.Fatal("URL empty after Start")
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestHubFrameDeliveredToSubscriber(t *testing.T) {
	hub := startHub(t)
	conn := dialHub(t, hub)
	subscribe(t, hub, conn, ChannelFrames)

	hub.Present(sampleFrame(7))
	msg := readMessage(t, conn)
	if msg["type"] != "frame" || msg["seq"] != float64(7) {
		t.Fatalf("message = %v", msg)
	}
	bubbles, ok := msg["bubbles"].([]any)
	if !ok || len(bubbles) != 1 {
		t.Fatalf("bubbles = %v", msg["bubbles"])
	}
	if text := bubbles[0].(map[string]any)["text"]; text != "Ctrl+S" {
		t.Fatalf("bubble text = %v", text)
	}
}

func TestHubOnlySubscribedChannels(t *testing.T) {
	hub := startHub(t)
	conn := dialHub(t, hub)
	subscribe(t, hub, conn, ChannelStatus)

	// The frame is not delivered; the next message is the status.
	hub.Present(sampleFrame(1))
	hub.PublishStatus(true)
	msg := readMessage(t, conn)
	if msg["type"] != "status" || msg["paused"] != true {
		t.Fatalf("message = %v, want paused status", msg)
	}
}

func TestHubReplaysLatestOnSubscribe(t *testing.T) {
	hub := startHub(t)
	hub.Present(sampleFrame(3))
	hub.PublishStatus(false)

	conn := dialHub(t, hub)
	sendJSON(t, conn, subscribeMsg{Action: subscribeAction, Channels: []Channel{ChannelFrames, ChannelStatus}})

	first := readMessage(t, conn)
	second := readMessage(t, conn)
	if first["type"] != "frame" || first["seq"] != float64(3) {
		t.Fatalf("first replay = %v", first)
	}
	if second["type"] != "status" || second["paused"] != false {
		t.Fatalf("second replay = %v", second)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := startHub(t)
	conn := dialHub(t, hub)
	subscribe(t, hub, conn, ChannelFrames, ChannelStatus)

	sendJSON(t, conn, subscribeMsg{Action: unsubscribeAction, Channels: []Channel{ChannelFrames}})
	if !waitForCondition(t, 2*time.Second, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if !c.channels[ChannelFrames] && c.channels[ChannelStatus] {
				return true
			}
		}
		return false
	}) {
		t.Fatal("frames subscription not removed")
	}
	hub.Present(sampleFrame(9))
	hub.PublishStatus(true)
	if msg := readMessage(t, conn); msg["type"] != "status" {
		t.Fatalf("message = %v, want status only", msg)
	}
}

func TestHubBroadcastsToEveryClient(t *testing.T) {
	hub := startHub(t)
	a := dialHub(t, hub)
	b := dialHub(t, hub)
	subscribe(t, hub, a, ChannelStatus)
	subscribe(t, hub, b, ChannelStatus)
	if !waitForCondition(t, 2*time.Second, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		n := 0
		for c := range hub.clients {
			if c.channels[ChannelStatus] {
				n++
			}
		}
		return n == 2
	}) {
		t.Fatal("both clients not subscribed")
	}

	hub.PublishStatus(true)
	for _, conn := range []*websocket.Conn{a, b} {
		if msg := readMessage(t, conn); msg["paused"] != true {
			t.Fatalf("message = %v", msg)
		}
	}
}

func TestHubRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", "{not json"},
		{"unknown action", `{"action":"watch","channels":["frames"]}`},
		{"unknown channel", `{"action":"subscribe","channels":["panes"]}`},
	}
	hub := startHub(t)
	conn := dialHub(t, hub)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			msg := readMessage(t, conn)
			if msg["type"] != "error" || msg["message"] == "" {
				t.Fatalf("message = %v, want error", msg)
			}
		})
	}
}

func TestHubClientDisconnectIsRemoved(t *testing.T) {
	hub := startHub(t)
	conn := dialHub(t, hub)
	if !waitForCondition(t, 2*time.Second, func() bool { return hub.ClientCount() == 1 }) {
		t.Fatal("client not registered")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	if !waitForCondition(t, 2*time.Second, func() bool { return hub.ClientCount() == 0 }) {
		t.Fatal("client not removed after disconnect")
	}
	// Broadcasting with no clients is a no-op.
	hub.Present(sampleFrame(1))
}

func TestHubServesExtraHandlers(t *testing.T) {
	hub := NewHub(HubOptions{Addr: testListenAddr})
	hub.Handle("GET /hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hi")
	}))
	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = hub.Stop() })

	resp, err := http.Get(hub.BaseURL() + "/hello")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "hi" {
		t.Fatalf("GET /hello = %d %q", resp.StatusCode, body)
	}
}

func TestEncodeFrameNeverSendsNullBubbles(t *testing.T) {
	data, err := EncodeFrame(render.Frame{Seq: 2})
	if err != nil {
		t.Fatal(err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if _, ok := msg["bubbles"].([]any); !ok {
		t.Fatalf("bubbles = %v, want empty array", msg["bubbles"])
	}
	if _, ok := msg["window"].(map[string]any); !ok {
		t.Fatalf("window missing: %s", data)
	}
}

func largeFrame(seq uint64) render.Frame {
	f := sampleFrame(seq)
	f.Bubbles = make([]render.Box, 200)
	for i := range f.Bubbles {
		f.Bubbles[i] = render.Box{ID: fmt.Sprintf("bubble-%03d", i), Text: "Ctrl+Shift+Alt+Win+PgDn", Opacity: 0.5}
	}
	return f
}

func TestHubPresentDoesNotBlockOnStalledClient(t *testing.T) {
	hub := startHub(t)
	stalled := dialHub(t, hub)
	subscribe(t, hub, stalled, ChannelFrames)
	// stalled never reads again, so its socket buffers fill up.

	var slowest time.Duration
	start := time.Now()
	for seq := range uint64(600) {
		before := time.Now()
		hub.Present(largeFrame(seq))
		if d := time.Since(before); d > slowest {
			slowest = d
		}
	}
	if slowest > 250*time.Millisecond {
		t.Fatalf("slowest Present = %v, want it to return without waiting on the client", slowest)
	}
	if total := time.Since(start); total > 3*time.Second {
		t.Fatalf("600 frames took %v", total)
	}

	// A healthy client still receives the newest frame.
	healthy := dialHub(t, hub)
	subscribe(t, hub, healthy, ChannelFrames)
	hub.Present(sampleFrame(1000))
	for {
		msg := readMessage(t, healthy)
		if msg["seq"] == float64(1000) {
			break
		}
	}
}

func TestClientQueueKeepsLatestFrame(t *testing.T) {
	c := newClient(nil)
	for i := range 5 {
		if !c.enqueue(ChannelFrames, []byte{byte(i)}) {
			t.Fatal("frame enqueue reported overflow")
		}
	}
	if !c.enqueue(ChannelStatus, []byte("status")) {
		t.Fatal("status enqueue reported overflow")
	}
	c.enqueue(ChannelFrames, []byte{9})

	var got [][]byte
	for {
		payload, ok := c.next()
		if !ok {
			break
		}
		got = append(got, payload)
	}
	if len(got) != 2 || got[0][0] != 9 || string(got[1]) != "status" {
		t.Fatalf("queue = %q, want [latest frame, status]", got)
	}
}

func TestClientQueueOverflow(t *testing.T) {
	c := newClient(nil)
	for i := range maxQueued {
		if !c.enqueue(ChannelStatus, []byte{byte(i)}) {
			t.Fatalf("enqueue %d reported overflow", i)
		}
	}
	if c.enqueue(ChannelStatus, []byte("one more")) {
		t.Fatal("enqueue past maxQueued succeeded")
	}
	// Frames coalesce into one slot even when it is already queued.
	c2 := newClient(nil)
	c2.enqueue(ChannelFrames, []byte("f"))
	for range maxQueued - 1 {
		c2.enqueue(ChannelStatus, []byte("s"))
	}
	if !c2.enqueue(ChannelFrames, []byte("g")) {
		t.Fatal("frame replacement counted against the queue limit")
	}
}
