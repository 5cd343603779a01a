package hub

import (
	"encoding/json"
	"testing"
	"time"
)

// attach registers a bare client with the hub and returns it. The write pump
// is never started, so tests read delivered messages straight off the send
// channel.
func attach(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(h, nil)
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return c
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return Message{}
	}
}

func TestHubBroadcastJSON(t *testing.T) {
	h := New("test")
	go h.Run()
	c := attach(t, h)

	if err := h.BroadcastJSON(map[string]any{"event": "stream", "active": true}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}

	msg := recv(t, c)
	if msg.Type != JSONMessage {
		t.Fatalf("message type = %v, want JSONMessage", msg.Type)
	}
	var got struct {
		Event  string `json:"event"`
		Active bool   `json:"active"`
	}
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if got.Event != "stream" || !got.Active {
		t.Fatalf("broadcast payload = %+v", got)
	}
}

func TestHubBroadcastJSONUnencodable(t *testing.T) {
	h := New("test")
	if err := h.BroadcastJSON(make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestHubBroadcastBinaryReachesAllClients(t *testing.T) {
	h := New("test")
	go h.Run()
	a := attach(t, h)
	b := attach(t, h)

	frame := []byte{0xff, 0xd8, 0xff, 0xd9}
	h.BroadcastBinary(frame)

	for _, c := range []*Client{a, b} {
		msg := recv(t, c)
		if msg.Type != BinaryMessage || len(msg.Data) != len(frame) {
			t.Fatalf("message = %+v, want %d binary bytes", msg, len(frame))
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := New("test")
	go h.Run()
	c := attach(t, h)

	// Fill the client's send buffer without draining it; the next broadcast
	// that cannot be queued drops the client.
	for i := 0; i < cap(c.send)+1; i++ {
		h.BroadcastBinary([]byte{byte(i)})
	}
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(time.Millisecond)
	}
}
