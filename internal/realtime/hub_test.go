package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aurorabench/converge-backend/internal/model"
)

func newTestClient() *client {
	return &client{send: make(chan []byte, 64), rooms: map[string]bool{}}
}

func recv(t *testing.T, c *client) Event {
	t.Helper()
	select {
	case payload := <-c.send:
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event")
		return Event{}
	}
}

func TestRoomKey(t *testing.T) {
	if got := roomKey("t1", "r1"); got != "room_r1_t1" {
		t.Errorf("roomKey = %q, want room_r1_t1", got)
	}
}

func TestHub_JoinDeliversRoomJoinedEvent(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient()
	h.join("t1", "r1", c)

	ev := recv(t, c)
	if ev.Type != "room_joined" {
		t.Errorf("event type = %q, want room_joined", ev.Type)
	}
}

func TestHub_EmitNewMessageReachesJoinedClientsOnly(t *testing.T) {
	h := NewHub(nil)
	subscribed := newTestClient()
	other := newTestClient()
	h.join("t1", "r1", subscribed)
	<-subscribed.send // drain the room_joined event

	h.EmitNewMessage("t1", "r1", model.Message{Content: "hello"})

	ev := recv(t, subscribed)
	if ev.Type != "new_message" {
		t.Errorf("event type = %q, want new_message", ev.Type)
	}
	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive the event")
	default:
	}
}

func TestHub_EmitIsScopedPerRoom(t *testing.T) {
	h := NewHub(nil)
	roomA := newTestClient()
	roomB := newTestClient()
	h.join("t1", "a", roomA)
	h.join("t1", "b", roomB)
	<-roomA.send
	<-roomB.send

	h.EmitNewMessage("t1", "a", model.Message{Content: "for room a"})

	recv(t, roomA)
	select {
	case <-roomB.send:
		t.Error("room b's client should not receive room a's event")
	default:
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient()
	h.join("t1", "r1", c)
	<-c.send

	h.leave("t1", "r1", c)
	h.EmitNewMessage("t1", "r1", model.Message{Content: "after leave"})

	select {
	case <-c.send:
		t.Error("client should not receive events after leaving the room")
	default:
	}
}

func TestHub_DropClientRemovesFromAllRooms(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient()
	h.join("t1", "r1", c)
	h.join("t1", "r2", c)
	<-c.send
	<-c.send

	h.dropClient(c)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.rooms[roomKey("t1", "r1")]) != 0 || len(h.rooms[roomKey("t1", "r2")]) != 0 {
		t.Error("expected the dropped client removed from every room")
	}
}

func TestHub_EmitTypingPayload(t *testing.T) {
	h := NewHub(nil)
	c := newTestClient()
	h.join("t1", "r1", c)
	<-c.send

	h.EmitTyping("t1", "r1", "ai", true)
	ev := recv(t, c)
	if ev.Type != "user_typing" {
		t.Fatalf("event type = %q, want user_typing", ev.Type)
	}
	data, ok := ev.Data.(map[string]any)
	if !ok || data["who"] != "ai" || data["isTyping"] != true {
		t.Errorf("unexpected typing payload: %+v", ev.Data)
	}
}

type fakeCrossProcess struct {
	published [][]byte
	handlers  map[string]func([]byte)
}

func newFakeCrossProcess() *fakeCrossProcess {
	return &fakeCrossProcess{handlers: map[string]func([]byte){}}
}

func (f *fakeCrossProcess) Publish(ctx context.Context, channel string, payload []byte) error {
	f.published = append(f.published, payload)
	if h, ok := f.handlers[channel]; ok {
		h(payload)
	}
	return nil
}

func (f *fakeCrossProcess) Subscribe(ctx context.Context, channel string, onMessage func([]byte)) {
	f.handlers[channel] = onMessage
}

func TestHub_CrossProcessFanoutRoundTrips(t *testing.T) {
	fanout := newFakeCrossProcess()
	h := NewHub(fanout)
	c := newTestClient()
	h.join("t1", "r1", c)
	<-c.send // room_joined

	h.EmitNewMessage("t1", "r1", model.Message{Content: "via redis"})

	if len(fanout.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fanout.published))
	}
	ev := recv(t, c)
	if ev.Type != "new_message" {
		t.Errorf("event type = %q, want new_message", ev.Type)
	}
}
