package hub

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeConn struct {
	got  []any
	fail bool
}

func (f *fakeConn) Send(_ context.Context, payload any) error {
	if f.fail {
		return errors.New("socket gone")
	}
	f.got = append(f.got, payload)
	return nil
}

func TestHub_BroadcastReachesAllConnections(t *testing.T) {
	h := New(zap.NewNop())
	a1 := &fakeConn{}
	a2 := &fakeConn{}
	b := &fakeConn{}
	h.Connect("abc123", "alice", a1)
	h.Connect("ABC123", "alice", a2)
	h.Connect("ABC123", "bob", b)

	h.Broadcast(context.Background(), "abc123", "hello")

	for name, c := range map[string]*fakeConn{"a1": a1, "a2": a2, "b": b} {
		if len(c.got) != 1 {
			t.Fatalf("conn %s: got %d payloads, want 1", name, len(c.got))
		}
	}
}

func TestHub_SendToPlayerTargetsOnePlayer(t *testing.T) {
	h := New(zap.NewNop())
	a := &fakeConn{}
	b := &fakeConn{}
	h.Connect("ROOM01", "alice", a)
	h.Connect("ROOM01", "bob", b)

	h.SendToPlayer(context.Background(), "ROOM01", "alice", "secret")

	if len(a.got) != 1 {
		t.Fatalf("alice got %d payloads, want 1", len(a.got))
	}
	if len(b.got) != 0 {
		t.Fatalf("bob got %d payloads, want 0", len(b.got))
	}
}

func TestHub_BroadcastRoomStatePersonalizes(t *testing.T) {
	h := New(zap.NewNop())
	a := &fakeConn{}
	b := &fakeConn{}
	h.Connect("ROOM01", "alice", a)
	h.Connect("ROOM01", "bob", b)

	h.BroadcastRoomState(context.Background(), "ROOM01",
		func(_ context.Context, _, playerID string) (any, error) {
			return "state-for-" + playerID, nil
		})

	if len(a.got) != 1 || a.got[0] != "state-for-alice" {
		t.Fatalf("alice got %v", a.got)
	}
	if len(b.got) != 1 || b.got[0] != "state-for-bob" {
		t.Fatalf("bob got %v", b.got)
	}
}

func TestHub_SupplierErrorSkipsPlayerOnly(t *testing.T) {
	h := New(zap.NewNop())
	a := &fakeConn{}
	b := &fakeConn{}
	h.Connect("ROOM01", "alice", a)
	h.Connect("ROOM01", "bob", b)

	h.BroadcastRoomState(context.Background(), "ROOM01",
		func(_ context.Context, _, playerID string) (any, error) {
			if playerID == "alice" {
				return nil, errors.New("boom")
			}
			return "ok", nil
		})

	if len(a.got) != 0 {
		t.Fatalf("alice should have been skipped, got %v", a.got)
	}
	if len(b.got) != 1 {
		t.Fatalf("bob got %d payloads, want 1", len(b.got))
	}
}

func TestHub_SendFailureDoesNotStopFanOut(t *testing.T) {
	h := New(zap.NewNop())
	dead := &fakeConn{fail: true}
	live := &fakeConn{}
	h.Connect("ROOM01", "alice", dead)
	h.Connect("ROOM01", "bob", live)

	h.Broadcast(context.Background(), "ROOM01", "ping")

	if len(live.got) != 1 {
		t.Fatalf("live conn got %d payloads, want 1", len(live.got))
	}
}

func TestHub_DisconnectPrunes(t *testing.T) {
	h := New(zap.NewNop())
	a := &fakeConn{}
	h.Connect("ROOM01", "alice", a)
	if n := h.RoomConnCount("room01"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	h.Disconnect("ROOM01", "alice", a)
	if n := h.RoomConnCount("ROOM01"); n != 0 {
		t.Fatalf("count after disconnect = %d, want 0", n)
	}

	// removing twice is harmless
	h.Disconnect("ROOM01", "alice", a)
}
