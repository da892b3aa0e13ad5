// Package hub fans room events out to live websocket sessions. It tracks
// connections only; room truth stays in the store, so a dropped hub entry
// can never corrupt game state.
package hub

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/oleksandrpechak/DuoEng/internal/metrics"
)

// Conn is the write side of one live session. *websocket.Conn is wrapped to
// satisfy it in production; tests inject fakes.
type Conn interface {
	Send(ctx context.Context, payload any) error
}

// StateSupplier builds the snapshot for one viewer. Fan-out is per-player
// because the prompt word is redacted per viewer.
type StateSupplier func(ctx context.Context, roomCode, playerID string) (any, error)

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]map[Conn]struct{}
	log   *zap.Logger
}

func New(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[string]map[Conn]struct{}),
		log:   log,
	}
}

// Connect registers a session. A player may hold several connections
// (multiple tabs, reconnects); registering the same connection twice is a
// no-op.
func (h *Hub) Connect(roomCode, playerID string, conn Conn) {
	code := strings.ToUpper(roomCode)

	h.mu.Lock()
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[string]map[Conn]struct{})
		h.rooms[code] = room
	}
	conns, ok := room[playerID]
	if !ok {
		conns = make(map[Conn]struct{})
		room[playerID] = conns
	}
	conns[conn] = struct{}{}
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()
}

// Disconnect removes a session, pruning empty player sets and empty rooms.
// Unknown connections are ignored.
func (h *Hub) Disconnect(roomCode, playerID string, conn Conn) {
	code := strings.ToUpper(roomCode)

	h.mu.Lock()
	if room, ok := h.rooms[code]; ok {
		if conns, ok := room[playerID]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(room, playerID)
			}
		}
		if len(room) == 0 {
			delete(h.rooms, code)
		}
	}
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()
}

func (h *Hub) snapshot(roomCode string) map[string][]Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[strings.ToUpper(roomCode)]
	out := make(map[string][]Conn, len(room))
	for playerID, conns := range room {
		list := make([]Conn, 0, len(conns))
		for c := range conns {
			list = append(list, c)
		}
		out[playerID] = list
	}
	return out
}

// SendToPlayer delivers to every connection held by one player. Send
// failures are logged and swallowed so one dead socket cannot abort the
// rest.
func (h *Hub) SendToPlayer(ctx context.Context, roomCode, playerID string, payload any) {
	for _, conn := range h.snapshot(roomCode)[playerID] {
		if err := conn.Send(ctx, payload); err != nil {
			h.log.Warn("send to player failed",
				zap.String("room_code", roomCode),
				zap.String("player_id", playerID),
				zap.Error(err))
		}
	}
}

// Broadcast fans one payload to every connection in the room.
func (h *Hub) Broadcast(ctx context.Context, roomCode string, payload any) {
	for playerID, conns := range h.snapshot(roomCode) {
		for _, conn := range conns {
			if err := conn.Send(ctx, payload); err != nil {
				h.log.Warn("broadcast send failed",
					zap.String("room_code", roomCode),
					zap.String("player_id", playerID),
					zap.Error(err))
			}
		}
	}
}

// BroadcastRoomState recomputes and pushes a per-player snapshot. A supplier
// failure for one player skips that player only.
func (h *Hub) BroadcastRoomState(ctx context.Context, roomCode string, supply StateSupplier) {
	for playerID, conns := range h.snapshot(roomCode) {
		state, err := supply(ctx, roomCode, playerID)
		if err != nil {
			h.log.Warn("room state build failed",
				zap.String("room_code", roomCode),
				zap.String("player_id", playerID),
				zap.Error(err))
			continue
		}
		for _, conn := range conns {
			if err := conn.Send(ctx, state); err != nil {
				h.log.Warn("state push failed",
					zap.String("room_code", roomCode),
					zap.String("player_id", playerID),
					zap.Error(err))
			}
		}
	}
}

// RoomConnCount reports live connections in a room.
func (h *Hub) RoomConnCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, conns := range h.rooms[strings.ToUpper(roomCode)] {
		total += len(conns)
	}
	return total
}
