package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

// RoomManager is the per-channel broadcast multiplexer. Membership is
// connection-scoped and rebuilt purely from Join/Leave; it carries no
// authorization, callers must have checked channel membership already.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.ChannelID]map[core.ConnID]core.SignalConnection
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.ChannelID]map[core.ConnID]core.SignalConnection)}
}

func (rm *RoomManager) Join(cid core.ConnID, room domain.ChannelID, sig core.SignalConnection) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.rooms[room] == nil {
		rm.rooms[room] = make(map[core.ConnID]core.SignalConnection)
	}
	rm.rooms[room][cid] = sig
	log.Info().Str("module", "app.rooms").Str("cid", string(cid)).Str("room", string(room)).Int("count", len(rm.rooms[room])).Msg("joined room")
}

func (rm *RoomManager) Leave(cid core.ConnID, room domain.ChannelID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.leaveLocked(cid, room)
}

// LeaveAll removes a connection from every room; the disconnect path
// calls it so no membership survives the connection.
func (rm *RoomManager) LeaveAll(cid core.ConnID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for room, members := range rm.rooms {
		if _, ok := members[cid]; ok {
			rm.leaveLocked(cid, room)
		}
	}
}

func (rm *RoomManager) leaveLocked(cid core.ConnID, room domain.ChannelID) {
	members, ok := rm.rooms[room]
	if !ok {
		return
	}
	delete(members, cid)
	if len(members) == 0 {
		delete(rm.rooms, room)
		log.Debug().Str("module", "app.rooms").Str("room", string(room)).Msg("room empty, removed")
	}
	log.Info().Str("module", "app.rooms").Str("cid", string(cid)).Str("room", string(room)).Msg("left room")
}

func (rm *RoomManager) MemberCount(room domain.ChannelID) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms[room])
}

func (rm *RoomManager) Contains(cid core.ConnID, room domain.ChannelID) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.rooms[room][cid]
	return ok
}

// Broadcast delivers the event to every connection in the room.
// Fire-and-forget: no acks, order is preserved per room because each
// receiver's send queue is appended to while the room is held.
func (rm *RoomManager) Broadcast(room domain.ChannelID, v any) core.PublishResult {
	return rm.BroadcastExcept(room, v, "")
}

// BroadcastExcept is Broadcast minus one connection, for ephemeral
// signals that should not echo to their originator.
func (rm *RoomManager) BroadcastExcept(room domain.ChannelID, v any, except core.ConnID) core.PublishResult {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Msg("broadcast marshal")
		return core.PublishResult{}
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	res := core.PublishResult{}
	for cid, sig := range rm.rooms[room] {
		if cid == except {
			continue
		}
		if err := sig.TrySend(core.Event(b)); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.rooms").Str("room", string(room)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
