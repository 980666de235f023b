package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

var (
	ErrReceiverOffline     = errors.New("receiver is offline")
	ErrReceiverBusy        = errors.New("participant already in a call")
	ErrCallNotFound        = errors.New("call not found")
	ErrNotCallParticipant  = errors.New("identity is not a call participant")
	ErrCallAlreadyAccepted = errors.New("call already accepted")
)

const ReasonPeerDisconnected = "peer_disconnected"

// activeCall is one ActiveCallIndex entry: the authoritative routing
// table row for a live call. It exists from initiate until a terminal
// transition and is the only state signaling relies on.
type activeCall struct {
	Call         *domain.Call
	CallerConn   core.ConnID
	ReceiverConn core.ConnID
	Status       domain.CallStatus // ringing or accepted
}

func (a *activeCall) has(cid core.ConnID) bool {
	return a.CallerConn == cid || a.ReceiverConn == cid
}

func (a *activeCall) peerOf(cid core.ConnID) core.ConnID {
	if cid == a.CallerConn {
		return a.ReceiverConn
	}
	return a.CallerConn
}

// CallCoordinator owns call lifecycle state and relays negotiation
// payloads between the two participant connections. Every Call record
// mutation and the persist that follows it run under one mutex, so
// transitions for a call id serialize fully: a loser cannot overwrite
// a terminal status the winner already stored. Only value snapshots of
// the record cross the lock boundary.
type CallCoordinator struct {
	mu       sync.Mutex
	active   map[domain.CallID]*activeCall
	registry *Registry
	store    core.CallStore
}

func NewCallCoordinator(registry *Registry, store core.CallStore) *CallCoordinator {
	return &CallCoordinator{
		active:   make(map[domain.CallID]*activeCall),
		registry: registry,
		store:    store,
	}
}

// Initiate starts a call from the connection callerConn toward any live
// connection of receiver (the most recently registered one rings).
func (c *CallCoordinator) Initiate(ctx context.Context, callerConn core.ConnID, caller, receiver domain.UserID, kind domain.CallKind, channel domain.ChannelID) (*domain.Call, error) {
	c.mu.Lock()
	receiverConns := c.registry.ConnectionsFor(receiver)
	if len(receiverConns) == 0 {
		c.mu.Unlock()
		return nil, ErrReceiverOffline
	}
	for _, a := range c.active {
		if a.Call.Caller == receiver || a.Call.Receiver == receiver ||
			a.Call.Caller == caller || a.Call.Receiver == caller {
			c.mu.Unlock()
			return nil, ErrReceiverBusy
		}
	}

	call := domain.NewCall(caller, receiver, kind, channel)
	entry := &activeCall{
		Call:         call,
		CallerConn:   callerConn,
		ReceiverConn: receiverConns[0],
		Status:       domain.CallRinging,
	}
	// Reserve the entry before persisting so a competing initiate
	// observes the busy state while the save is in flight.
	c.active[call.ID] = entry
	initiated := *call
	call.Status = domain.CallRinging
	ringing := *call
	receiverConn := entry.ReceiverConn
	c.mu.Unlock()

	if err := c.store.Save(ctx, &initiated); err != nil {
		c.mu.Lock()
		delete(c.active, call.ID)
		c.mu.Unlock()
		log.Error().Err(err).Str("module", "app.calls").Str("call", string(call.ID)).Msg("persist call failed")
		return nil, err
	}
	// No one else can transition the call until a notify below reveals
	// its id, so this update cannot race a terminal one.
	if err := c.store.Update(ctx, &ringing); err != nil {
		log.Error().Err(err).Str("module", "app.calls").Str("call", string(call.ID)).Msg("persist ringing status failed")
	}

	log.Info().Str("module", "app.calls").Str("call", string(call.ID)).Str("caller", string(caller)).Str("receiver", string(receiver)).Str("kind", string(kind)).Msg("call initiated")

	c.notify(callerConn, struct {
		Type string       `json:"type"`
		Call *domain.Call `json:"call"`
	}{"call:initiated", &initiated})
	c.notify(receiverConn, struct {
		Type string       `json:"type"`
		Call *domain.Call `json:"call"`
	}{"call:incoming", &initiated})
	return &ringing, nil
}

// Accept transitions a ringing call to accepted and stamps its start
// time. The index entry survives so negotiation keeps routing.
func (c *CallCoordinator) Accept(ctx context.Context, callID domain.CallID, by domain.UserID) error {
	c.mu.Lock()
	entry, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		return ErrCallNotFound
	}
	if by != entry.Call.Caller && by != entry.Call.Receiver {
		c.mu.Unlock()
		return ErrNotCallParticipant
	}
	if entry.Status == domain.CallAccepted {
		c.mu.Unlock()
		return ErrCallAlreadyAccepted
	}
	now := time.Now()
	entry.Status = domain.CallAccepted
	entry.Call.Status = domain.CallAccepted
	entry.Call.StartedAt = &now
	snapshot := *entry.Call
	callerConn, receiverConn := entry.CallerConn, entry.ReceiverConn
	if err := c.store.Update(ctx, &snapshot); err != nil {
		log.Error().Err(err).Str("module", "app.calls").Str("call", string(callID)).Msg("persist accept failed")
	}
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("by", string(by)).Msg("call accepted")
	event := struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"callId"`
	}{"call:accepted", callID}
	c.notify(callerConn, event)
	c.notify(receiverConn, event)
	return nil
}

// Reject tears the call down before it started. Only the caller is
// notified; rejecting an already-gone call is a no-op.
func (c *CallCoordinator) Reject(ctx context.Context, callID domain.CallID, by domain.UserID) error {
	c.mu.Lock()
	entry, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.active, callID)
	c.closeLocked(ctx, entry, domain.CallRejected, by)
	callerConn := entry.CallerConn
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("by", string(by)).Msg("call rejected")
	c.notify(callerConn, struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"callId"`
	}{"call:rejected", callID})
	return nil
}

// End terminates a call from either side. Idempotent: ending an absent
// call is a no-op.
func (c *CallCoordinator) End(ctx context.Context, callID domain.CallID, by domain.UserID) error {
	c.mu.Lock()
	entry, ok := c.active[callID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.active, callID)
	c.closeLocked(ctx, entry, domain.CallEnded, by)
	callerConn, receiverConn := entry.CallerConn, entry.ReceiverConn
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("by", string(by)).Msg("call ended")
	event := struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"callId"`
	}{"call:ended", callID}
	c.notify(callerConn, event)
	c.notify(receiverConn, event)
	return nil
}

// Relay forwards an already-built event to the peer of the sending
// connection. Absent index entries are a benign race with teardown, so
// the payload is dropped silently.
func (c *CallCoordinator) Relay(callID domain.CallID, from core.ConnID, event any) bool {
	c.mu.Lock()
	entry, ok := c.active[callID]
	if !ok || !entry.has(from) {
		c.mu.Unlock()
		return false
	}
	target := entry.peerOf(from)
	c.mu.Unlock()

	c.notify(target, event)
	return true
}

// SwitchKind flips a live call between audio and video, persists the
// new kind and tells the peer.
func (c *CallCoordinator) SwitchKind(ctx context.Context, callID domain.CallID, from core.ConnID, kind domain.CallKind) {
	c.mu.Lock()
	entry, ok := c.active[callID]
	if !ok || !entry.has(from) {
		c.mu.Unlock()
		return
	}
	entry.Call.Kind = kind
	snapshot := *entry.Call
	target := entry.peerOf(from)
	if err := c.store.Update(ctx, &snapshot); err != nil {
		log.Error().Err(err).Str("module", "app.calls").Str("call", string(callID)).Msg("persist kind switch failed")
	}
	c.mu.Unlock()

	c.notify(target, struct {
		Type   string          `json:"type"`
		CallID domain.CallID   `json:"callId"`
		Kind   domain.CallKind `json:"newType"`
	}{"call:type-switched", callID, kind})
}

// HandleDisconnect sweeps every live call the connection participates
// in, ending each with the owner as terminator and notifying only the
// surviving peer. Must run for every connection teardown.
func (c *CallCoordinator) HandleDisconnect(ctx context.Context, cid core.ConnID) {
	type sweptCall struct {
		id       domain.CallID
		by       domain.UserID
		survivor core.ConnID
	}

	c.mu.Lock()
	var swept []sweptCall
	for id, entry := range c.active {
		if !entry.has(cid) {
			continue
		}
		delete(c.active, id)
		by := entry.Call.Caller
		if cid == entry.ReceiverConn {
			by = entry.Call.Receiver
		}
		c.closeLocked(ctx, entry, domain.CallEnded, by)
		swept = append(swept, sweptCall{id: id, by: by, survivor: entry.peerOf(cid)})
		log.Info().Str("module", "app.calls").Str("call", string(id)).Str("cid", string(cid)).Str("survivor", string(entry.Call.Other(by))).Msg("call ended by disconnect")
	}
	c.mu.Unlock()

	for _, s := range swept {
		c.notify(s.survivor, struct {
			Type   string        `json:"type"`
			CallID domain.CallID `json:"callId"`
			Reason string        `json:"reason"`
		}{"call:ended", s.id, ReasonPeerDisconnected})
	}
}

// ActiveCount reports live index entries, for health endpoints.
func (c *CallCoordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// closeLocked stamps a terminal status and persists it. Caller holds
// c.mu; stamping and storing inside the lock keeps concurrent
// transitions from interleaving their writes.
func (c *CallCoordinator) closeLocked(ctx context.Context, entry *activeCall, status domain.CallStatus, by domain.UserID) {
	now := time.Now()
	entry.Call.Status = status
	entry.Call.EndedAt = &now
	entry.Call.EndedBy = by
	snapshot := *entry.Call
	if err := c.store.Update(ctx, &snapshot); err != nil {
		log.Error().Err(err).Str("module", "app.calls").Str("call", string(entry.Call.ID)).Msg("persist final status failed")
	}
}

func (c *CallCoordinator) notify(cid core.ConnID, v any) {
	sig, ok := c.registry.SignalFor(cid)
	if !ok {
		return
	}
	_ = core.Emit(sig, v)
}
