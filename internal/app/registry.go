package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

type connEntry struct {
	User   domain.UserID
	Signal core.SignalConnection
}

// Registry maps each authenticated identity to its live connections and
// derives presence from them. An identity is online iff it holds at
// least one connection; the last Unregister removes it atomically.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*connEntry
	byUser map[domain.UserID][]core.ConnID // most recently registered first
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[core.ConnID]*connEntry),
		byUser: make(map[domain.UserID][]core.ConnID),
	}
}

// Register adds a connection to the identity's set and publishes the
// refreshed online list to every live connection.
func (r *Registry) Register(uid domain.UserID, cid core.ConnID, sig core.SignalConnection) {
	r.mu.Lock()
	r.conns[cid] = &connEntry{User: uid, Signal: sig}
	r.byUser[uid] = append([]core.ConnID{cid}, r.byUser[uid]...)
	first := len(r.byUser[uid]) == 1
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("user", string(uid)).Bool("came_online", first).Msg("registered connection")
	r.broadcastPresence()
}

// Unregister removes a connection, dropping the identity's presence
// entry when it was the last one. Safe to call twice for the same id.
func (r *Registry) Unregister(cid core.ConnID) {
	r.mu.Lock()
	e, ok := r.conns[cid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, cid)
	rest := r.byUser[e.User][:0]
	for _, id := range r.byUser[e.User] {
		if id != cid {
			rest = append(rest, id)
		}
	}
	if len(rest) == 0 {
		delete(r.byUser, e.User)
	} else {
		r.byUser[e.User] = rest
	}
	wentOffline := len(rest) == 0
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("user", string(e.User)).Bool("went_offline", wentOffline).Msg("unregistered connection")
	r.broadcastPresence()
}

// ConnectionsFor returns the identity's live connections, most recently
// registered first.
func (r *Registry) ConnectionsFor(uid domain.UserID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, len(r.byUser[uid]))
	copy(out, r.byUser[uid])
	return out
}

func (r *Registry) IsOnline(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[uid]) > 0
}

func (r *Registry) OnlineIdentities() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.byUser))
	for uid := range r.byUser {
		out = append(out, uid)
	}
	return out
}

// OwnerOf reports which identity holds a connection.
func (r *Registry) OwnerOf(cid core.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.User, true
	}
	return "", false
}

// SignalFor resolves a connection id to its transport.
func (r *Registry) SignalFor(cid core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Signal, true
	}
	return nil, false
}

// broadcastPresence pushes the full current online list to everyone.
// Full-list fan-out over incremental deltas keeps clients trivially
// consistent at moderate connection counts.
func (r *Registry) broadcastPresence() {
	r.mu.RLock()
	identities := make([]domain.UserID, 0, len(r.byUser))
	for uid := range r.byUser {
		identities = append(identities, uid)
	}
	targets := make([]core.SignalConnection, 0, len(r.conns))
	for _, e := range r.conns {
		targets = append(targets, e.Signal)
	}
	r.mu.RUnlock()

	event := struct {
		Type       string          `json:"type"`
		Identities []domain.UserID `json:"identities"`
	}{"presence:update", identities}
	for _, sig := range targets {
		_ = core.Emit(sig, event)
	}
}
