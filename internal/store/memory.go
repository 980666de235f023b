// Package store holds in-memory implementations of the persistence and
// auth collaborator ports. Real deployments put a database and an auth
// service behind the same interfaces; these stand-ins serve development
// and tests.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrTokenInvalid = errors.New("token invalid")
)

type Memory struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*domain.Channel
	messages map[domain.MessageID]*domain.Message
	calls    map[domain.CallID]*domain.Call
	tokens   map[string]domain.UserID
}

func NewMemory() *Memory {
	return &Memory{
		channels: make(map[domain.ChannelID]*domain.Channel),
		messages: make(map[domain.MessageID]*domain.Message),
		calls:    make(map[domain.CallID]*domain.Call),
		tokens:   make(map[string]domain.UserID),
	}
}

// Seed helpers, used by cmd/server in debug mode and by tests.

func (s *Memory) AddChannel(ch *domain.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

func (s *Memory) AddToken(token string, uid domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = uid
}

// TokenVerifier

func (s *Memory) Verify(ctx context.Context, token string) (domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if uid, ok := s.tokens[token]; ok {
		return uid, nil
	}
	return "", ErrTokenInvalid
}

// ChannelDirectory

func (s *Memory) IsMember(ctx context.Context, channel domain.ChannelID, user domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channel]
	if !ok {
		return false, nil
	}
	return ch.HasMember(user), nil
}

// MessageStore

func (s *Memory) Save(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *Memory) Get(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Memory) Update(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return ErrNotFound
	}
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

// CallStore. Save/Update collide with the message methods, so the call
// side is exposed as a view over the same memory.

func (s *Memory) Calls() core.CallStore { return callStoreView{s} }

type callStoreView struct{ s *Memory }

func (v callStoreView) Save(ctx context.Context, c *domain.Call) error {
	return v.s.SaveCall(ctx, c)
}

func (v callStoreView) Update(ctx context.Context, c *domain.Call) error {
	return v.s.UpdateCall(ctx, c)
}

func (s *Memory) SaveCall(ctx context.Context, c *domain.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.calls[c.ID] = &cp
	return nil
}

func (s *Memory) UpdateCall(ctx context.Context, c *domain.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	s.calls[c.ID] = &cp
	return nil
}

func (s *Memory) GetCall(id domain.CallID) (*domain.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	if m.Envelope != nil {
		env := *m.Envelope
		cp.Envelope = &env
	}
	cp.Reactions = append([]domain.Reaction(nil), m.Reactions...)
	cp.EditHistory = append([]domain.Edit(nil), m.EditHistory...)
	cp.DeliveredTo = append([]domain.UserID(nil), m.DeliveredTo...)
	cp.ReadBy = append([]domain.ReadReceipt(nil), m.ReadBy...)
	return &cp
}
