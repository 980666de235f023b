package app

import (
	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConn
)

// Policy decides what happens to a connection whose send buffer was
// full during a room broadcast.
type Policy interface {
	OnBackpressure(room domain.ChannelID, cid core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(room domain.ChannelID, cid core.ConnID) BackpressureAction {
	return KickConn
}
