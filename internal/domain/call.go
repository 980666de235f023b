package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallAccepted  CallStatus = "accepted"
	CallRejected  CallStatus = "rejected"
	CallEnded     CallStatus = "ended"
)

// Call is the persisted record of one call between two identities.
// Lifecycle transitions are driven by the call coordinator; the record
// survives the in-memory routing entry.
type Call struct {
	ID        CallID     `json:"id"`
	Caller    UserID     `json:"caller"`
	Receiver  UserID     `json:"receiver"`
	Kind      CallKind   `json:"callType"`
	ChannelID ChannelID  `json:"channelId,omitempty"`
	Status    CallStatus `json:"status"`

	InitiatedAt time.Time  `json:"initiatedAt"`
	StartedAt   *time.Time `json:"startTime,omitempty"`
	EndedAt     *time.Time `json:"endTime,omitempty"`
	EndedBy     UserID     `json:"endedBy,omitempty"`
}

func NewCall(caller, receiver UserID, kind CallKind, channel ChannelID) *Call {
	return &Call{
		ID:          CallID(uuid.NewString()),
		Caller:      caller,
		Receiver:    receiver,
		Kind:        kind,
		ChannelID:   channel,
		Status:      CallInitiated,
		InitiatedAt: time.Now(),
	}
}

// Other returns the counterpart identity on the call.
func (c *Call) Other(uid UserID) UserID {
	if uid == c.Caller {
		return c.Receiver
	}
	return c.Caller
}
