package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageID string

const MaxMessageLen = 2000

// Envelope is the at-rest ciphertext form of a message body.
// All three fields are hex encoded; iv and authTag are 16 bytes each.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
}

// Reaction is one (emoji, reactor) pair on a message. A user holds at
// most one reaction per message.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    UserID    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Edit keeps the previous envelope of an edited message.
type Edit struct {
	Envelope Envelope  `json:"envelope"`
	EditedAt time.Time `json:"editedAt"`
}

// ReadReceipt records when one identity first read a message.
type ReadReceipt struct {
	UserID UserID    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type Message struct {
	ID        MessageID `json:"id"`
	Sender    UserID    `json:"sender"`
	ChannelID ChannelID `json:"channelId"`

	// Envelope is set when the body is encrypted at rest; Text carries
	// a legacy plaintext body otherwise.
	Envelope  *Envelope `json:"envelope,omitempty"`
	Text      string    `json:"text,omitempty"`
	Encrypted bool      `json:"isEncrypted"`

	ReplyTo   MessageID `json:"replyTo,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Reactions   []Reaction `json:"reactions,omitempty"`
	EditHistory []Edit     `json:"-"`
	EditedAt    *time.Time `json:"editedAt,omitempty"`

	DeliveredTo []UserID      `json:"deliveredTo,omitempty"`
	ReadBy      []ReadReceipt `json:"readBy,omitempty"`

	Pinned   bool       `json:"isPinned"`
	PinnedBy UserID     `json:"pinnedBy,omitempty"`
	PinnedAt *time.Time `json:"pinnedAt,omitempty"`
}

func NewMessage(sender UserID, channel ChannelID, env Envelope, replyTo MessageID) *Message {
	return &Message{
		ID:        MessageID(uuid.NewString()),
		Sender:    sender,
		ChannelID: channel,
		Envelope:  &env,
		Encrypted: true,
		ReplyTo:   replyTo,
		Timestamp: time.Now(),
	}
}
