package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/crypto"
	"github.com/beacon-im/beacon/internal/domain"
)

var (
	ErrNotChannelMember = errors.New("sender is not a channel member")
	ErrInvalidMessage   = errors.New("message text is empty or too long")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotSender        = errors.New("only the sender may edit a message")
)

// MessageRelay orchestrates the message path: authorize against the
// channel collaborator, encrypt, persist, decrypt for the outgoing
// payload, publish through the room multiplexer. The server never
// forwards ciphertext to clients; encryption is at rest only.
type MessageRelay struct {
	Registry *Registry
	Rooms    *RoomManager
	Codec    *crypto.Codec
	Channels core.ChannelDirectory
	Messages core.MessageStore
	Policy   Policy
}

// messageDTO is the outbound view of a message: body decrypted, the
// envelope never leaves the server.
type messageDTO struct {
	ID        domain.MessageID  `json:"id"`
	Sender    domain.UserID     `json:"sender"`
	ChannelID domain.ChannelID  `json:"channelId"`
	Text      string            `json:"text"`
	ReplyTo   *replyPreview     `json:"replyTo,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Reactions []domain.Reaction `json:"reactions"`
	EditedAt  *time.Time        `json:"editedAt,omitempty"`
	Pinned    bool              `json:"isPinned"`
	PinnedBy  domain.UserID     `json:"pinnedBy,omitempty"`
}

type replyPreview struct {
	ID     domain.MessageID `json:"id"`
	Sender domain.UserID    `json:"sender"`
	Text   string           `json:"text"`
}

func (rl *MessageRelay) plaintext(m *domain.Message) string {
	if m.Encrypted && m.Envelope != nil {
		return rl.Codec.Decrypt(*m.Envelope)
	}
	return m.Text
}

func (rl *MessageRelay) dto(ctx context.Context, m *domain.Message) messageDTO {
	d := messageDTO{
		ID:        m.ID,
		Sender:    m.Sender,
		ChannelID: m.ChannelID,
		Text:      rl.plaintext(m),
		Timestamp: m.Timestamp,
		Reactions: m.Reactions,
		EditedAt:  m.EditedAt,
		Pinned:    m.Pinned,
		PinnedBy:  m.PinnedBy,
	}
	if d.Reactions == nil {
		d.Reactions = []domain.Reaction{}
	}
	if m.ReplyTo != "" {
		// Best effort: a missing referenced message just drops the preview.
		if ref, err := rl.Messages.Get(ctx, m.ReplyTo); err == nil {
			d.ReplyTo = &replyPreview{ID: ref.ID, Sender: ref.Sender, Text: rl.plaintext(ref)}
		}
	}
	return d
}

// Authorize checks channel membership through the external collaborator.
// The room multiplexer does no checks of its own, so both join and send
// funnel through this.
func (rl *MessageRelay) Authorize(ctx context.Context, uid domain.UserID, channel domain.ChannelID) error {
	ok, err := rl.Channels.IsMember(ctx, channel, uid)
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if !ok {
		return ErrNotChannelMember
	}
	return nil
}

// Send encrypts, persists and broadcasts a new channel message.
func (rl *MessageRelay) Send(ctx context.Context, sender domain.UserID, channel domain.ChannelID, text string, replyTo domain.MessageID) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > domain.MaxMessageLen {
		return nil, ErrInvalidMessage
	}
	if err := rl.Authorize(ctx, sender, channel); err != nil {
		return nil, err
	}

	env, err := rl.Codec.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	msg := domain.NewMessage(sender, channel, env, replyTo)
	if err := rl.Messages.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	log.Info().Str("module", "app.relay").Str("message", string(msg.ID)).Str("channel", string(channel)).Str("sender", string(sender)).Msg("message sent")
	rl.publish(channel, struct {
		Type    string     `json:"type"`
		Message messageDTO `json:"message"`
	}{"message:new", rl.dto(ctx, msg)})
	return msg, nil
}

// React sets the user's reaction on a message. One reaction per user
// per message: a new emoji replaces any prior one from the same user.
func (rl *MessageRelay) React(ctx context.Context, uid domain.UserID, messageID domain.MessageID, emoji string) error {
	if emoji == "" {
		return ErrInvalidMessage
	}
	msg, err := rl.Messages.Get(ctx, messageID)
	if err != nil {
		return ErrMessageNotFound
	}
	if err := rl.Authorize(ctx, uid, msg.ChannelID); err != nil {
		return err
	}

	kept := msg.Reactions[:0]
	for _, r := range msg.Reactions {
		if r.UserID != uid {
			kept = append(kept, r)
		}
	}
	msg.Reactions = append(kept, domain.Reaction{Emoji: emoji, UserID: uid, CreatedAt: time.Now()})
	if err := rl.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("persist reaction: %w", err)
	}

	rl.publish(msg.ChannelID, struct {
		Type      string            `json:"type"`
		MessageID domain.MessageID  `json:"messageId"`
		Reactions []domain.Reaction `json:"reactions"`
	}{"message:reaction-update", messageID, msg.Reactions})
	return nil
}

// Edit replaces the body of the sender's own message, keeping the old
// envelope in the edit history.
func (rl *MessageRelay) Edit(ctx context.Context, uid domain.UserID, messageID domain.MessageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > domain.MaxMessageLen {
		return ErrInvalidMessage
	}
	msg, err := rl.Messages.Get(ctx, messageID)
	if err != nil {
		return ErrMessageNotFound
	}
	if msg.Sender != uid {
		return ErrNotSender
	}

	now := time.Now()
	if msg.Envelope != nil {
		msg.EditHistory = append(msg.EditHistory, domain.Edit{Envelope: *msg.Envelope, EditedAt: now})
	}
	env, err := rl.Codec.Encrypt(text)
	if err != nil {
		return fmt.Errorf("encrypt edit: %w", err)
	}
	msg.Envelope = &env
	msg.Encrypted = true
	msg.Text = ""
	msg.EditedAt = &now
	if err := rl.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("persist edit: %w", err)
	}

	rl.publish(msg.ChannelID, struct {
		Type    string     `json:"type"`
		Message messageDTO `json:"message"`
	}{"message:edited", rl.dto(ctx, msg)})
	return nil
}

// Pin marks a message pinned and announces it to the room.
func (rl *MessageRelay) Pin(ctx context.Context, uid domain.UserID, messageID domain.MessageID) error {
	msg, err := rl.Messages.Get(ctx, messageID)
	if err != nil {
		return ErrMessageNotFound
	}
	if err := rl.Authorize(ctx, uid, msg.ChannelID); err != nil {
		return err
	}

	now := time.Now()
	msg.Pinned = true
	msg.PinnedBy = uid
	msg.PinnedAt = &now
	if err := rl.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("persist pin: %w", err)
	}

	rl.publish(msg.ChannelID, struct {
		Type    string     `json:"type"`
		Message messageDTO `json:"message"`
	}{"message:pinned", rl.dto(ctx, msg)})
	return nil
}

func (rl *MessageRelay) Unpin(ctx context.Context, uid domain.UserID, messageID domain.MessageID) error {
	msg, err := rl.Messages.Get(ctx, messageID)
	if err != nil {
		return ErrMessageNotFound
	}
	if err := rl.Authorize(ctx, uid, msg.ChannelID); err != nil {
		return err
	}

	msg.Pinned = false
	msg.PinnedBy = ""
	msg.PinnedAt = nil
	if err := rl.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("persist unpin: %w", err)
	}

	rl.publish(msg.ChannelID, struct {
		Type      string           `json:"type"`
		MessageID domain.MessageID `json:"messageId"`
	}{"message:unpinned", messageID})
	return nil
}

// MarkDelivered records that the identity's client received the
// message and announces the updated receipt set to the room.
// Idempotent: a repeat receipt changes nothing and emits nothing.
func (rl *MessageRelay) MarkDelivered(ctx context.Context, uid domain.UserID, messageID domain.MessageID) error {
	msg, err := rl.Messages.Get(ctx, messageID)
	if err != nil {
		return ErrMessageNotFound
	}
	for _, id := range msg.DeliveredTo {
		if id == uid {
			return nil
		}
	}
	msg.DeliveredTo = append(msg.DeliveredTo, uid)
	if err := rl.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("persist delivery receipt: %w", err)
	}

	rl.publish(msg.ChannelID, struct {
		Type        string           `json:"type"`
		MessageID   domain.MessageID `json:"messageId"`
		DeliveredTo []domain.UserID  `json:"deliveredTo"`
	}{"message:delivery-update", messageID, msg.DeliveredTo})
	return nil
}

// MarkRead stamps the identity's first read of a message. Like
// delivery, repeats are silent.
func (rl *MessageRelay) MarkRead(ctx context.Context, uid domain.UserID, messageID domain.MessageID) error {
	msg, err := rl.Messages.Get(ctx, messageID)
	if err != nil {
		return ErrMessageNotFound
	}
	for _, r := range msg.ReadBy {
		if r.UserID == uid {
			return nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, domain.ReadReceipt{UserID: uid, ReadAt: time.Now()})
	if err := rl.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("persist read receipt: %w", err)
	}

	rl.publish(msg.ChannelID, struct {
		Type      string               `json:"type"`
		MessageID domain.MessageID     `json:"messageId"`
		ReadBy    []domain.ReadReceipt `json:"readBy"`
	}{"message:read-update", messageID, msg.ReadBy})
	return nil
}

// ThreadReply fans a thread reply frame out to its channel room
// verbatim. Thread content lives with the external collaborator; the
// relay only routes the event.
func (rl *MessageRelay) ThreadReply(channel domain.ChannelID, frame []byte) {
	rl.applyPolicy(channel, rl.Rooms.Broadcast(channel, json.RawMessage(frame)))
}

// Typing relays an ephemeral typing indicator to everyone in the room
// except the originator.
func (rl *MessageRelay) Typing(cid core.ConnID, uid domain.UserID, channel domain.ChannelID, active bool) {
	typ := "user:typing"
	if !active {
		typ = "user:stop-typing"
	}
	res := rl.Rooms.BroadcastExcept(channel, struct {
		Type      string           `json:"type"`
		UserID    domain.UserID    `json:"userId"`
		ChannelID domain.ChannelID `json:"channelId"`
	}{typ, uid, channel}, cid)
	rl.applyPolicy(channel, res)
}

func (rl *MessageRelay) publish(channel domain.ChannelID, v any) {
	rl.applyPolicy(channel, rl.Rooms.Broadcast(channel, v))
}

// applyPolicy handles slow consumers reported by a broadcast. Kicking a
// connection just closes its transport; the read pump's teardown path
// does the actual cleanup.
func (rl *MessageRelay) applyPolicy(channel domain.ChannelID, res core.PublishResult) {
	if rl.Policy == nil {
		return
	}
	for _, cid := range res.Dropped {
		switch rl.Policy.OnBackpressure(channel, cid) {
		case KickConn:
			log.Warn().Str("module", "app.relay").Str("cid", string(cid)).Str("room", string(channel)).Msg("kicking slow consumer")
			if sig, ok := rl.Registry.SignalFor(cid); ok {
				sig.Close()
			}
		case DropFrame, NoAction:
		}
	}
}
