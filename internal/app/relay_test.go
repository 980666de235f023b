package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-im/beacon/internal/crypto"
	"github.com/beacon-im/beacon/internal/domain"
	"github.com/beacon-im/beacon/internal/store"
)

type relayFixture struct {
	relay    *MessageRelay
	registry *Registry
	rooms    *RoomManager
	mem      *store.Memory
	codec    *crypto.Codec
	alice    *testConn
	bob      *testConn
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	codec, err := crypto.NewCodec(crypto.DefaultKeyHex)
	require.NoError(t, err)

	mem := store.NewMemory()
	mem.AddChannel(&domain.Channel{
		ID:      "c1",
		Name:    "general",
		Members: []domain.UserID{"alice", "bob"},
	})

	registry := NewRegistry()
	rooms := NewRoomManager()
	f := &relayFixture{
		relay: &MessageRelay{
			Registry: registry,
			Rooms:    rooms,
			Codec:    codec,
			Channels: mem,
			Messages: mem,
			Policy:   SimplePolicy{},
		},
		registry: registry,
		rooms:    rooms,
		mem:      mem,
		codec:    codec,
		alice:    &testConn{},
		bob:      &testConn{},
	}
	registry.Register("alice", "conn-a", f.alice)
	registry.Register("bob", "conn-b", f.bob)
	rooms.Join("conn-a", "c1", f.alice)
	rooms.Join("conn-b", "c1", f.bob)
	f.alice.reset()
	f.bob.reset()
	return f
}

func TestSendRequiresMembership(t *testing.T) {
	f := newRelayFixture(t)
	intruder := &testConn{}
	f.registry.Register("mallory", "conn-m", intruder)

	_, err := f.relay.Send(context.Background(), "mallory", "c1", "hello", "")
	assert.ErrorIs(t, err, ErrNotChannelMember)

	// After the collaborator adds mallory, the same send succeeds.
	f.mem.AddChannel(&domain.Channel{
		ID:      "c1",
		Name:    "general",
		Members: []domain.UserID{"alice", "bob", "mallory"},
	})
	_, err = f.relay.Send(context.Background(), "mallory", "c1", "hello", "")
	assert.NoError(t, err)
}

func TestSendEncryptsAtRestBroadcastsPlaintext(t *testing.T) {
	f := newRelayFixture(t)

	msg, err := f.relay.Send(context.Background(), "alice", "c1", "  hello  ", "")
	require.NoError(t, err)

	// At rest: envelope only, no plaintext.
	stored, err := f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Encrypted)
	require.NotNil(t, stored.Envelope)
	assert.Empty(t, stored.Text)
	assert.NotContains(t, stored.Envelope.Ciphertext, "hello")
	assert.Equal(t, "hello", f.codec.Decrypt(*stored.Envelope), "trimmed before encryption")

	// On the wire: plaintext for every room member.
	var got struct {
		Message struct {
			Text   string        `json:"text"`
			Sender domain.UserID `json:"sender"`
		} `json:"message"`
	}
	f.alice.lastOfType(t, "message:new", &got)
	assert.Equal(t, "hello", got.Message.Text)
	f.bob.lastOfType(t, "message:new", &got)
	assert.Equal(t, "hello", got.Message.Text)
	assert.Equal(t, domain.UserID("alice"), got.Message.Sender)
}

func TestSendValidation(t *testing.T) {
	f := newRelayFixture(t)

	_, err := f.relay.Send(context.Background(), "alice", "c1", "   ", "")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	long := make([]byte, domain.MaxMessageLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.relay.Send(context.Background(), "alice", "c1", string(long), "")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSendWithReplyPreview(t *testing.T) {
	f := newRelayFixture(t)
	orig, err := f.relay.Send(context.Background(), "alice", "c1", "original", "")
	require.NoError(t, err)
	f.bob.reset()

	_, err = f.relay.Send(context.Background(), "bob", "c1", "reply", orig.ID)
	require.NoError(t, err)

	var got struct {
		Message struct {
			Text    string `json:"text"`
			ReplyTo *struct {
				ID   domain.MessageID `json:"id"`
				Text string           `json:"text"`
			} `json:"replyTo"`
		} `json:"message"`
	}
	f.bob.lastOfType(t, "message:new", &got)
	assert.Equal(t, "reply", got.Message.Text)
	require.NotNil(t, got.Message.ReplyTo)
	assert.Equal(t, orig.ID, got.Message.ReplyTo.ID)
	assert.Equal(t, "original", got.Message.ReplyTo.Text, "preview is decrypted")
}

func TestReactionReplacesPriorReaction(t *testing.T) {
	f := newRelayFixture(t)
	msg, err := f.relay.Send(context.Background(), "alice", "c1", "react to me", "")
	require.NoError(t, err)

	require.NoError(t, f.relay.React(context.Background(), "bob", msg.ID, "👍"))
	require.NoError(t, f.relay.React(context.Background(), "bob", msg.ID, "❤️"))

	stored, err := f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1, "one reaction per user per message")
	assert.Equal(t, "❤️", stored.Reactions[0].Emoji)
	assert.Equal(t, domain.UserID("bob"), stored.Reactions[0].UserID)

	// A second user's reaction coexists.
	require.NoError(t, f.relay.React(context.Background(), "alice", msg.ID, "🎉"))
	stored, err = f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Reactions, 2)

	var update struct {
		MessageID domain.MessageID  `json:"messageId"`
		Reactions []domain.Reaction `json:"reactions"`
	}
	f.bob.lastOfType(t, "message:reaction-update", &update)
	assert.Equal(t, msg.ID, update.MessageID)
	assert.Len(t, update.Reactions, 2)
}

func TestReactUnknownMessage(t *testing.T) {
	f := newRelayFixture(t)
	assert.ErrorIs(t, f.relay.React(context.Background(), "bob", "missing", "👍"), ErrMessageNotFound)
}

func TestEditOnlyBySender(t *testing.T) {
	f := newRelayFixture(t)
	msg, err := f.relay.Send(context.Background(), "alice", "c1", "first draft", "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.relay.Edit(context.Background(), "bob", msg.ID, "hijack"), ErrNotSender)

	require.NoError(t, f.relay.Edit(context.Background(), "alice", msg.ID, "second draft"))
	stored, err := f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "second draft", f.codec.Decrypt(*stored.Envelope))
	require.NotNil(t, stored.EditedAt)
	require.Len(t, stored.EditHistory, 1, "old envelope kept in history")
	assert.Equal(t, "first draft", f.codec.Decrypt(stored.EditHistory[0].Envelope))

	var got struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	f.bob.lastOfType(t, "message:edited", &got)
	assert.Equal(t, "second draft", got.Message.Text)
}

func TestPinUnpinBroadcasts(t *testing.T) {
	f := newRelayFixture(t)
	msg, err := f.relay.Send(context.Background(), "alice", "c1", "pin me", "")
	require.NoError(t, err)
	f.bob.reset()

	require.NoError(t, f.relay.Pin(context.Background(), "bob", msg.ID))
	stored, err := f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Pinned)
	assert.Equal(t, domain.UserID("bob"), stored.PinnedBy)
	require.NotNil(t, stored.PinnedAt)
	assert.Equal(t, 1, f.bob.countOfType(t, "message:pinned"))

	require.NoError(t, f.relay.Unpin(context.Background(), "bob", msg.ID))
	stored, err = f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Pinned)
	assert.Empty(t, stored.PinnedBy)
	assert.Nil(t, stored.PinnedAt)

	var unpinned struct {
		MessageID domain.MessageID `json:"messageId"`
	}
	f.bob.lastOfType(t, "message:unpinned", &unpinned)
	assert.Equal(t, msg.ID, unpinned.MessageID)
}

func TestDeliveryReceiptIdempotent(t *testing.T) {
	f := newRelayFixture(t)
	msg, err := f.relay.Send(context.Background(), "alice", "c1", "receipt me", "")
	require.NoError(t, err)
	f.alice.reset()

	require.NoError(t, f.relay.MarkDelivered(context.Background(), "bob", msg.ID))
	require.NoError(t, f.relay.MarkDelivered(context.Background(), "bob", msg.ID))

	stored, err := f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, stored.DeliveredTo)
	assert.Equal(t, 1, f.alice.countOfType(t, "message:delivery-update"), "repeat receipt emits nothing")

	var update struct {
		MessageID   domain.MessageID `json:"messageId"`
		DeliveredTo []domain.UserID  `json:"deliveredTo"`
	}
	f.alice.lastOfType(t, "message:delivery-update", &update)
	assert.Equal(t, msg.ID, update.MessageID)
	assert.Equal(t, []domain.UserID{"bob"}, update.DeliveredTo)
}

func TestReadReceiptsAccumulatePerUser(t *testing.T) {
	f := newRelayFixture(t)
	msg, err := f.relay.Send(context.Background(), "alice", "c1", "read me", "")
	require.NoError(t, err)
	f.alice.reset()

	require.NoError(t, f.relay.MarkRead(context.Background(), "bob", msg.ID))
	require.NoError(t, f.relay.MarkRead(context.Background(), "bob", msg.ID))
	require.NoError(t, f.relay.MarkRead(context.Background(), "alice", msg.ID))

	stored, err := f.mem.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.ReadBy, 2, "one receipt per reader")
	assert.Equal(t, domain.UserID("bob"), stored.ReadBy[0].UserID)
	assert.False(t, stored.ReadBy[0].ReadAt.IsZero())

	assert.Equal(t, 2, f.alice.countOfType(t, "message:read-update"))
	var update struct {
		MessageID domain.MessageID     `json:"messageId"`
		ReadBy    []domain.ReadReceipt `json:"readBy"`
	}
	f.alice.lastOfType(t, "message:read-update", &update)
	assert.Len(t, update.ReadBy, 2)
}

func TestReceiptsUnknownMessage(t *testing.T) {
	f := newRelayFixture(t)
	assert.ErrorIs(t, f.relay.MarkDelivered(context.Background(), "bob", "missing"), ErrMessageNotFound)
	assert.ErrorIs(t, f.relay.MarkRead(context.Background(), "bob", "missing"), ErrMessageNotFound)
}

func TestThreadReplyRelaysVerbatim(t *testing.T) {
	f := newRelayFixture(t)

	frame := []byte(`{"type":"thread:reply","channelId":"c1","threadId":"t9","text":"nested"}`)
	f.relay.ThreadReply("c1", frame)

	var got struct {
		ChannelID domain.ChannelID `json:"channelId"`
		ThreadID  string           `json:"threadId"`
		Text      string           `json:"text"`
	}
	f.alice.lastOfType(t, "thread:reply", &got)
	assert.Equal(t, domain.ChannelID("c1"), got.ChannelID)
	assert.Equal(t, "t9", got.ThreadID)
	assert.Equal(t, "nested", got.Text)
	f.bob.lastOfType(t, "thread:reply", &got)
	assert.Equal(t, "nested", got.Text, "the originator's room peers all hear the reply")
}

func TestTypingSkipsOriginator(t *testing.T) {
	f := newRelayFixture(t)

	f.relay.Typing("conn-a", "alice", "c1", true)
	assert.Empty(t, f.alice.types(t))
	assert.Equal(t, 1, f.bob.countOfType(t, "user:typing"))

	f.relay.Typing("conn-a", "alice", "c1", false)
	assert.Equal(t, 1, f.bob.countOfType(t, "user:stop-typing"))
}

func TestSlowConsumerIsKicked(t *testing.T) {
	f := newRelayFixture(t)
	slow := &testConn{full: true}
	f.registry.Register("carol", "conn-s", slow)
	f.rooms.Join("conn-s", "c1", slow)

	_, err := f.relay.Send(context.Background(), "alice", "c1", "flood", "")
	require.NoError(t, err)
	assert.True(t, slow.isClosed(), "kick policy closes the slow transport")
}
