package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/app"
	"github.com/beacon-im/beacon/internal/domain"
)

func (ctl *Controller) handleMessageSend(
	ctx context.Context,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type sendPayload struct {
		Type      string `json:"type"`
		ChannelID string `json:"channelId"`
		Text      string `json:"text"`
		ReplyTo   string `json:"replyTo,omitempty"`
	}
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendError(conn, "BAD_PAYLOAD", "bad message payload")
		return
	}

	_, err := ctl.Relay.Send(ctx, uid, domain.ChannelID(p.ChannelID), p.Text, domain.MessageID(p.ReplyTo))
	switch {
	case err == nil:
	case errors.Is(err, app.ErrInvalidMessage):
		ctl.sendError(conn, "INVALID_MESSAGE", "invalid message")
	case errors.Is(err, app.ErrNotChannelMember):
		ctl.sendError(conn, "NOT_A_MEMBER", "unauthorized")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("message send")
		ctl.sendError(conn, "SEND_FAILED", "failed to send message")
	}
}

func (ctl *Controller) handleMessageReact(
	ctx context.Context,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type reactPayload struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
		Emoji     string `json:"emoji"`
	}
	var p reactPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad react payload")
		return
	}

	err := ctl.Relay.React(ctx, uid, domain.MessageID(p.MessageID), p.Emoji)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrMessageNotFound):
		ctl.sendError(conn, "MESSAGE_NOT_FOUND", "message not found")
	case errors.Is(err, app.ErrNotChannelMember):
		ctl.sendError(conn, "NOT_A_MEMBER", "unauthorized")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("message react")
		ctl.sendError(conn, "REACT_FAILED", "failed to set reaction")
	}
}

func (ctl *Controller) handleMessageEdit(
	ctx context.Context,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type editPayload struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
		Text      string `json:"text"`
	}
	var p editPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad edit payload")
		return
	}

	err := ctl.Relay.Edit(ctx, uid, domain.MessageID(p.MessageID), p.Text)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrMessageNotFound):
		ctl.sendError(conn, "MESSAGE_NOT_FOUND", "message not found")
	case errors.Is(err, app.ErrNotSender):
		ctl.sendError(conn, "NOT_SENDER", "only the sender can edit")
	case errors.Is(err, app.ErrInvalidMessage):
		ctl.sendError(conn, "INVALID_MESSAGE", "invalid message")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("message edit")
		ctl.sendError(conn, "EDIT_FAILED", "failed to edit message")
	}
}

// Receipt handlers mirror the client ack flow: unknown message ids are
// a benign race with history cleanup, so they fail silently.

func (ctl *Controller) handleMessageDelivered(
	ctx context.Context,
	uid domain.UserID,
	data []byte,
) {
	type deliveredPayload struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}
	var p deliveredPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad delivered payload")
		return
	}

	err := ctl.Relay.MarkDelivered(ctx, uid, domain.MessageID(p.MessageID))
	if err != nil && !errors.Is(err, app.ErrMessageNotFound) {
		log.Error().Err(err).Str("module", "signal").Msg("message delivered")
	}
}

func (ctl *Controller) handleMessageRead(
	ctx context.Context,
	uid domain.UserID,
	data []byte,
) {
	type readPayload struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}
	var p readPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad read payload")
		return
	}

	err := ctl.Relay.MarkRead(ctx, uid, domain.MessageID(p.MessageID))
	if err != nil && !errors.Is(err, app.ErrMessageNotFound) {
		log.Error().Err(err).Str("module", "signal").Msg("message read")
	}
}

// handleThreadReply routes a thread reply frame to its channel room
// unchanged; the thread itself is the collaborator's record.
func (ctl *Controller) handleThreadReply(data []byte) {
	type replyPayload struct {
		Type      string `json:"type"`
		ChannelID string `json:"channelId"`
	}
	var p replyPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad thread reply payload")
		return
	}
	ctl.Relay.ThreadReply(domain.ChannelID(p.ChannelID), data)
}

func (ctl *Controller) handleMessagePin(
	ctx context.Context,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
	pin bool,
) {
	type pinPayload struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}
	var p pinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad pin payload")
		return
	}

	var err error
	if pin {
		err = ctl.Relay.Pin(ctx, uid, domain.MessageID(p.MessageID))
	} else {
		err = ctl.Relay.Unpin(ctx, uid, domain.MessageID(p.MessageID))
	}
	switch {
	case err == nil:
	case errors.Is(err, app.ErrMessageNotFound):
		ctl.sendError(conn, "MESSAGE_NOT_FOUND", "message not found")
	case errors.Is(err, app.ErrNotChannelMember):
		ctl.sendError(conn, "NOT_A_MEMBER", "unauthorized")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("message pin")
		ctl.sendError(conn, "PIN_FAILED", "failed to update pin")
	}
}
