package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/app"
	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

func (ctl *Controller) handleChannelJoin(
	ctx context.Context,
	cid core.ConnID,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type joinPayload struct {
		Type      string `json:"type"`
		ChannelID string `json:"channelId"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "BAD_PAYLOAD", "bad join payload")
		return
	}

	channel := domain.ChannelID(p.ChannelID)
	// Room membership is not authorization; the membership check runs
	// here, before the multiplexer ever sees the connection.
	if err := ctl.Relay.Authorize(ctx, uid, channel); err != nil {
		if errors.Is(err, app.ErrNotChannelMember) {
			ctl.sendError(conn, "NOT_A_MEMBER", "not a channel member")
			return
		}
		ctl.sendError(conn, "JOIN_FAILED", "failed to join channel")
		return
	}

	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("channel", p.ChannelID).Msg("channel join")
	ctl.Rooms.Join(cid, channel, conn)
	ctl.sendJSON(conn, struct {
		Type      string           `json:"type"`
		ChannelID domain.ChannelID `json:"channelId"`
		Count     int              `json:"count"`
	}{"channel:joined", channel, ctl.Rooms.MemberCount(channel)})
}

func (ctl *Controller) handleChannelLeave(
	cid core.ConnID,
	conn *WsConn,
	data []byte,
) {
	type leavePayload struct {
		Type      string `json:"type"`
		ChannelID string `json:"channelId"`
	}
	var p leavePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave payload")
		return
	}

	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("channel", p.ChannelID).Msg("channel leave")
	ctl.Rooms.Leave(cid, domain.ChannelID(p.ChannelID))
	ctl.sendJSON(conn, struct {
		Type      string `json:"type"`
		ChannelID string `json:"channelId"`
	}{"channel:left", p.ChannelID})
}

func (ctl *Controller) handleTyping(
	cid core.ConnID,
	uid domain.UserID,
	data []byte,
	active bool,
) {
	type typingPayload struct {
		Type      string `json:"type"`
		ChannelID string `json:"channelId"`
	}
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		return
	}
	ctl.Relay.Typing(cid, uid, domain.ChannelID(p.ChannelID), active)
}
