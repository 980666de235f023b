package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/app"
	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

func (ctl *Controller) handleCallInitiate(
	ctx context.Context,
	cid core.ConnID,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type initiatePayload struct {
		Type       string `json:"type"`
		ReceiverID string `json:"receiverId"`
		CallType   string `json:"callType"`
		ChannelID  string `json:"channelId,omitempty"`
	}
	var p initiatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ReceiverID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad initiate payload")
		ctl.sendCallError(conn, "BAD_PAYLOAD", "bad initiate payload")
		return
	}
	kind := domain.CallKind(p.CallType)
	if kind != domain.CallAudio && kind != domain.CallVideo {
		kind = domain.CallAudio
	}

	_, err := ctl.Calls.Initiate(ctx, cid, uid, domain.UserID(p.ReceiverID), kind, domain.ChannelID(p.ChannelID))
	switch {
	case err == nil:
	case errors.Is(err, app.ErrReceiverOffline):
		ctl.sendCallError(conn, "USER_OFFLINE", "user is offline")
	case errors.Is(err, app.ErrReceiverBusy):
		ctl.sendJSON(conn, struct {
			Type       string `json:"type"`
			ReceiverID string `json:"receiverId"`
		}{"call:busy", p.ReceiverID})
	default:
		log.Error().Err(err).Str("module", "signal").Msg("call initiate")
		ctl.sendCallError(conn, "INITIATE_FAILED", "failed to initiate call")
	}
}

func (ctl *Controller) handleCallAccept(
	ctx context.Context,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type acceptPayload struct {
		Type   string `json:"type"`
		CallID string `json:"callId"`
	}
	var p acceptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad accept payload")
		return
	}

	err := ctl.Calls.Accept(ctx, domain.CallID(p.CallID), uid)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrCallNotFound):
		ctl.sendCallError(conn, "CALL_NOT_FOUND", "call not found")
	case errors.Is(err, app.ErrCallAlreadyAccepted):
		ctl.sendCallError(conn, "ALREADY_ACCEPTED", "call already accepted")
	case errors.Is(err, app.ErrNotCallParticipant):
		ctl.sendCallError(conn, "NOT_PARTICIPANT", "not a call participant")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("call accept")
		ctl.sendCallError(conn, "ACCEPT_FAILED", "failed to accept call")
	}
}

func (ctl *Controller) handleCallReject(
	ctx context.Context,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type rejectPayload struct {
		Type   string `json:"type"`
		CallID string `json:"callId"`
	}
	var p rejectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad reject payload")
		return
	}
	if err := ctl.Calls.Reject(ctx, domain.CallID(p.CallID), uid); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("call reject")
	}
}

func (ctl *Controller) handleCallEnd(
	ctx context.Context,
	uid domain.UserID,
	conn *WsConn,
	data []byte,
) {
	type endPayload struct {
		Type   string `json:"type"`
		CallID string `json:"callId"`
	}
	var p endPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad end payload")
		return
	}
	if err := ctl.Calls.End(ctx, domain.CallID(p.CallID), uid); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("call end")
	}
}

// handleCallOffer forwards an SDP offer to the peer. The description is
// decoded into the pion type so malformed payloads die here, not at the
// peer; the relay itself stays verbatim.
func (ctl *Controller) handleCallOffer(cid core.ConnID, data []byte) {
	type offerPayload struct {
		Type   string                    `json:"type"`
		CallID string                    `json:"callId"`
		Offer  webrtc.SessionDescription `json:"offer"`
	}
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		return
	}
	ctl.Calls.Relay(domain.CallID(p.CallID), cid, struct {
		Type   string                    `json:"type"`
		CallID string                    `json:"callId"`
		Offer  webrtc.SessionDescription `json:"offer"`
	}{"call:offer", p.CallID, p.Offer})
}

func (ctl *Controller) handleCallAnswer(cid core.ConnID, data []byte) {
	type answerPayload struct {
		Type   string                    `json:"type"`
		CallID string                    `json:"callId"`
		Answer webrtc.SessionDescription `json:"answer"`
	}
	var p answerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		return
	}
	ctl.Calls.Relay(domain.CallID(p.CallID), cid, struct {
		Type   string                    `json:"type"`
		CallID string                    `json:"callId"`
		Answer webrtc.SessionDescription `json:"answer"`
	}{"call:answer", p.CallID, p.Answer})
}

func (ctl *Controller) handleCallCandidate(cid core.ConnID, data []byte) {
	type candidatePayload struct {
		Type      string                  `json:"type"`
		CallID    string                  `json:"callId"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	ctl.Calls.Relay(domain.CallID(p.CallID), cid, struct {
		Type      string                  `json:"type"`
		CallID    string                  `json:"callId"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}{"call:ice-candidate", p.CallID, p.Candidate})
}

func (ctl *Controller) handleCallToggle(cid core.ConnID, uid domain.UserID, data []byte, outType string) {
	type togglePayload struct {
		Type    string `json:"type"`
		CallID  string `json:"callId"`
		Enabled bool   `json:"enabled"`
	}
	var p togglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad toggle payload")
		return
	}
	ctl.Calls.Relay(domain.CallID(p.CallID), cid, struct {
		Type    string        `json:"type"`
		Enabled bool          `json:"enabled"`
		UserID  domain.UserID `json:"userId"`
	}{outType, p.Enabled, uid})
}

func (ctl *Controller) handleScreenShare(cid core.ConnID, uid domain.UserID, data []byte, outType string) {
	type sharePayload struct {
		Type   string `json:"type"`
		CallID string `json:"callId"`
	}
	var p sharePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad screen share payload")
		return
	}
	ctl.Calls.Relay(domain.CallID(p.CallID), cid, struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"userId"`
	}{outType, uid})
}

func (ctl *Controller) handleCallSwitchType(ctx context.Context, cid core.ConnID, data []byte) {
	type switchPayload struct {
		Type    string `json:"type"`
		CallID  string `json:"callId"`
		NewType string `json:"newType"`
	}
	var p switchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad switch payload")
		return
	}
	kind := domain.CallKind(p.NewType)
	if kind != domain.CallAudio && kind != domain.CallVideo {
		return
	}
	ctl.Calls.SwitchKind(ctx, domain.CallID(p.CallID), cid, kind)
}
