package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, cid core.ConnID, uid domain.UserID, c *WsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump closing")
		// Teardown runs for every disconnect, normal or abnormal: end
		// live calls first so the peer hears about it, then drop room
		// membership and presence.
		ctl.Calls.HandleDisconnect(context.Background(), cid)
		ctl.Rooms.LeaveAll(cid)
		ctl.Registry.Unregister(cid)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.ReadLimit)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
				return
			}
			ctl.handleEvent(ctx, cid, uid, c, data)
		}
	}
}

// handleEvent is the single dispatcher for the closed inbound event
// set. Every state transition funnels through here, never through
// scattered callbacks.
func (ctl *Controller) handleEvent(ctx context.Context, cid core.ConnID, uid domain.UserID, c *WsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "ping":
		ctl.sendJSON(c, struct {
			Type string `json:"type"`
		}{"pong"})
	case "channel:join":
		ctl.handleChannelJoin(ctx, cid, uid, c, data)
	case "channel:leave":
		ctl.handleChannelLeave(cid, c, data)
	case "typing":
		ctl.handleTyping(cid, uid, data, true)
	case "stop-typing":
		ctl.handleTyping(cid, uid, data, false)
	case "message:send":
		ctl.handleMessageSend(ctx, uid, c, data)
	case "message:react":
		ctl.handleMessageReact(ctx, uid, c, data)
	case "message:edit":
		ctl.handleMessageEdit(ctx, uid, c, data)
	case "message:pin":
		ctl.handleMessagePin(ctx, uid, c, data, true)
	case "message:unpin":
		ctl.handleMessagePin(ctx, uid, c, data, false)
	case "message:delivered":
		ctl.handleMessageDelivered(ctx, uid, data)
	case "message:read":
		ctl.handleMessageRead(ctx, uid, data)
	case "thread:reply":
		ctl.handleThreadReply(data)
	case "call:initiate":
		ctl.handleCallInitiate(ctx, cid, uid, c, data)
	case "call:accept":
		ctl.handleCallAccept(ctx, uid, c, data)
	case "call:reject":
		ctl.handleCallReject(ctx, uid, c, data)
	case "call:end":
		ctl.handleCallEnd(ctx, uid, c, data)
	case "call:offer":
		ctl.handleCallOffer(cid, data)
	case "call:answer":
		ctl.handleCallAnswer(cid, data)
	case "call:ice-candidate":
		ctl.handleCallCandidate(cid, data)
	case "call:toggle-video":
		ctl.handleCallToggle(cid, uid, data, "call:peer-video-toggle")
	case "call:toggle-audio":
		ctl.handleCallToggle(cid, uid, data, "call:peer-audio-toggle")
	case "call:screen-share-start":
		ctl.handleScreenShare(cid, uid, data, "call:peer-screen-share-start")
	case "call:screen-share-stop":
		ctl.handleScreenShare(cid, uid, data, "call:peer-screen-share-stop")
	case "call:switch-type":
		ctl.handleCallSwitchType(ctx, cid, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) sendJSON(c *WsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(core.Event(b))
}

func (ctl *Controller) sendError(c *WsConn, code, msg string) {
	ctl.sendJSON(c, struct {
		Type  string `json:"type"`
		Error string `json:"error"`
		Code  string `json:"code"`
	}{"error", msg, code})
}

func (ctl *Controller) sendCallError(c *WsConn, code, msg string) {
	ctl.sendJSON(c, struct {
		Type  string `json:"type"`
		Error string `json:"error"`
		Code  string `json:"code"`
	}{"call:error", msg, code})
}
