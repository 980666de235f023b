package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/app"
	"github.com/beacon-im/beacon/internal/core"
	"github.com/beacon-im/beacon/internal/domain"
)

// Controller terminates websocket connections and routes the inbound
// event set into the app components. All dependencies are injected; it
// holds no state of its own beyond the open sockets.
type Controller struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Calls    *app.CallCoordinator
	Relay    *app.MessageRelay

	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewController(registry *app.Registry, rooms *app.RoomManager, calls *app.CallCoordinator, relay *app.MessageRelay) *Controller {
	return &Controller{
		Registry:   registry,
		Rooms:      rooms,
		Calls:      calls,
		Relay:      relay,
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		SendBuffer: 32,
	}
}

type WsConn struct {
	conn *websocket.Conn
	send chan core.Event

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(e core.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- e:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades an authenticated request. The bearer credential was
// already verified by the router middleware; a request that reaches
// here carries a trusted identity claim.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("user_id"))
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "AUTH_FAILED"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	cid := core.ConnID(uuid.NewString())
	conn := &WsConn{
		conn: ws,
		send: make(chan core.Event, ctl.SendBuffer),
	}
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("user", string(uid)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Register(uid, cid, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cid, uid, conn)
}
