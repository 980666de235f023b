package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-im/beacon/internal/adapters/signal"
	"github.com/beacon-im/beacon/internal/app"
	"github.com/beacon-im/beacon/internal/config"
	"github.com/beacon-im/beacon/internal/crypto"
	"github.com/beacon-im/beacon/internal/domain"
	"github.com/beacon-im/beacon/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	codec, err := crypto.NewCodec(crypto.DefaultKeyHex)
	require.NoError(t, err)

	mem := store.NewMemory()
	mem.AddToken("alice-token", "alice")
	mem.AddChannel(&domain.Channel{ID: "general", Name: "general", Members: []domain.UserID{"alice"}})

	registry := app.NewRegistry()
	rooms := app.NewRoomManager()
	calls := app.NewCallCoordinator(registry, mem.Calls())
	relay := &app.MessageRelay{
		Registry: registry,
		Rooms:    rooms,
		Codec:    codec,
		Channels: mem,
		Messages: mem,
		Policy:   app.SimplePolicy{},
	}
	ctl := signal.NewController(registry, rooms, calls, relay)

	cfg := &config.Config{Mode: "release", StaticPath: t.TempDir()}
	srv := httptest.NewServer(SetupRouter(context.Background(), cfg, mem, ctl))
	t.Cleanup(srv.Close)
	return srv, mem
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	srv, _ := newTestServer(t)

	for name, req := range map[string]func() *http.Request{
		"no credential": func() *http.Request {
			r, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/ws", nil)
			return r
		},
		"bad bearer": func() *http.Request {
			r, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/ws", nil)
			r.Header.Set("Authorization", "Bearer wrong")
			return r
		},
		"bad query token": func() *http.Request {
			r, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/ws?token=wrong", nil)
			return r
		},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := http.DefaultClient.Do(req())
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

			var body struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
			assert.Equal(t, "AUTH_FAILED", body.Code)
		})
	}
}

// dial opens an authenticated websocket against the test server.
func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil drains frames until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string, v any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))
	for {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %q", typ)
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Type == typ {
			require.NoError(t, json.Unmarshal(raw, v))
			return
		}
	}
}

func TestWebsocketJoinAndSend(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv, "alice-token")

	// Connecting announces presence.
	var presence struct {
		Identities []domain.UserID `json:"identities"`
	}
	readUntil(t, ws, "presence:update", &presence)
	assert.Contains(t, presence.Identities, domain.UserID("alice"))

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":      "channel:join",
		"channelId": "general",
	}))
	var joined struct {
		ChannelID domain.ChannelID `json:"channelId"`
	}
	readUntil(t, ws, "channel:joined", &joined)
	assert.Equal(t, domain.ChannelID("general"), joined.ChannelID)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":      "message:send",
		"channelId": "general",
		"text":      "hello over the wire",
	}))
	var got struct {
		Message struct {
			Text   string        `json:"text"`
			Sender domain.UserID `json:"sender"`
		} `json:"message"`
	}
	readUntil(t, ws, "message:new", &got)
	assert.Equal(t, "hello over the wire", got.Message.Text)
	assert.Equal(t, domain.UserID("alice"), got.Message.Sender)
}

func TestWebsocketRejectsForeignChannel(t *testing.T) {
	srv, mem := newTestServer(t)
	mem.AddChannel(&domain.Channel{ID: "private", Name: "private", Members: []domain.UserID{"bob"}})
	ws := dial(t, srv, "alice-token")

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":      "channel:join",
		"channelId": "private",
	}))
	var fail struct {
		Code string `json:"code"`
	}
	readUntil(t, ws, "error", &fail)
	assert.Equal(t, "NOT_A_MEMBER", fail.Code)
}
