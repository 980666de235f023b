package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beacon-im/beacon/internal/core"
)

// testConn records everything emitted to it and can simulate a full
// send buffer or a closed transport.
type testConn struct {
	mu     sync.Mutex
	events []core.Event
	closed bool
	full   bool
}

func (c *testConn) TrySend(e core.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.events = append(c.events, e)
	return nil
}

func (c *testConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// types lists the "type" field of every recorded event, in order.
func (c *testConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(e, &env))
		out = append(out, env.Type)
	}
	return out
}

// lastOfType decodes the most recent event with the given type into v.
func (c *testConn) lastOfType(t *testing.T, typ string, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(c.events[i], &env))
		if env.Type == typ {
			require.NoError(t, json.Unmarshal(c.events[i], v))
			return
		}
	}
	t.Fatalf("no event of type %q recorded", typ)
}

func (c *testConn) countOfType(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, typ2 := range c.types(t) {
		if typ2 == typ {
			n++
		}
	}
	return n
}

func (c *testConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
