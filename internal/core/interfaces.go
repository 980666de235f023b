package core

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
)

// Event is a marshaled outbound frame.
type Event []byte

// ConnID identifies one live transport session. One identity may hold
// several at once (multi-device).
type ConnID string

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Event) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}

// Emit marshals v and best-effort sends it. Delivery is fire-and-forget;
// a full send buffer is the receiver's problem, not the sender's.
func Emit(c SignalConnection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core").Msg("emit marshal")
		return err
	}
	return c.TrySend(Event(b))
}
