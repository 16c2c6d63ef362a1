package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/httputil"
)

// DefaultDeliveryTimeout bounds one broadcast pass.
const DefaultDeliveryTimeout = 5 * time.Second

// Stats is a snapshot of broadcaster counters. Delivered counts messages
// queued to a connection; Failed counts messages that could not be queued
// in time or were queued but failed to write.
type Stats struct {
	Connections int    `json:"connections"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Failed      uint64 `json:"failed"`
}

// Broadcaster fans events out to every registered connection. Per-connection
// failures tear that connection down and are never reported to the caller.
type Broadcaster struct {
	registry *Registry
	timeout  time.Duration
	log      zerolog.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewBroadcaster(registry *Registry, timeout time.Duration, log zerolog.Logger) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Broadcaster{
		registry: registry,
		timeout:  timeout,
		log:      log.With().Str("component", "ws_broadcaster").Logger(),
	}
}

// Publish delivers event to every connection in a registry snapshot and
// returns once each delivery has been queued, failed, or hit the pass
// deadline. A stalled connection delays Publish by at most the delivery
// timeout; other connections are served concurrently.
func (b *Broadcaster) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error().Err(err).Str("type", event.Type).Msg("failed to marshal event")
		return
	}
	b.published.Add(1)

	conns := b.registry.Snapshot()
	if len(conns) == 0 {
		b.log.Debug().Str("type", event.Type).Msg("no connections to notify")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var wg sync.WaitGroup
	var ok, failed atomic.Int64
	for _, c := range conns {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.deliver(ctx, c, data) {
				ok.Add(1)
			} else {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	b.log.Debug().
		Str("type", event.Type).
		Int("targets", len(conns)).
		Int64("delivered", ok.Load()).
		Int64("failed", failed.Load()).
		Msg("event broadcast")
}

func (b *Broadcaster) deliver(ctx context.Context, c *Connection, data []byte) bool {
	err := c.Deliver(ctx, data)
	switch {
	case err == nil:
		b.delivered.Add(1)
		return true
	case errors.Is(err, ErrConnectionClosed):
		// Torn down after the snapshot was taken; nothing left to do.
		return false
	case errors.Is(err, ErrDeliveryTimeout):
		b.failed.Add(1)
		if c.Close(websocket.ClosePolicyViolation, "delivery timeout") {
			c.log.Warn().Err(err).Msg("closing slow connection")
		}
		return false
	default:
		b.failed.Add(1)
		if c.Close(websocket.CloseInternalServerErr, "delivery failed") {
			c.log.Warn().Err(err).Msg("closing connection after delivery failure")
		}
		return false
	}
}

// Stats returns the current counters and registry size.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Connections: b.registry.Size(),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Failed:      b.failed.Load() + b.registry.WriteFailures(),
	}
}

// StatsHandler serves Stats as JSON.
func StatsHandler(b *Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, b.Stats())
	}
}
