// Package eventbus fans the Refill Supervisor's state-change events out to
// operator clients: a last-event cache for "GET /api/state" polling and a
// websocket stream for "GET /ws/events", optionally mirrored through Redis
// pub/sub so more than one operator-surface replica can serve the same
// nozzle. Grounded on the teacher's internal/gateway Hub/Client pair,
// trimmed from per-client (symbol, timeframe) subscription filtering down
// to a single broadcast channel — every operator client wants every
// transition for its one nozzle, there is no per-client filtering concern
// here.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/fleetops/refilld/internal/model"
)

// redisChannel is the pub/sub channel used for cross-replica fan-out.
const redisChannel = "refilld:events"

// Bus implements model.EventSink and broadcasts every published event to
// all connected websocket clients, optionally mirroring it through Redis
// so sibling processes serving the same nozzle stay in sync.
type Bus struct {
	rdb *goredis.Client
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  model.StateChangeEvent
	haveAny bool
	seq     int64
}

// New constructs a Bus. rdb may be nil, in which case fan-out is local to
// this process only.
func New(rdb *goredis.Client, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		rdb:     rdb,
		log:     log,
		clients: make(map[*Client]bool),
	}
}

// Publish implements model.EventSink. Called from the supervisor's own
// goroutine on every transition; never blocks on client I/O.
func (b *Bus) Publish(evt model.StateChangeEvent) {
	b.mu.Lock()
	b.latest = evt
	b.haveAny = true
	b.seq++
	seq := b.seq
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	envelope, err := json.Marshal(envelopeOf(evt, seq))
	if err != nil {
		b.log.Error("eventbus: marshal event", "err", err)
		return
	}

	for _, c := range clients {
		select {
		case c.send <- envelope:
		default:
			b.log.Warn("eventbus: client send buffer full, dropping")
		}
	}

	if b.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.rdb.Publish(ctx, redisChannel, envelope).Err(); err != nil {
			b.log.Warn("eventbus: redis publish failed", "err", err)
		}
		cancel()
	}
}

// Latest returns the most recent event and whether one has ever been
// published, for GET /api/state's "last known" fallback before the first
// transition of a process's lifetime.
func (b *Bus) Latest() (model.StateChangeEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.haveAny
}

func (b *Bus) addClient(c *Client) {
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
}

func (b *Bus) removeClient(c *Client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	close(c.send)
}

func (b *Bus) clientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// eventEnvelope is the wire shape pushed to websocket clients and through
// Redis pub/sub.
type eventEnvelope struct {
	Seq         int64               `json:"seq"`
	State       model.State         `json:"state"`
	PrevState   model.State         `json:"previousState"`
	Reason      string              `json:"reason"`
	Timestamp   int64               `json:"timestamp"`
	Transaction *model.Transaction  `json:"transaction"`
	Vehicle     *model.VehicleRecord `json:"vehicle"`
	Meter       model.MeterSnapshot `json:"meter"`
	Message     string              `json:"message"`
}

func envelopeOf(evt model.StateChangeEvent, seq int64) eventEnvelope {
	return eventEnvelope{
		Seq:         seq,
		State:       evt.Transition.To,
		PrevState:   evt.Transition.From,
		Reason:      evt.Transition.Reason,
		Timestamp:   evt.Transition.Timestamp,
		Transaction: evt.Transaction,
		Vehicle:     evt.Vehicle,
		Meter:       evt.Meter,
		Message:     evt.Message,
	}
}

// Subscribe starts the Redis pattern subscription that mirrors sibling
// replicas' published events into this process's local websocket clients.
// No-op if rdb is nil. Mirrors the teacher's Hub.Run/runPatternSubscribe
// shape, collapsed to one fixed channel instead of a multi-channel
// candle/indicator fan-out.
func (b *Bus) Subscribe(ctx context.Context) {
	if b.rdb == nil {
		return
	}
	pubsub := b.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.mu.RLock()
			clients := make([]*Client, 0, len(b.clients))
			for c := range b.clients {
				clients = append(clients, c)
			}
			b.mu.RUnlock()
			payload := []byte(msg.Payload)
			for _, c := range clients {
				select {
				case c.send <- payload:
				default:
				}
			}
		}
	}
}
