// Package hub owns the cross-connection shared state: the set of live
// connections and the channel -> subscriber index. Subscribe, unsubscribe
// and remove mutate both structures under one lock so a connection can
// never appear subscribed in one and not the other.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/realtime/domain"
)

// Stream is the transport half of a connection. The gorilla adapter in the
// server package implements it; tests use in-memory fakes.
type Stream interface {
	// WriteMessage writes one text frame.
	WriteMessage(payload []byte) error
	// Ping sends a ping control frame.
	Ping(deadline time.Time) error
	// Close tears the transport down, unblocking any pending read.
	Close() error
}

// ConnID identifies a registered connection for its lifetime.
type ConnID string

type conn struct {
	id     ConnID
	stream Stream

	// writeMu serializes all writes to the stream (messages and pings).
	writeMu sync.Mutex

	identity    *domain.Identity
	subs        map[string]struct{}
	missedPongs int
}

// Registry tracks live connections, their identities and subscriptions.
// An instance is owned by the server process and injected into the router
// and ingest pipeline.
type Registry struct {
	logger *logger.Logger

	mu       sync.RWMutex
	conns    map[ConnID]*conn
	channels map[string]map[ConnID]*conn
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		logger:   log,
		conns:    make(map[ConnID]*conn),
		channels: make(map[string]map[ConnID]*conn),
	}
}

// Register wraps a new stream with an empty subscription set and an
// unauthenticated identity.
func (r *Registry) Register(stream Stream) ConnID {
	id := ConnID(uuid.NewString())

	r.mu.Lock()
	r.conns[id] = &conn{
		id:     id,
		stream: stream,
		subs:   make(map[string]struct{}),
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info(context.Background(), "conn_registered", "Connection registered",
		map[string]any{"connection_id": string(id), "total_connections": total})
	return id
}

// Authenticate records the identity for a connection. The registry does not
// verify anything; verification happened upstream. Unknown ids are a no-op
// (the connection already closed).
func (r *Registry) Authenticate(id ConnID, identity domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return
	}
	c.identity = &identity
}

// Identity returns the recorded identity, if one was attached.
func (r *Registry) Identity(id ConnID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok || c.identity == nil {
		return domain.Identity{}, false
	}
	return *c.identity, true
}

// Subscribe adds the channel to the connection's set and the connection to
// the channel index, atomically.
func (r *Registry) Subscribe(id ConnID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return
	}
	c.subs[channel] = struct{}{}
	set, ok := r.channels[channel]
	if !ok {
		set = make(map[ConnID]*conn)
		r.channels[channel] = set
	}
	set[id] = c
}

// Unsubscribe removes the channel from both structures. Empty channel sets
// are pruned lazily; a channel is never a materialized entity.
func (r *Registry) Unsubscribe(id ConnID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return
	}
	delete(c.subs, channel)
	if set, ok := r.channels[channel]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.channels, channel)
		}
	}
}

// Subscriptions returns the connection's current channel set.
func (r *Registry) Subscriptions(id ConnID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	subs := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		subs = append(subs, ch)
	}
	return subs
}

// Remove drops the connection from the registry and from every channel it
// subscribed to, then closes its stream. Idempotent.
func (r *Registry) Remove(id ConnID) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	for channel := range c.subs {
		if set, ok := r.channels[channel]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.channels, channel)
			}
		}
	}
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()

	_ = c.stream.Close()
	r.logger.Info(context.Background(), "conn_removed", "Connection removed",
		map[string]any{"connection_id": string(id), "total_connections": total})
}

// Send delivers one serialized envelope to a connection. A write failure is
// an implicit disconnect: the connection is removed and the error returned.
func (r *Registry) Send(id ConnID, payload []byte) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return nil // already gone; nothing to deliver to
	}

	c.writeMu.Lock()
	err := c.stream.WriteMessage(payload)
	c.writeMu.Unlock()

	if err != nil {
		r.logger.Debug(context.Background(), "conn_send_failed", "Write failed; treating as disconnect",
			map[string]any{"connection_id": string(id), "error": err.Error()})
		r.Remove(id)
		return err
	}
	return nil
}

// Subscribers snapshots the current subscriber set of a channel.
func (r *Registry) Subscribers(channel string) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.channels[channel]
	if !ok {
		return nil
	}
	ids := make([]ConnID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// ConnIDs snapshots all registered connection ids.
func (r *Registry) ConnIDs() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ----- Liveness bookkeeping (driven by the supervisor) -----

// Touch resets the missed-pong counter; called when a pong arrives.
func (r *Registry) Touch(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.missedPongs = 0
	}
}

// MissedPongs reports how many pings have gone unanswered.
func (r *Registry) MissedPongs(id ConnID) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return 0, false
	}
	return c.missedPongs, true
}

// Ping sends a ping control frame and counts it as outstanding until the
// next Touch.
func (r *Registry) Ping(id ConnID, deadline time.Time) error {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		c.missedPongs++
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.stream.Ping(deadline)
}
