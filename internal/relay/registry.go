package relay

import (
	"sync"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/metrics"
)

// Conn is one relay connection as seen by the router.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string
	// Send queues a frame without blocking. It returns false if the
	// connection is closed or its queue is full.
	Send(frame []byte) bool
}

// Registry maps device ids to subscribed connections, with a reverse
// index so a closing connection is removed from every set at once.
// Empty sets are pruned immediately.
//
// Thread Safety: all methods are safe for concurrent use. The lock is held
// only for map updates and snapshots; Send runs outside it.
type Registry struct {
	mu     sync.RWMutex
	subs   map[deviceid.ID]map[Conn]struct{}
	byConn map[Conn]map[deviceid.ID]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:   make(map[deviceid.ID]map[Conn]struct{}),
		byConn: make(map[Conn]map[deviceid.ID]struct{}),
	}
}

// Subscribe adds c to the subscribers of id. It reports whether the
// subscription is new; subscribing twice is a no-op.
func (r *Registry) Subscribe(id deviceid.ID, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[id]
	if !ok {
		set = make(map[Conn]struct{})
		r.subs[id] = set
	}
	if _, dup := set[c]; dup {
		return false
	}
	set[c] = struct{}{}

	ids, ok := r.byConn[c]
	if !ok {
		ids = make(map[deviceid.ID]struct{})
		r.byConn[c] = ids
	}
	ids[id] = struct{}{}

	metrics.RelaySubscribedDevices.Set(float64(len(r.subs)))
	return true
}

// Unsubscribe removes c from the subscribers of id.
func (r *Registry) Unsubscribe(id deviceid.ID, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[id]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	r.detach(id, c)
	metrics.RelaySubscribedDevices.Set(float64(len(r.subs)))
	return true
}

// Remove drops c from every set it belongs to and returns those ids.
func (r *Registry) Remove(c Conn) []deviceid.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byConn[c]
	out := make([]deviceid.ID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
		r.detach(id, c)
	}
	delete(r.byConn, c)

	metrics.RelaySubscribedDevices.Set(float64(len(r.subs)))
	return out
}

// detach removes one edge from both indexes. Caller holds r.mu.
func (r *Registry) detach(id deviceid.ID, c Conn) {
	if set, ok := r.subs[id]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.subs, id)
		}
	}
	if ids, ok := r.byConn[c]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byConn, c)
		}
	}
}

// Broadcast sends frame to every subscriber of the given ids. A
// connection subscribed to several of them receives the frame once.
// It returns the number of connections that accepted the frame.
func (r *Registry) Broadcast(frame []byte, ids ...deviceid.ID) int {
	targets := r.snapshot(ids)

	delivered := 0
	for _, c := range targets {
		if c.Send(frame) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) snapshot(ids []deviceid.ID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) == 1 {
		set := r.subs[ids[0]]
		out := make([]Conn, 0, len(set))
		for c := range set {
			out = append(out, c)
		}
		return out
	}

	seen := make(map[Conn]struct{})
	var out []Conn
	for _, id := range ids {
		for c := range r.subs[id] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Subscribers returns the number of connections subscribed to id.
func (r *Registry) Subscribers(id deviceid.ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[id])
}

// DeviceCount returns the number of ids with at least one subscriber.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Subscriptions returns the ids c is subscribed to.
func (r *Registry) Subscriptions(c Conn) []deviceid.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]deviceid.ID, 0, len(r.byConn[c]))
	for id := range r.byConn[c] {
		out = append(out, id)
	}
	return out
}
