package main

import (
	"sync"

	"github.com/gosuda/xstream"
)

// registry tracks every live Adapter so the diagnostics HTTP surface can
// enumerate pending pairings and open streams across all connections a
// running xstreamd has accepted or dialed.
type registry struct {
	mu       sync.Mutex
	adapters map[xstream.ConnID]*xstream.Adapter
}

func newRegistry() *registry {
	return &registry{adapters: make(map[xstream.ConnID]*xstream.Adapter)}
}

func (r *registry) add(id xstream.ConnID, a *xstream.Adapter) {
	r.mu.Lock()
	r.adapters[id] = a
	r.mu.Unlock()
}

func (r *registry) remove(id xstream.ConnID) {
	r.mu.Lock()
	delete(r.adapters, id)
	r.mu.Unlock()
}

func (r *registry) snapshotStreams() []xstream.StreamSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []xstream.StreamSnapshot
	for _, a := range r.adapters {
		out = append(out, a.Streams()...)
	}
	return out
}

func (r *registry) snapshotPairings() []xstream.PendingSubstream {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []xstream.PendingSubstream
	for _, a := range r.adapters {
		out = append(out, a.PendingPairings()...)
	}
	return out
}
