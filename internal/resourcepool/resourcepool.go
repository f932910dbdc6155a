// Package resourcepool implements spec §4.9's Global Orchestrator: a
// registry of named, reservable capacity pools (SCRAPER, DISCOVERY, LLM,
// PROXY, HTTP_CONNECTION) shared across the batch run so no single
// subsystem can starve another of concurrency budget.
package resourcepool

import (
	"sync"

	"github.com/rotisserie/eris"
)

// Name identifies one of the fixed named pools.
type Name string

const (
	Scraper        Name = "SCRAPER"
	Discovery      Name = "DISCOVERY"
	LLM            Name = "LLM"
	Proxy          Name = "PROXY"
	HTTPConnection Name = "HTTP_CONNECTION"
)

// ErrExhausted is returned by Acquire when a pool has no available
// capacity.
var ErrExhausted = eris.New("resourcepool: capacity exhausted")

// pool tracks one named resource's capacity accounting.
type pool struct {
	maxCapacity  int
	currentUsage int
	reserved     int
}

func (p *pool) available() int {
	return p.maxCapacity - p.currentUsage - p.reserved
}

// Orchestrator is the registry of named pools, guarded by a single lock so
// reserve/acquire/release decisions across pools stay consistent.
type Orchestrator struct {
	mu    sync.Mutex
	pools map[Name]*pool
}

// New builds an Orchestrator with the given pool capacities. Pools not
// listed default to zero capacity (unavailable) until configured.
func New(capacities map[Name]int) *Orchestrator {
	o := &Orchestrator{pools: make(map[Name]*pool, len(capacities))}
	for name, cap := range capacities {
		o.pools[name] = &pool{maxCapacity: cap}
	}
	return o
}

func (o *Orchestrator) poolFor(name Name) *pool {
	p, ok := o.pools[name]
	if !ok {
		p = &pool{}
		o.pools[name] = p
	}
	return p
}

// Acquire claims n units of capacity from the named pool, failing
// immediately (non-blocking) if not enough is available.
func (o *Orchestrator) Acquire(name Name, n int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.poolFor(name)
	if p.available() < n {
		return ErrExhausted
	}
	p.currentUsage += n
	return nil
}

// Release returns n units of capacity to the named pool.
func (o *Orchestrator) Release(name Name, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.poolFor(name)
	p.currentUsage -= n
	if p.currentUsage < 0 {
		p.currentUsage = 0
	}
}

// Reserve sets aside n units of capacity so Acquire cannot claim them,
// used to carve out headroom for HIGH-priority work ahead of time.
func (o *Orchestrator) Reserve(name Name, n int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.poolFor(name)
	if p.available() < n {
		return ErrExhausted
	}
	p.reserved += n
	return nil
}

// Unreserve releases a prior reservation.
func (o *Orchestrator) Unreserve(name Name, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.poolFor(name)
	p.reserved -= n
	if p.reserved < 0 {
		p.reserved = 0
	}
}

// Stats is a point-in-time snapshot of one pool's accounting.
type Stats struct {
	MaxCapacity  int
	CurrentUsage int
	Reserved     int
	Available    int
}

// Snapshot returns the current accounting for every named pool.
func (o *Orchestrator) Snapshot() map[Name]Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[Name]Stats, len(o.pools))
	for name, p := range o.pools {
		out[name] = Stats{
			MaxCapacity:  p.maxCapacity,
			CurrentUsage: p.currentUsage,
			Reserved:     p.reserved,
			Available:    p.available(),
		}
	}
	return out
}
