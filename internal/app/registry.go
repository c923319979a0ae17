package app

import (
	"hash/fnv"
	"sync"

	"github.com/dkeye/wsbridge/internal/core"
	"github.com/rs/zerolog/log"
)

const DefaultShards = 16

type registryShard struct {
	mu    sync.RWMutex
	procs map[core.ConnID]core.Processor
}

// Registry maps live connections to their processors.
// It is sharded by connection ID so lookups on busy servers rarely contend.
type Registry struct {
	shards []*registryShard
	mask   uint32
}

var _ core.Registry = (*Registry)(nil)

// NewRegistry rounds shards up to a power of two; non-positive means DefaultShards.
func NewRegistry(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	n := nextPowerOfTwo(uint32(shards))
	r := &Registry{shards: make([]*registryShard, n), mask: n - 1}
	for i := range r.shards {
		r.shards[i] = &registryShard{procs: make(map[core.ConnID]core.Processor)}
	}
	return r
}

func (r *Registry) shard(id core.ConnID) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()&r.mask]
}

func (r *Registry) Attach(id core.ConnID, p core.Processor) error {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.procs[id]; ok {
		return core.ErrAlreadyAttached
	}
	sh.procs[id] = p
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("attached processor")
	return nil
}

func (r *Registry) Lookup(id core.ConnID) (core.Processor, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.procs[id]
	return p, ok
}

// Detach removes and returns the processor. Only one concurrent caller gets ok.
func (r *Registry) Detach(id core.ConnID) (core.Processor, bool) {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	p, ok := sh.procs[id]
	if !ok {
		return nil, false
	}
	delete(sh.procs, id)
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("detached processor")
	return p, true
}

func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.procs)
		sh.mu.RUnlock()
	}
	return n
}

// Range calls fn for every attached connection until fn returns false.
// fn must not call back into the registry.
func (r *Registry) Range(fn func(id core.ConnID, p core.Processor) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id, p := range sh.procs {
			if !fn(id, p) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
