// Package symbol provides an in-memory arena of symbols shared between the
// indexing pipeline and the query path. Symbols are addressed by a
// generation-checked handle so a stale reference taken before a file was
// re-indexed can never resolve to the wrong symbol.
package symbol

import (
	"sync"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Handle addresses a slot in the arena. The generation must match the slot's
// current generation for the handle to resolve; handles held across a
// re-index of the owning file dangle safely instead of aliasing new data.
type Handle struct {
	index      uint32
	generation uint32
}

type slot struct {
	generation uint32
	live       bool
	sym        types.Symbol
}

// Arena stores symbols in contiguous slots with generation counters, an
// ID index for resolving search hits, and a sharded name map for lookup.
// The shard count is fixed at construction.
type Arena struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	byID  map[types.SymbolID]Handle

	shards []nameShard
}

type nameShard struct {
	mu      sync.RWMutex
	entries map[string][]Handle
}

// NewArena creates an arena with the given number of name-map shards.
// A non-positive count falls back to a single shard.
func NewArena(shardCount int) *Arena {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]nameShard, shardCount)
	for i := range shards {
		shards[i].entries = make(map[string][]Handle)
	}
	return &Arena{
		byID:   make(map[types.SymbolID]Handle),
		shards: shards,
	}
}

// fnv1a seeds the shard choice; the shard count never changes, so the
// mapping from name to shard is stable for the process lifetime.
func fnv1a(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (a *Arena) shardFor(name string) *nameShard {
	return &a.shards[fnv1a(name)%uint32(len(a.shards))]
}

// Insert adds a symbol to the arena and returns its handle
func (a *Arena) Insert(sym types.Symbol) Handle {
	a.mu.Lock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].sym = sym
		a.slots[idx].live = true
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{sym: sym, live: true})
	}
	h := Handle{index: idx, generation: a.slots[idx].generation}
	a.byID[sym.ID] = h
	a.mu.Unlock()

	shard := a.shardFor(sym.Name)
	shard.mu.Lock()
	shard.entries[sym.Name] = append(shard.entries[sym.Name], h)
	shard.mu.Unlock()

	return h
}

// Get resolves a handle to a symbol. Returns false if the handle is stale
// or the slot was freed.
func (a *Arena) Get(h Handle) (types.Symbol, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.getLocked(h)
}

func (a *Arena) getLocked(h Handle) (types.Symbol, bool) {
	if int(h.index) >= len(a.slots) {
		return types.Symbol{}, false
	}
	s := &a.slots[h.index]
	if !s.live || s.generation != h.generation {
		return types.Symbol{}, false
	}
	return s.sym, true
}

// GetByID resolves a symbol by its stable identifier
func (a *Arena) GetByID(id types.SymbolID) (types.Symbol, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.byID[id]
	if !ok {
		return types.Symbol{}, false
	}
	return a.getLocked(h)
}

// Lookup returns the symbols currently registered under a name, in
// insertion order. Stale handles left behind by removals are skipped.
func (a *Arena) Lookup(name string) []types.Symbol {
	shard := a.shardFor(name)
	shard.mu.RLock()
	handles := make([]Handle, len(shard.entries[name]))
	copy(handles, shard.entries[name])
	shard.mu.RUnlock()

	var syms []types.Symbol
	for _, h := range handles {
		if sym, ok := a.Get(h); ok {
			syms = append(syms, sym)
		}
	}
	return syms
}

// Remove frees a handle's slot, bumping its generation so outstanding
// handles to it stop resolving. Removing a stale handle is a no-op.
func (a *Arena) Remove(h Handle) {
	a.mu.Lock()
	if int(h.index) >= len(a.slots) {
		a.mu.Unlock()
		return
	}
	s := &a.slots[h.index]
	if !s.live || s.generation != h.generation {
		a.mu.Unlock()
		return
	}
	name := s.sym.Name
	delete(a.byID, s.sym.ID)
	s.live = false
	s.generation++
	s.sym = types.Symbol{}
	a.free = append(a.free, h.index)
	a.mu.Unlock()

	shard := a.shardFor(name)
	shard.mu.Lock()
	handles := shard.entries[name]
	for i, cand := range handles {
		if cand == h {
			shard.entries[name] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(shard.entries[name]) == 0 {
		delete(shard.entries, name)
	}
	shard.mu.Unlock()
}

// RemoveByIDs frees every slot whose symbol ID is in the given list. Used
// when a file is re-indexed and its previous symbols are replaced.
func (a *Arena) RemoveByIDs(ids []types.SymbolID) {
	for _, id := range ids {
		a.mu.RLock()
		h, ok := a.byID[id]
		a.mu.RUnlock()
		if ok {
			a.Remove(h)
		}
	}
}

// Len returns the number of live symbols
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}
