package client

import (
	"sync"
)

// EntryState is the lifecycle position of a cache entry.
type EntryState int

const (
	// StateAuthoritative means the value is exactly what the server last returned.
	StateAuthoritative EntryState = iota
	// StateOptimistic means one or more unconfirmed overlays sit on top of the base.
	StateOptimistic
	// StateReconciling means every overlay settled and an authoritative refetch is owed.
	StateReconciling
)

func (s EntryState) String() string {
	switch s {
	case StateOptimistic:
		return "optimistic-pending"
	case StateReconciling:
		return "reconciling"
	default:
		return "authoritative"
	}
}

// Entry kinds.
const (
	KindParties      = "parties"
	KindTransactions = "transactions"
)

// Key addresses one cached read. ID is the canonical filter for party lists
// and the party id for transaction lists.
type Key struct {
	Owner string
	Kind  string
	ID    string
}

// Snapshot is a read of one entry with all pending overlays applied. Value
// may share memory with the cache and must not be modified.
type Snapshot[V any] struct {
	Value V
	State EntryState
	Stale bool
}

type overlay[V any] struct {
	tag   uint64
	apply func(V) V
	// settledAt is the clock reading when the server confirmed the write.
	// Zero while the write is still pending.
	settledAt uint64
}

type cacheEntry[V any] struct {
	base    V
	hasBase bool
	// applied is the ticket of the fetch currently held in base; floor is the
	// oldest ticket still allowed to land after the last invalidation.
	applied     uint64
	floor       uint64
	stale       bool
	reconciling bool
	overlays    []overlay[V]
	refreshing  uint64
}

func (e *cacheEntry[V]) pending() bool {
	for _, o := range e.overlays {
		if o.settledAt == 0 {
			return true
		}
	}
	return false
}

func (e *cacheEntry[V]) state() EntryState {
	switch {
	case e.pending():
		return StateOptimistic
	case e.reconciling:
		return StateReconciling
	default:
		return StateAuthoritative
	}
}

func (e *cacheEntry[V]) view() V {
	v := e.base
	for _, o := range e.overlays {
		v = o.apply(v)
	}
	return v
}

// Cache is an owner-scoped read cache with optimistic overlays. Every writer
// goes through a single logical clock so an older fetch can never replace a
// newer value.
type Cache[V any] struct {
	mu      sync.Mutex
	clock   uint64
	entries map[Key]*cacheEntry[V]
}

func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[Key]*cacheEntry[V])}
}

func (c *Cache[V]) entry(key Key) *cacheEntry[V] {
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry[V]{}
		c.entries[key] = e
	}
	return e
}

// Ticket stamps a fetch before it is sent.
func (c *Cache[V]) Ticket() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	return c.clock
}

// Get returns the entry's value with overlays applied. ok is false until an
// authoritative fetch has landed.
func (c *Cache[V]) Get(key Key) (Snapshot[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key]
	if !exists || !e.hasBase {
		return Snapshot[V]{}, false
	}
	return Snapshot[V]{Value: e.view(), State: e.state(), Stale: e.stale}, true
}

// Apply stores an authoritative fetch result. It reports false, leaving the
// entry untouched, when the ticket is not newer than the applied one or was
// issued before the last invalidation. Confirmed overlays settled before the
// ticket was issued are folded away since the fetch already reflects them.
func (c *Cache[V]) Apply(key Key, ticket uint64, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(key)
	if e.refreshing == ticket {
		e.refreshing = 0
	}
	if ticket <= e.applied || ticket < e.floor {
		return false
	}
	e.base = value
	e.hasBase = true
	e.applied = ticket
	e.stale = false
	kept := e.overlays[:0]
	confirmed := false
	for _, o := range e.overlays {
		if o.settledAt == 0 || o.settledAt >= ticket {
			kept = append(kept, o)
			confirmed = confirmed || o.settledAt != 0
		}
	}
	e.overlays = kept
	e.reconciling = confirmed
	return true
}

// Abandon releases the refresh slot held by a fetch that failed.
func (c *Cache[V]) Abandon(key Key, ticket uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.refreshing == ticket {
		e.refreshing = 0
	}
}

// BeginRefresh hands out a ticket for a background refresh of a stale entry.
// It reports false when the entry is fresh or a refresh that can still land
// is already in flight.
func (c *Cache[V]) BeginRefresh(key Key) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.stale {
		return 0, false
	}
	if e.refreshing != 0 && e.refreshing >= e.floor {
		return 0, false
	}
	c.clock++
	e.refreshing = c.clock
	return c.clock, true
}

func (c *Cache[V]) invalidate(e *cacheEntry[V]) {
	e.floor = c.clock + 1
	e.stale = true
}

// Invalidate marks one entry stale. Fetches already in flight for it will be
// discarded when they return.
func (c *Cache[V]) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.invalidate(e)
	}
}

// InvalidateKind marks every entry of one owner and kind stale. Other owners
// are never touched.
func (c *Cache[V]) InvalidateKind(owner, kind string) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for key, e := range c.entries {
		if key.Owner == owner && key.Kind == kind {
			c.invalidate(e)
			keys = append(keys, key)
		}
	}
	return keys
}

// Keys lists the cached keys of one owner and kind.
func (c *Cache[V]) Keys(owner, kind string) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	for key := range c.entries {
		if key.Owner == owner && key.Kind == kind {
			keys = append(keys, key)
		}
	}
	return keys
}

// AddOverlay layers an optimistic change over every listed entry under one
// tag. Entries that do not exist yet are created without a base.
func (c *Cache[V]) AddOverlay(keys []Key, apply func(Key, V) V) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	tag := c.clock
	for _, key := range keys {
		key := key
		e := c.entry(key)
		e.overlays = append(e.overlays, overlay[V]{tag: tag, apply: func(v V) V { return apply(key, v) }})
	}
	return tag
}

// Settle marks the overlay confirmed. It keeps shaping the view until an
// authoritative fetch issued after this point lands, so the entry never falls
// back to a base older than the confirmed write. A non-nil confirm replaces
// the overlay's function, typically with one built from the server's record.
func (c *Cache[V]) Settle(tag uint64, confirm func(Key, V) V) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	var keys []Key
	for key, e := range c.entries {
		for i := range e.overlays {
			if e.overlays[i].tag != tag {
				continue
			}
			e.overlays[i].settledAt = c.clock
			if confirm != nil {
				key := key
				e.overlays[i].apply = func(v V) V { return confirm(key, v) }
			}
			e.reconciling = true
			c.invalidate(e)
			keys = append(keys, key)
		}
	}
	return keys
}

// Rollback discards only the overlay with this tag. The base and any other
// overlays stay as they are.
func (c *Cache[V]) Rollback(tag uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.removeOverlay(tag) && !e.hasBase && len(e.overlays) == 0 {
			delete(c.entries, key)
		}
	}
}

func (e *cacheEntry[V]) removeOverlay(tag uint64) bool {
	for i, o := range e.overlays {
		if o.tag == tag {
			e.overlays = append(e.overlays[:i], e.overlays[i+1:]...)
			return true
		}
	}
	return false
}

// Remove drops one entry outright.
func (c *Cache[V]) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops everything cached for an owner, used on sign-out.
func (c *Cache[V]) Purge(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.Owner == owner {
			delete(c.entries, key)
		}
	}
}
