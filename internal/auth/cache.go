package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// keyCache memoizes resolved API keys so dispatch does not pay a database
// round-trip per tool call. Entries past their TTL are served stale while a
// single background refresh re-verifies the key.
type keyCache struct {
	entries sync.Map // token -> *keyEntry
	ttl     time.Duration
}

type keyEntry struct {
	project   *ProjectContext
	staleAt   time.Time
	refreshed atomic.Bool
}

// cacheLookup is the outcome of one cache read. Refresh is true for at most
// one caller per stale entry; that caller owns the re-verification.
type cacheLookup struct {
	Project *ProjectContext
	Hit     bool
	Refresh bool
}

func newKeyCache(ttl time.Duration) *keyCache {
	return &keyCache{ttl: ttl}
}

// get never blocks. A stale entry is still a hit; the token keeps working
// on the cached project while the refresh runs.
func (c *keyCache) get(token string) cacheLookup {
	val, ok := c.entries.Load(token)
	if !ok {
		return cacheLookup{}
	}

	entry := val.(*keyEntry)
	if time.Now().Before(entry.staleAt) {
		return cacheLookup{Project: entry.project, Hit: true}
	}

	// First caller past staleAt wins the refresh.
	return cacheLookup{
		Project: entry.project,
		Hit:     true,
		Refresh: entry.refreshed.CompareAndSwap(false, true),
	}
}

func (c *keyCache) put(token string, project *ProjectContext) {
	c.entries.Store(token, &keyEntry{
		project: project,
		staleAt: time.Now().Add(c.ttl),
	})
}

func (c *keyCache) drop(token string) {
	c.entries.Delete(token)
}
