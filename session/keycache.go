package session

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opd-ai/walletcore/securemem"
)

// cacheEntry pairs a derived key with its insertion time. Entries older
// than the session timeout are treated as absent.
type cacheEntry struct {
	key      *securemem.Region
	inserted time.Time
}

// keyCache maps account addresses to derived keys held in secure memory.
// It has no mutex of its own: the owning Session serializes access and
// enforces the unlocked-state precondition.
type keyCache struct {
	entries map[common.Address]cacheEntry
}

func newKeyCache() *keyCache {
	return &keyCache{entries: make(map[common.Address]cacheEntry)}
}

func (kc *keyCache) get(addr common.Address, now time.Time, maxAge time.Duration) *securemem.Region {
	entry, ok := kc.entries[addr]
	if !ok {
		return nil
	}
	if maxAge >= 0 && now.Sub(entry.inserted) > maxAge {
		entry.key.Destroy()
		delete(kc.entries, addr)
		return nil
	}
	return entry.key
}

func (kc *keyCache) insert(addr common.Address, key *securemem.Region, now time.Time) {
	if prev, ok := kc.entries[addr]; ok {
		prev.key.Destroy()
	}
	kc.entries[addr] = cacheEntry{key: key, inserted: now}
}

func (kc *keyCache) evict(addr common.Address) {
	if entry, ok := kc.entries[addr]; ok {
		entry.key.Destroy()
		delete(kc.entries, addr)
	}
}

func (kc *keyCache) clear() {
	for addr, entry := range kc.entries {
		entry.key.Destroy()
		delete(kc.entries, addr)
	}
}

func (kc *keyCache) len() int { return len(kc.entries) }
