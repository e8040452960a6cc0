package notes

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// FetchFunc loads the server value for one query key.
type FetchFunc func(ctx context.Context) (any, error)

// CacheObserverFunc receives every new value (or fetch error) for an
// observed key.
type CacheObserverFunc func(value any, err error)

type cacheEntry struct {
	value    any
	hasValue bool
	stale    bool
	err      error

	// the fetch generation defends the read-after-write race: an optimistic
	// write bumps the generation via CancelInFlight so a late response from a
	// superseded fetch is discarded, never written
	fetchGeneration int
	fetchCancel     context.CancelFunc
	fetch           FetchFunc

	observers *CallbackList[CacheObserverFunc]
}

func newCacheEntry() *cacheEntry {
	return &cacheEntry{
		observers: NewCallbackList[CacheObserverFunc](),
	}
}

// CacheStore is a keyed store of server-derived data.
// writes are last-writer-wins per key. The store performs no merge logic;
// merges happen in callers before the write.
type CacheStore struct {
	ctx context.Context

	mutex   sync.Mutex
	entries map[QueryKey]*cacheEntry
}

func NewCacheStore(ctx context.Context) *CacheStore {
	return &CacheStore{
		ctx:     ctx,
		entries: map[QueryKey]*cacheEntry{},
	}
}

func (self *CacheStore) Read(key QueryKey) (any, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry := self.entries[key]
	if entry == nil || !entry.hasValue {
		return nil, false
	}
	return entry.value, true
}

func (self *CacheStore) IsStale(key QueryKey) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry := self.entries[key]
	return entry != nil && entry.stale
}

// ReadError returns the most recent fetch error for the key, if any.
func (self *CacheStore) ReadError(key QueryKey) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry := self.entries[key]
	if entry == nil {
		return nil
	}
	return entry.err
}

func (self *CacheStore) Keys() []QueryKey {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Keys(self.entries)
}

// KeysMatching returns the keys of populated entries under `prefix`.
func (self *CacheStore) KeysMatching(prefix QueryKey) []QueryKey {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	keys := []QueryKey{}
	for key, entry := range self.entries {
		if entry.hasValue && key.MatchesPrefix(prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Write replaces the entry value. All observers of the key receive the new
// value.
func (self *CacheStore) Write(key QueryKey, value any) {
	self.mutex.Lock()
	entry := self.entries[key]
	if entry == nil {
		entry = newCacheEntry()
		self.entries[key] = entry
	}
	entry.value = value
	entry.hasValue = true
	entry.stale = false
	entry.err = nil
	observers := entry.observers.Get()
	self.mutex.Unlock()

	glog.V(2).Infof("[cache]write %s\n", key)
	for _, observer := range observers {
		observer := observer
		safeInvoke(func() {
			observer(value, nil)
		})
	}
}

// Observe registers an observer with the fetch used to (re)load the key.
// an absent or stale entry triggers a background fetch immediately.
// the returned closure removes exactly this observer.
func (self *CacheStore) Observe(key QueryKey, fetch FetchFunc, observer CacheObserverFunc) func() {
	self.mutex.Lock()
	entry := self.entries[key]
	if entry == nil {
		entry = newCacheEntry()
		self.entries[key] = entry
	}
	entry.fetch = fetch
	observerId := entry.observers.Add(observer)
	if !entry.hasValue || entry.stale {
		self.startFetch(key, entry)
	}
	self.mutex.Unlock()

	return func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		if entry := self.entries[key]; entry != nil {
			entry.observers.Remove(observerId)
		}
	}
}

// Invalidate marks matching entries stale and refetches those currently
// observed. Errors from the refetch surface to observers, not to the caller.
func (self *CacheStore) Invalidate(key QueryKey, exact bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if exact {
		if entry := self.entries[key]; entry != nil {
			self.invalidateEntry(key, entry)
		}
		return
	}
	for entryKey, entry := range self.entries {
		if entryKey.MatchesPrefix(key) {
			self.invalidateEntry(entryKey, entry)
		}
	}
}

// must be called with `mutex`
func (self *CacheStore) invalidateEntry(key QueryKey, entry *cacheEntry) {
	entry.stale = true
	glog.V(2).Infof("[cache]invalidate %s\n", key)
	if 0 < entry.observers.Len() && entry.fetch != nil {
		self.startFetch(key, entry)
	}
}

// CancelInFlight aborts any in-progress fetch for the key so a subsequent
// optimistic write is not clobbered by a late response.
func (self *CacheStore) CancelInFlight(key QueryKey) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry := self.entries[key]
	if entry == nil {
		return
	}
	entry.fetchGeneration += 1
	if entry.fetchCancel != nil {
		entry.fetchCancel()
		entry.fetchCancel = nil
	}
}

// must be called with `mutex`
func (self *CacheStore) startFetch(key QueryKey, entry *cacheEntry) {
	entry.fetchGeneration += 1
	fetchGeneration := entry.fetchGeneration
	if entry.fetchCancel != nil {
		entry.fetchCancel()
	}
	fetchCtx, fetchCancel := context.WithCancel(self.ctx)
	entry.fetchCancel = fetchCancel
	fetch := entry.fetch

	go func() {
		value, err := fetch(fetchCtx)

		self.mutex.Lock()
		if entry.fetchGeneration != fetchGeneration {
			// superseded by a cancel or a newer fetch
			self.mutex.Unlock()
			glog.V(2).Infof("[cache]drop stale fetch %s\n", key)
			return
		}
		entry.fetchCancel = nil
		if err != nil {
			entry.err = err
		} else {
			entry.value = value
			entry.hasValue = true
			entry.stale = false
			entry.err = nil
		}
		observers := entry.observers.Get()
		self.mutex.Unlock()

		for _, observer := range observers {
			observer := observer
			safeInvoke(func() {
				observer(value, err)
			})
		}
	}()
}
