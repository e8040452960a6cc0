package notes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestCacheStoreWriteRead(t *testing.T) {
	store := NewCacheStore(context.Background())
	key := MyNoteKey("n1")

	_, ok := store.Read(key)
	assert.Equal(t, false, ok)

	note := &Note{Kind: NoteKindPrivate, Id: "n1", Content: "hello"}
	store.Write(key, note)

	value, ok := store.Read(key)
	assert.Equal(t, true, ok)
	assert.Equal(t, note, value)
	assert.Equal(t, false, store.IsStale(key))

	// last writer wins
	next := note.Clone()
	next.Content = "hello again"
	store.Write(key, next)
	value, _ = store.Read(key)
	assert.Equal(t, "hello again", value.(*Note).Content)
}

func TestCacheStoreObserverNotify(t *testing.T) {
	store := NewCacheStore(context.Background())
	key := MyNoteKey("n1")

	var mutex sync.Mutex
	seen := []string{}
	record := func(value any, err error) {
		mutex.Lock()
		defer mutex.Unlock()
		if err == nil {
			seen = append(seen, value.(*Note).Content)
		}
	}

	fetch := func(ctx context.Context) (any, error) {
		return &Note{Kind: NoteKindPrivate, Id: "n1", Content: "fetched"}, nil
	}

	unsub := store.Observe(key, fetch, record)
	defer unsub()

	// the absent entry triggers an initial fetch
	waitFor(t, 1*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(seen) == 1
	})
	assert.Equal(t, "fetched", seen[0])

	store.Write(key, &Note{Kind: NoteKindPrivate, Id: "n1", Content: "written"})
	waitFor(t, 1*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(seen) == 2
	})
	assert.Equal(t, "written", seen[1])

	// after unsubscribe, no more notifications
	unsub()
	store.Write(key, &Note{Kind: NoteKindPrivate, Id: "n1", Content: "ignored"})
	time.Sleep(20 * time.Millisecond)
	mutex.Lock()
	assert.Equal(t, 2, len(seen))
	mutex.Unlock()
}

func TestCacheStoreInvalidatePrefix(t *testing.T) {
	store := NewCacheStore(context.Background())

	store.Write(MyNotesKey(1, 100), &NotesPage{Kind: NoteKindPrivate})
	store.Write(MyNotesKey(2, 100), &NotesPage{Kind: NoteKindPrivate})
	store.Write(MyNoteKey("n1"), &Note{Kind: NoteKindPrivate, Id: "n1"})

	store.Invalidate(MyNotesPrefix(), false)

	assert.Equal(t, true, store.IsStale(MyNotesKey(1, 100)))
	assert.Equal(t, true, store.IsStale(MyNotesKey(2, 100)))
	assert.Equal(t, false, store.IsStale(MyNoteKey("n1")))

	// entries are marked stale, never evicted
	_, ok := store.Read(MyNotesKey(1, 100))
	assert.Equal(t, true, ok)
}

// an optimistic write to a key with a pending fetch must not be clobbered by
// the late response
func TestCacheStoreCancelInFlight(t *testing.T) {
	store := NewCacheStore(context.Background())
	key := MyNoteKey("n1")

	fetchStarted := make(chan struct{})
	releaseFetch := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		close(fetchStarted)
		<-releaseFetch
		return &Note{Kind: NoteKindPrivate, Id: "n1", Content: "stale"}, nil
	}

	unsub := store.Observe(key, fetch, func(value any, err error) {})
	defer unsub()
	<-fetchStarted

	optimistic := &Note{Kind: NoteKindPrivate, Id: "n1", Content: "optimistic"}
	store.CancelInFlight(key)
	store.Write(key, optimistic)

	// let the superseded fetch finish
	close(releaseFetch)
	time.Sleep(20 * time.Millisecond)

	value, ok := store.Read(key)
	assert.Equal(t, true, ok)
	assert.Equal(t, "optimistic", value.(*Note).Content)
}

// errors from an invalidation-triggered refetch surface to observers, not to
// the caller of Invalidate
func TestCacheStoreRefetchErrorSurfacesToObservers(t *testing.T) {
	store := NewCacheStore(context.Background())
	key := MyNoteKey("n1")

	fetchErr := errors.New("fetch failed")
	var mutex sync.Mutex
	fetchCount := 0
	var observedErr error

	fetch := func(ctx context.Context) (any, error) {
		mutex.Lock()
		fetchCount += 1
		count := fetchCount
		mutex.Unlock()
		if count == 1 {
			return &Note{Kind: NoteKindPrivate, Id: "n1"}, nil
		}
		return nil, fetchErr
	}

	unsub := store.Observe(key, fetch, func(value any, err error) {
		mutex.Lock()
		defer mutex.Unlock()
		if err != nil {
			observedErr = err
		}
	})
	defer unsub()

	waitFor(t, 1*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return fetchCount == 1
	})

	store.Invalidate(key, true)

	waitFor(t, 1*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return observedErr != nil
	})
	assert.Equal(t, fetchErr, observedErr)
	assert.Equal(t, fetchErr, store.ReadError(key))

	// the stale value is still readable
	_, ok := store.Read(key)
	assert.Equal(t, true, ok)
}
