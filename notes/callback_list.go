package notes

import (
	"sync"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update so a fan-out can iterate without holding
// the lock. Add returns a callback id; removing an id twice is a no-op, so a
// returned unsubscribe closure is idempotent.
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	callbackIds    []int
	callbacks      map[int]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

// Get returns the callbacks in add order.
func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.callbackIds, callbackId)
	if i < 0 {
		// not present
		return
	}
	nextCallbackIds := slices.Clone(self.callbackIds)
	nextCallbackIds = slices.Delete(nextCallbackIds, i, i+1)
	self.callbackIds = nextCallbackIds
	delete(self.callbacks, callbackId)
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbackIds)
}
