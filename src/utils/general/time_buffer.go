package general

import (
	"sort"
	"sync"
	"time"
)

type TimeBufferable interface {
	GetId() string
	GetTimestamp() time.Time
}

// TimedBuffer keeps the newest bufferSize elements ordered by timestamp.
type TimedBuffer[T TimeBufferable] struct {
	buffer     []T
	bufferSize int
	mutex      sync.RWMutex
}

func NewTimedBuffer[T TimeBufferable](bufferSize int) *TimedBuffer[T] {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &TimedBuffer[T]{
		buffer:     make([]T, 0, bufferSize),
		bufferSize: bufferSize,
	}
}

func (tb *TimedBuffer[T]) AddElement(element T) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	// insert after every element with an equal or earlier timestamp
	idx := sort.Search(len(tb.buffer), func(i int) bool {
		return tb.buffer[i].GetTimestamp().After(element.GetTimestamp())
	})
	var zeroValue T
	tb.buffer = append(tb.buffer, zeroValue)
	copy(tb.buffer[idx+1:], tb.buffer[idx:])
	tb.buffer[idx] = element

	if len(tb.buffer) > tb.bufferSize {
		tb.buffer = tb.buffer[len(tb.buffer)-tb.bufferSize:]
	}
}

func (tb *TimedBuffer[T]) GetElementById(id string) (T, bool) {
	tb.mutex.RLock()
	defer tb.mutex.RUnlock()
	for i := len(tb.buffer) - 1; i >= 0; i-- {
		if tb.buffer[i].GetId() == id {
			return tb.buffer[i], true
		}
	}
	var zeroValue T
	return zeroValue, false
}

// GetElementsNewerThan returns elements strictly after t, oldest first.
func (tb *TimedBuffer[T]) GetElementsNewerThan(t time.Time) []T {
	tb.mutex.RLock()
	defer tb.mutex.RUnlock()
	idx := sort.Search(len(tb.buffer), func(i int) bool {
		return tb.buffer[i].GetTimestamp().After(t)
	})
	out := make([]T, len(tb.buffer)-idx)
	copy(out, tb.buffer[idx:])
	return out
}

func (tb *TimedBuffer[T]) GetAllElements() []T {
	tb.mutex.RLock()
	defer tb.mutex.RUnlock()
	out := make([]T, len(tb.buffer))
	copy(out, tb.buffer)
	return out
}

func (tb *TimedBuffer[T]) GetLatestElement() (T, bool) {
	tb.mutex.RLock()
	defer tb.mutex.RUnlock()
	var zeroValue T
	if len(tb.buffer) == 0 {
		return zeroValue, false
	}
	return tb.buffer[len(tb.buffer)-1], true
}

func (tb *TimedBuffer[T]) Len() int {
	tb.mutex.RLock()
	defer tb.mutex.RUnlock()
	return len(tb.buffer)
}
