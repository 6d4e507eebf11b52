package task

import (
	"sync"

	"github.com/oriys/funcall/internal/protocol"
)

// Entry is anything a Collection can hold.
type Entry interface {
	ID() string
	Status() protocol.Status
}

// Collection is an endpoint's set of live tasks, kept in arrival order with
// IDs unique at any instant. It is safe for concurrent use; Filter returns
// a snapshot so callers can mutate the collection while iterating.
type Collection[T Entry] struct {
	mu    sync.RWMutex
	order []T
	byID  map[string]T
}

func NewCollection[T Entry]() *Collection[T] {
	return &Collection[T]{byID: make(map[string]T)}
}

// Add appends t. It returns false, leaving the collection unchanged, when a
// task with the same ID is already live.
func (c *Collection[T]) Add(t T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[t.ID()]; ok {
		return false
	}
	c.byID[t.ID()] = t
	c.order = append(c.order, t)
	return true
}

// Get returns the live task with the given ID.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

// Remove drops the task with the given ID and reports whether it was live.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	for i, t := range c.order {
		if t.ID() == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Filter returns the tasks currently in the given status, in arrival order.
func (c *Collection[T]) Filter(status protocol.Status) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []T
	for _, t := range c.order {
		if t.Status() == status {
			out = append(out, t)
		}
	}
	return out
}

// All returns a snapshot of every live task.
func (c *Collection[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
