package session

import (
	"cmp"
	"slices"
)

// CollectionObserver is told about membership changes as they happen.
type CollectionObserver[K cmp.Ordered, P any] interface {
	PlayerAdded(key K, p P)
	PlayerRemoved(key K, p P)
}

// ReadOnlyPlayerCollection is the view handed to applications.
type ReadOnlyPlayerCollection[K cmp.Ordered, P any] interface {
	Get(key K) (P, bool)
	Len() int
	// Values returns the players ordered by key.
	Values() []P
}

// PlayerCollection is an ordered player map owned by the main loop. It is
// not safe for concurrent use.
type PlayerCollection[K cmp.Ordered, P any] struct {
	players  map[K]P
	keys     []K
	observer CollectionObserver[K, P]
}

// NewPlayerCollection ...
func NewPlayerCollection[K cmp.Ordered, P any]() *PlayerCollection[K, P] {
	return &PlayerCollection[K, P]{players: make(map[K]P)}
}

// SetObserver installs the single observer, nil to remove it.
func (c *PlayerCollection[K, P]) SetObserver(o CollectionObserver[K, P]) {
	c.observer = o
}

// Add inserts p. An existing key is replaced and reported as removed first.
func (c *PlayerCollection[K, P]) Add(key K, p P) {
	if _, ok := c.players[key]; ok {
		c.Remove(key)
	}
	c.players[key] = p
	i, _ := slices.BinarySearch(c.keys, key)
	c.keys = slices.Insert(c.keys, i, key)
	if c.observer != nil {
		c.observer.PlayerAdded(key, p)
	}
}

// Remove deletes key and returns the player it held.
func (c *PlayerCollection[K, P]) Remove(key K) (P, bool) {
	p, ok := c.players[key]
	if !ok {
		return p, false
	}
	delete(c.players, key)
	if i, found := slices.BinarySearch(c.keys, key); found {
		c.keys = slices.Delete(c.keys, i, i+1)
	}
	if c.observer != nil {
		c.observer.PlayerRemoved(key, p)
	}
	return p, true
}

func (c *PlayerCollection[K, P]) Get(key K) (P, bool) {
	p, ok := c.players[key]
	return p, ok
}

func (c *PlayerCollection[K, P]) Len() int { return len(c.players) }

func (c *PlayerCollection[K, P]) Values() []P {
	out := make([]P, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.players[k])
	}
	return out
}

// Keys returns the keys in order.
func (c *PlayerCollection[K, P]) Keys() []K {
	return slices.Clone(c.keys)
}

// ForEach visits players in key order. f must not mutate the collection.
func (c *PlayerCollection[K, P]) ForEach(f func(P)) {
	for _, k := range c.keys {
		f(c.players[k])
	}
}

// Clear removes everyone, notifying the observer for each.
func (c *PlayerCollection[K, P]) Clear() {
	for _, k := range slices.Clone(c.keys) {
		c.Remove(k)
	}
}
