package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type observedEvent struct {
	added bool
	key   int32
	value string
}

type recordingObserver struct {
	events []observedEvent
}

func (o *recordingObserver) PlayerAdded(k int32, v string) {
	o.events = append(o.events, observedEvent{true, k, v})
}

func (o *recordingObserver) PlayerRemoved(k int32, v string) {
	o.events = append(o.events, observedEvent{false, k, v})
}

func TestPlayerCollectionOrder(t *testing.T) {
	c := NewPlayerCollection[int32, string]()
	c.Add(3, "c")
	c.Add(1, "a")
	c.Add(2, "b")

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"a", "b", "c"}, c.Values())
	assert.Equal(t, []int32{1, 2, 3}, c.Keys())

	var visited []string
	c.ForEach(func(v string) { visited = append(visited, v) })
	assert.Equal(t, []string{"a", "b", "c"}, visited)

	v, ok := c.Remove(2)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = c.Remove(2)
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "c"}, c.Values())

	var view ReadOnlyPlayerCollection[int32, string] = c
	got, ok := view.Get(3)
	assert.True(t, ok)
	assert.Equal(t, "c", got)
}

func TestPlayerCollectionObserver(t *testing.T) {
	c := NewPlayerCollection[int32, string]()
	o := &recordingObserver{}
	c.SetObserver(o)

	c.Add(1, "a")
	c.Add(1, "a2")
	c.Add(2, "b")
	c.Remove(9)
	c.Clear()

	assert.Equal(t, []observedEvent{
		{true, 1, "a"},
		{false, 1, "a"},
		{true, 1, "a2"},
		{true, 2, "b"},
		{false, 1, "a2"},
		{false, 2, "b"},
	}, o.events)
	assert.Equal(t, 0, c.Len())
}
