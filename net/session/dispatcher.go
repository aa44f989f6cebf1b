package session

import (
	"fmt"
	"sync"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
)

// Executor is one unit of work for the main loop.
type Executor func()

// Dispatcher is a multi-producer, single-consumer queue. I/O goroutines
// Enqueue; the owner of the game loop calls Drain once per tick, so every
// executor runs on that one goroutine in enqueue order.
type Dispatcher struct {
	mu      sync.Mutex
	pending []Executor
	spare   []Executor
	name    string
}

// NewDispatcher ...
func NewDispatcher(name string) *Dispatcher {
	return &Dispatcher{name: name}
}

// Enqueue is safe from any goroutine.
func (d *Dispatcher) Enqueue(e Executor) {
	if e == nil {
		return
	}
	d.mu.Lock()
	d.pending = append(d.pending, e)
	d.mu.Unlock()
}

// Len is the number of executors waiting.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Drain runs everything queued before the call. Executors enqueued while
// draining wait for the next tick. A panicking executor is logged and
// does not stop the rest.
func (d *Dispatcher) Drain() int {
	d.mu.Lock()
	batch := d.pending
	d.pending = d.spare[:0]
	d.mu.Unlock()

	for i, e := range batch {
		d.run(e)
		batch[i] = nil
	}

	d.mu.Lock()
	d.spare = batch[:0]
	d.mu.Unlock()

	if len(batch) > 0 {
		metrics.ObserveHistogramWithDimGroup("session", "dispatch_batch", metrics.Value(len(batch)), metrics.Dimension{"side": d.name})
	}
	return len(batch)
}

func (d *Dispatcher) run(e Executor) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncrCounterWithDimGroup("session", "executor_panic_total", 1, metrics.Dimension{"side": d.name})
			log.Error().Str("side", d.name).Str("panic", fmt.Sprint(r)).Msg("executor panicked")
		}
	}()
	e()
}
