package session

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lcx/gamenet/metrics"
	"github.com/lcx/gamenet/net"
)

// DefaultPingCoolDown is the minimum gap between two pings to one player.
const DefaultPingCoolDown = 500 * time.Millisecond

type pingEntry struct {
	player  *Player
	sent    bool
	sentAt  time.Time
	lastRtt time.Duration
}

// PingController keeps one entry per player, in lockstep with the player
// collection it observes, and pings each player over the reliable channel
// whenever no ping is outstanding and the cool-down has passed.
type PingController struct {
	clock    clock.Clock
	coolDown atomic.Int64
	entries  map[int32]*pingEntry
	order    []int32
}

// NewPingController ...
func NewPingController(clk clock.Clock, coolDown time.Duration) *PingController {
	if clk == nil {
		clk = clock.New()
	}
	pc := &PingController{clock: clk, entries: make(map[int32]*pingEntry)}
	pc.SetCoolDown(coolDown)
	return pc
}

// SetCoolDown may be called from any goroutine.
func (pc *PingController) SetCoolDown(d time.Duration) {
	if d <= 0 {
		d = DefaultPingCoolDown
	}
	pc.coolDown.Store(int64(d))
}

func (pc *PingController) CoolDown() time.Duration {
	return time.Duration(pc.coolDown.Load())
}

// PlayerAdded implements CollectionObserver.
func (pc *PingController) PlayerAdded(id int32, p *Player) {
	if _, ok := pc.entries[id]; !ok {
		i, _ := slices.BinarySearch(pc.order, id)
		pc.order = slices.Insert(pc.order, i, id)
	}
	pc.entries[id] = &pingEntry{player: p}
}

// PlayerRemoved implements CollectionObserver.
func (pc *PingController) PlayerRemoved(id int32, _ *Player) {
	if _, ok := pc.entries[id]; !ok {
		return
	}
	delete(pc.entries, id)
	if i, found := slices.BinarySearch(pc.order, id); found {
		pc.order = slices.Delete(pc.order, i, i+1)
	}
}

// Len is the number of tracked players.
func (pc *PingController) Len() int { return len(pc.entries) }

// Update sends due pings. It runs once per tick on the main loop.
func (pc *PingController) Update() {
	now := pc.clock.Now()
	coolDown := pc.CoolDown()
	for _, id := range pc.order {
		e := pc.entries[id]
		if e.sent || (!e.sentAt.IsZero() && now.Sub(e.sentAt) < coolDown) {
			continue
		}
		if err := e.player.Send(&PingMessage{}, net.Reliable); err != nil {
			e.player.Logger().Warn().Err(err).Msg("ping send failed")
			continue
		}
		e.sent = true
		e.sentAt = now
	}
}

// PongReceived closes the outstanding ping of p. It reports false for a
// pong nobody asked for, which is then ignored.
func (pc *PingController) PongReceived(p *Player) (time.Duration, bool) {
	e, ok := pc.entries[p.PlayerID()]
	if !ok || !e.sent {
		metrics.IncrCounterWithGroup("session", "stale_pong_total", 1)
		return 0, false
	}
	now := pc.clock.Now()
	rtt := now.Sub(e.sentAt)
	e.sent = false
	e.lastRtt = rtt

	p.mostRecentPingValue = float32(rtt.Seconds())
	p.lastPongTime = now
	metrics.ObserveHistogramWithGroup("session", "ping_rtt_seconds", metrics.Value(rtt.Seconds()))
	return rtt, true
}

// PingValue is the last round trip measured for id.
func (pc *PingController) PingValue(id int32) (time.Duration, bool) {
	e, ok := pc.entries[id]
	if !ok {
		return 0, false
	}
	return e.lastRtt, true
}

// Outstanding reports whether a ping to id awaits its pong.
func (pc *PingController) Outstanding(id int32) bool {
	e, ok := pc.entries[id]
	return ok && e.sent
}
