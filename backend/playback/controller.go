package playback

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hako/durafmt"

	"danmakuoverlay/core/backend/danmaku"
)

// DefaultLateToleranceMs bounds how far behind the position an item may be
// and still be emitted. Older items are skipped.
const DefaultLateToleranceMs = 3000

// Decision is the outcome of one Tick.
type Decision struct {
	Interval    time.Duration  `json:"-"`
	IntervalMs  int64          `json:"intervalMs"`
	Cycle       int            `json:"cycle"`
	Resync      bool           `json:"resync"`
	ForceResync bool           `json:"forceResync"`
	SpeedChange bool           `json:"speedChange"`
	Due         []danmaku.Item `json:"due"`
}

// Controller owns the time-ordered queue of one session and decides which
// items are due against the player clock.
type Controller struct {
	mu              sync.Mutex
	items           []danmaku.Item
	cursor          int
	speed           float64
	cycle           int
	lastSync        time.Time
	lastPosition    int64
	consumed        bool
	lateToleranceMs int64
}

func NewController() *Controller {
	return &Controller{speed: 1, lateToleranceMs: DefaultLateToleranceMs}
}

// SetLateTolerance overrides DefaultLateToleranceMs; zero or less disables
// skipping.
func (c *Controller) SetLateTolerance(ms int64) {
	c.mu.Lock()
	c.lateToleranceMs = ms
	c.mu.Unlock()
}

// Load replaces the queue. The cursor is placed at the last known position.
func (c *Controller) Load(items []danmaku.Item) {
	sorted := make([]danmaku.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = sorted
	c.alignLocked(c.lastPosition)
}

// Append merges items arriving after Load, such as live comments.
func (c *Controller) Append(items ...danmaku.Item) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := append([]danmaku.Item(nil), c.items[c.cursor:]...)
	pending = append(pending, items...)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].TimestampMs < pending[j].TimestampMs
	})
	c.items = append(c.items[:c.cursor:c.cursor], pending...)
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Pending is the number of queued items not yet emitted.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) - c.cursor
}

// Seek moves the cursor to the first item at or after positionMs and starts
// a new resync cycle count.
func (c *Controller) Seek(positionMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekLocked(positionMs)
	c.cycle = 0
}

func (c *Controller) seekLocked(positionMs int64) {
	if positionMs < 0 {
		positionMs = 0
	}
	c.cursor = sort.Search(len(c.items), func(i int) bool {
		return c.items[i].TimestampMs >= positionMs
	})
	c.lastPosition = positionMs
	c.consumed = false
}

// alignLocked re-places the cursor for a resync. Items at or before an
// already delivered position stay delivered; a backwards move is a seek.
func (c *Controller) alignLocked(positionMs int64) {
	if !c.consumed || positionMs < c.lastPosition {
		c.seekLocked(positionMs)
		return
	}
	delivered := c.lastPosition
	c.cursor = sort.Search(len(c.items), func(i int) bool {
		return c.items[i].TimestampMs > delivered
	})
}

// Due returns the items whose timestamp has been reached, in order.
func (c *Controller) Due(positionMs int64) []danmaku.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dueLocked(positionMs)
}

func (c *Controller) dueLocked(positionMs int64) []danmaku.Item {
	if positionMs < c.lastPosition {
		c.seekLocked(positionMs)
		return nil
	}
	c.lastPosition = positionMs
	c.consumed = true
	if c.lateToleranceMs > 0 {
		floor := positionMs - c.lateToleranceMs
		for c.cursor < len(c.items) && c.items[c.cursor].TimestampMs < floor {
			c.cursor++
		}
	}
	start := c.cursor
	for c.cursor < len(c.items) && c.items[c.cursor].TimestampMs <= positionMs {
		c.cursor++
	}
	if start == c.cursor {
		return nil
	}
	return append([]danmaku.Item(nil), c.items[start:c.cursor]...)
}

// Tick advances the resync schedule and collects due items. A speed change
// always forces a resync and restarts the cycle count.
func (c *Controller) Tick(now time.Time, positionMs int64, speed float64) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if speed <= 0 {
		speed = c.speed
	}
	interval := ResyncInterval(speed)
	decision := Decision{Interval: interval, IntervalMs: interval.Milliseconds()}

	if speed != c.speed {
		log.Printf("[sync] speed %.2fx -> %.2fx, resync every %s", c.speed, speed, durafmt.Parse(interval).String())
		c.speed = speed
		c.cycle = 0
		c.lastSync = now
		c.alignLocked(positionMs)
		decision.SpeedChange = true
		decision.Resync = true
		decision.ForceResync = true
		return decision
	}

	if c.lastSync.IsZero() {
		c.lastSync = now
	}
	if now.Sub(c.lastSync) >= interval {
		c.cycle++
		c.lastSync = now
		decision.Resync = true
		if ShouldForceResync(speed, c.cycle) {
			decision.ForceResync = true
			c.alignLocked(positionMs)
		}
	}
	decision.Cycle = c.cycle
	decision.Due = c.dueLocked(positionMs)
	return decision
}

// Reset drops the queue and every counter.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.cursor = 0
	c.speed = 1
	c.cycle = 0
	c.lastSync = time.Time{}
	c.lastPosition = 0
	c.consumed = false
}
