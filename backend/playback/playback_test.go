package playback

import (
	"testing"
	"time"

	"danmakuoverlay/core/backend/danmaku"
)

func TestResyncInterval(t *testing.T) {
	cases := []struct {
		speed float64
		want  time.Duration
	}{
		{2.0, 900 * time.Millisecond},
		{3.0, 900 * time.Millisecond},
		{1.5, 1200 * time.Millisecond},
		{1.1, 1600 * time.Millisecond},
		{0.5, 1600 * time.Millisecond},
		{1.0, 2200 * time.Millisecond},
		{1.04, 2200 * time.Millisecond},
		{0.96, 2200 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := ResyncInterval(tc.speed); got != tc.want {
			t.Errorf("ResyncInterval(%v)=%v want %v", tc.speed, got, tc.want)
		}
	}
}

func TestShouldForceResync(t *testing.T) {
	for cycle := 1; cycle < 6; cycle++ {
		if ShouldForceResync(1.0, cycle) {
			t.Fatalf("normal speed forced at cycle %d", cycle)
		}
	}
	if !ShouldForceResync(1.0, 6) {
		t.Fatalf("normal speed should force at cycle 6")
	}
	if ShouldForceResync(1.3, 2) || !ShouldForceResync(1.3, 3) {
		t.Fatalf("1.3x should force first at cycle 3")
	}
	if ShouldForceResync(1.3, 0) {
		t.Fatalf("cycle 0 never forces")
	}
}

func TestScrollMoveTime(t *testing.T) {
	if got := ScrollMoveTime(1, 1); got != 5*time.Second {
		t.Fatalf("unexpected base move time %v", got)
	}
	if got := ScrollMoveTime(3, 1); got != 10*time.Second {
		t.Fatalf("move time should clamp to 10s, got %v", got)
	}
	if got := ScrollMoveTime(0.2, 1); got != 2*time.Second {
		t.Fatalf("move time should clamp to 2s, got %v", got)
	}
	if got := ScrollMoveTime(1, 2); got != 2500*time.Millisecond {
		t.Fatalf("2x video should halve move time, got %v", got)
	}
}

func items(timestamps ...int64) []danmaku.Item {
	out := make([]danmaku.Item, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, danmaku.Item{TimestampMs: ts, Content: "x"})
	}
	return out
}

func TestControllerDueAndSeek(t *testing.T) {
	c := NewController()
	c.Load(items(3000, 1000, 2000, 9000))

	due := c.Due(2000)
	if len(due) != 2 || due[0].TimestampMs != 1000 || due[1].TimestampMs != 2000 {
		t.Fatalf("unexpected due: %+v", due)
	}
	if due := c.Due(2500); len(due) != 0 {
		t.Fatalf("nothing should be due, got %+v", due)
	}

	c.Seek(500)
	if due := c.Due(1000); len(due) != 1 || due[0].TimestampMs != 1000 {
		t.Fatalf("seek back should replay, got %+v", due)
	}

	// A long stall skips items older than the late tolerance.
	if due := c.Due(9000); len(due) != 1 || due[0].TimestampMs != 9000 {
		t.Fatalf("stale items should be skipped, got %+v", due)
	}
	if c.Pending() != 0 {
		t.Fatalf("queue should be drained, pending=%d", c.Pending())
	}
}

func TestControllerAppend(t *testing.T) {
	c := NewController()
	c.Load(items(1000, 5000))
	_ = c.Due(1000)
	c.Append(items(3000, 2000)...)
	due := c.Due(5000)
	if len(due) != 3 || due[0].TimestampMs != 2000 || due[2].TimestampMs != 5000 {
		t.Fatalf("unexpected due after append: %+v", due)
	}
}

func TestControllerTickCadence(t *testing.T) {
	c := NewController()
	c.Load(items(0, 100))
	start := time.Unix(1700000000, 0)

	first := c.Tick(start, 0, 1.0)
	if first.Resync || first.ForceResync || len(first.Due) != 1 {
		t.Fatalf("unexpected first tick: %+v", first)
	}

	now := start
	for cycle := 1; cycle <= 6; cycle++ {
		now = now.Add(2200 * time.Millisecond)
		d := c.Tick(now, int64(cycle)*100, 1.0)
		if !d.Resync || d.Cycle != cycle {
			t.Fatalf("cycle %d: unexpected decision %+v", cycle, d)
		}
		if d.ForceResync != (cycle == 6) {
			t.Fatalf("cycle %d: forceResync=%v", cycle, d.ForceResync)
		}
	}

	now = now.Add(100 * time.Millisecond)
	speedUp := c.Tick(now, 700, 1.3)
	if !speedUp.SpeedChange || !speedUp.ForceResync || speedUp.IntervalMs != 1600 {
		t.Fatalf("speed change should force resync: %+v", speedUp)
	}
	for cycle := 1; cycle <= 3; cycle++ {
		now = now.Add(1600 * time.Millisecond)
		d := c.Tick(now, 700, 1.3)
		if d.ForceResync != (cycle == 3) {
			t.Fatalf("1.3x cycle %d: forceResync=%v", cycle, d.ForceResync)
		}
	}

	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("reset should drop the queue")
	}
}

func TestControllerPausedResyncEmitsOnce(t *testing.T) {
	c := NewController()
	c.Load(items(1000))
	now := time.Unix(1700000000, 0)

	emitted := 0
	forced := 0
	for i := 0; i < 8; i++ {
		d := c.Tick(now, 1000, 1.0)
		emitted += len(d.Due)
		if d.ForceResync {
			forced++
		}
		now = now.Add(2200 * time.Millisecond)
	}
	if forced != 1 {
		t.Fatalf("expected one forced resync in eight ticks, got %d", forced)
	}
	if emitted != 1 {
		t.Fatalf("item emitted %d times while paused at its timestamp", emitted)
	}

	c.Load(items(1000, 1500))
	d := c.Tick(now, 1500, 1.0)
	if len(d.Due) != 1 || d.Due[0].TimestampMs != 1500 {
		t.Fatalf("reload should keep delivered items delivered: %+v", d.Due)
	}

	c.Seek(1000)
	d = c.Tick(now.Add(time.Millisecond), 1000, 1.0)
	if len(d.Due) != 1 || d.Due[0].TimestampMs != 1000 {
		t.Fatalf("explicit seek should replay from the position: %+v", d.Due)
	}
}
