package scheduler

import (
	"testing"
	"time"
)

// fakeClock is a manually-advanced Clock: After returns a channel that
// fires as soon as the test calls advance() past the deadline.
type fakeClock struct {
	now  time.Time
	subs []fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if !deadline.After(c.now) {
		ch <- deadline
		return ch
	}
	c.subs = append(c.subs, fakeTimer{deadline: deadline, ch: ch})
	return ch
}

// advance moves the clock forward, firing any pending timers whose
// deadline has passed, in the order their After calls were made.
func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	remaining := c.subs[:0]
	for _, t := range c.subs {
		if !t.deadline.After(c.now) {
			t.ch <- t.deadline
		} else {
			remaining = append(remaining, t)
		}
	}
	c.subs = remaining
}

func TestAlignedUpAdvancesToNextPeriodBoundary(t *testing.T) {
	start := time.Unix(1_700_000_123, 0)
	got := alignedUp(start, 300*time.Second)
	want := time.Unix(1_700_000_400, 0)
	if !got.Equal(want) {
		t.Fatalf("expected aligned expiry %v, got %v", want, got)
	}
}

func TestOrderingSameInstantByRegistration(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	s := NewWithClock(clock)

	var order []string
	done := make(chan struct{})

	s.AddTask("b", time.Second, AtStart, func(time.Time) { order = append(order, "b") })
	s.AddTask("a", time.Second, AtStart, func(time.Time) {
		order = append(order, "a")
		if len(order) == 2 {
			s.Shutdown()
			close(done)
		}
	})

	go s.Run()
	<-done

	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("expected registration-order firing [b a], got %v", order)
	}
}

func TestDriftFreeRescheduling(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	s := NewWithClock(clock)

	var fires []time.Time
	s.AddTask("p", 10*time.Second, SkipFirst, func(now time.Time) {
		fires = append(fires, now)
	})

	go s.Run()

	for i := 0; i < 3; i++ {
		waitForPending(t, clock)
		clock.advance(10 * time.Second)
	}
	waitForPending(t, clock)
	s.Shutdown()

	if len(fires) < 3 {
		t.Fatalf("expected at least 3 firings, got %d", len(fires))
	}
	for i, f := range fires[:3] {
		want := time.Unix(int64(10*(i+1)), 0)
		if !f.Equal(want) {
			t.Fatalf("firing %d: expected %v, got %v (no drift expected)", i, want, f)
		}
	}
}

// waitForPending gives the scheduler goroutine a chance to register its
// next After() call before the test advances the fake clock.
func waitForPending(t *testing.T, c *fakeClock) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(c.subs) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for scheduler to register a timer")
}

func TestCancelSuppressesFutureFirings(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	s := NewWithClock(clock)

	fired := make(chan struct{}, 10)
	s.AddTask("p", time.Second, AtStart, func(time.Time) { fired <- struct{}{} })

	go s.Run()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first (AtStart) firing")
	}

	waitForPending(t, clock)
	s.Cancel("p")
	clock.advance(time.Second)

	select {
	case <-fired:
		t.Fatal("task fired again after Cancel")
	case <-time.After(50 * time.Millisecond):
	}

	s.Shutdown()
}
