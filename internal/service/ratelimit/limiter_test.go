package ratelimit

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAllowBurstThenRefill(t *testing.T) {
	c := &clock{t: time.Date(2024, 12, 2, 9, 15, 0, 0, time.UTC)}
	l := New(3, 1, WithClock(c.now))

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("burst exceeded but allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatalf("keys must not share a bucket")
	}

	c.advance(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatalf("token not refilled after one second")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("only one token should have been refilled")
	}
}

func TestIdleBucketsEvicted(t *testing.T) {
	c := &clock{t: time.Date(2024, 12, 2, 9, 15, 0, 0, time.UTC)}
	l := New(2, 1, WithClock(c.now), WithIdleEviction(time.Minute))

	l.Allow("a")
	l.Allow("b")
	c.advance(30 * time.Second)
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", l.Len())
	}

	c.advance(45 * time.Second)
	l.Allow("c")
	if l.Len() != 2 {
		t.Fatalf("idle key should be evicted, got %d keys", l.Len())
	}
}
