package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	digests []ErrorDigest
}

func (p *capturePublisher) Publish(_ context.Context, topic string, _ []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.digests = append(p.digests, value.([]ErrorDigest)...)
	return nil
}

func TestCollectorDeduplicatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "ops_logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("fetch failed", String("endpoint", "/index-option-chain"), Error(errors.New("status 503")))
	}
	l.Warn("ignored without IncludeWarn")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "ops_logs" {
		t.Fatalf("unexpected topic %q", pub.topic)
	}
	if len(pub.digests) != 1 {
		t.Fatalf("expected 1 digest, got %d", len(pub.digests))
	}
	if pub.digests[0].Count != 3 {
		t.Fatalf("expected count 3, got %d", pub.digests[0].Count)
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.digests)
		pub.mu.Unlock()
		if n == 2 {
			c.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Close()
	t.Fatalf("threshold flush did not happen")
}
