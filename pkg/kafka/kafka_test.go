package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducerEncodesAndStampsHeaders(t *testing.T) {
	w := &memWriter{}
	p, err := NewProducer(WithWriter(w), WithHeaders(map[string]string{"schema": "v1"}))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	err = p.PublishBatch(context.Background(), "chain", []Message{
		{Key: []byte("a"), Value: map[string]int{"x": 1}},
		{Key: []byte("b"), Value: "raw", Headers: map[string]string{"trace_id": "t1"}},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs := w.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Value) != `{"x":1}` || string(msgs[1].Value) != "raw" {
		t.Fatalf("unexpected payloads %q %q", msgs[0].Value, msgs[1].Value)
	}
	if Header(msgs[0], "schema") != "v1" || Header(msgs[1], "trace_id") != "t1" || Header(msgs[1], "schema") != "v1" {
		t.Fatalf("headers not applied")
	}
	if msgs[0].Topic != "chain" {
		t.Fatalf("unexpected topic %q", msgs[0].Topic)
	}
}

func TestProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

type chanReader struct {
	ch        chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type funcHandler struct {
	topic string
	fn    func(kafka.Message) error
}

func (h funcHandler) Topic() string { return h.topic }

func (h funcHandler) Handle(_ context.Context, m kafka.Message) error { return h.fn(m) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	reader := &chanReader{ch: make(chan kafka.Message, 4)}
	dlq := &memWriter{}
	var mu sync.Mutex
	calls := map[int64]int{}

	c, err := NewConsumer(
		WithReaderFactory(func(string) MessageReader { return reader }, dlq),
		WithConsumerDLQ("chain_dlq"),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	c.RegisterHandler(funcHandler{topic: "chain", fn: func(m kafka.Message) error {
		mu.Lock()
		calls[m.Offset]++
		mu.Unlock()
		if string(m.Value) == "bad" {
			return errors.New("boom")
		}
		return nil
	}})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	reader.ch <- kafka.Message{Topic: "chain", Offset: 1, Value: []byte("ok")}
	reader.ch <- kafka.Message{Topic: "chain", Offset: 2, Value: []byte("bad")}
	waitFor(t, func() bool { return len(reader.commits()) == 2 })

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls[1] != 1 || calls[2] != 3 {
		t.Fatalf("unexpected attempts %v", calls)
	}
	dead := dlq.snapshot()
	if len(dead) != 1 || string(dead[0].Value) != "bad" || Header(dead[0], "source_topic") != "chain" {
		t.Fatalf("unexpected dlq %+v", dead)
	}
}

func TestSchemaHookRejectsWithoutRetry(t *testing.T) {
	reader := &chanReader{ch: make(chan kafka.Message, 1)}
	dlq := &memWriter{}
	calls := 0
	c, _ := NewConsumer(
		WithReaderFactory(func(string) MessageReader { return reader }, dlq),
		WithConsumerDLQ("chain_dlq"),
		WithConsumerRetry(5, time.Millisecond, time.Millisecond),
	)
	c.WithConsumerHook(NewHookChain(SchemaHook("schema", "v1"), nil))
	c.RegisterHandler(funcHandler{topic: "chain", fn: func(kafka.Message) error { calls++; return nil }})
	_ = c.Start()

	reader.ch <- kafka.Message{Topic: "chain", Offset: 7, Headers: []kafka.Header{{Key: "schema", Value: []byte("v2")}}}
	waitFor(t, func() bool { return len(dlq.snapshot()) == 1 })
	_ = c.Stop(context.Background())

	if calls != 0 {
		t.Fatalf("handler must not run for rejected schema")
	}
}
