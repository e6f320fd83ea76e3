package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"OptionPull/internal/domain/models"
	drepo "OptionPull/internal/domain/repository"
	"OptionPull/internal/repository"
	"OptionPull/pkg/cache"
	pkgkafka "OptionPull/pkg/kafka"
	"OptionPull/pkg/metrics"
)

type countingStore struct {
	*memStore
	queries int
}

func (s *countingStore) Query(ctx context.Context, f drepo.ObservationFilter) ([]*models.Observation, error) {
	s.queries++
	return s.memStore.Query(ctx, f)
}

func TestLatestChainServedFromCycle(t *testing.T) {
	store := &countingStore{memStore: newMemStore()}
	svc := NewObservationService(store, nil, "NIFTY", time.Minute, nil)

	obs := []*models.Observation{{ContractRecord: *record(24000, models.Call, 20000)}}
	svc.OnCycle(context.Background(), obs)

	lc, err := svc.LatestChain(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(lc.Rows) != 1 || !lc.ObservedAt.Equal(cycleObserved) {
		t.Fatalf("unexpected chain %+v", lc)
	}
	if store.queries != 0 {
		t.Fatalf("latest chain should not hit the store after a cycle")
	}
}

func TestLatestChainSharedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "optionpull")
	defer rc.Close()

	writer := NewObservationService(newMemStore(), rc, "NIFTY", time.Minute, nil)
	writer.OnCycle(context.Background(), []*models.Observation{{ContractRecord: *record(24000, models.Put, 20000)}})

	store := &countingStore{memStore: newMemStore()}
	reader := NewObservationService(store, rc, "NIFTY", time.Minute, nil)
	lc, err := reader.LatestChain(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(lc.Rows) != 1 || lc.Rows[0].OptionType != models.Put {
		t.Fatalf("unexpected chain %+v", lc)
	}
	if store.queries != 0 {
		t.Fatalf("reader should use the shared cache")
	}
}

func TestLatestChainFallsBackToStore(t *testing.T) {
	store := &countingStore{memStore: newMemStore()}
	_ = store.UpsertBatch(context.Background(), []*models.Observation{{ContractRecord: *record(24000, models.Call, 1)}})
	svc := NewObservationService(store, nil, "NIFTY", time.Minute, nil)

	lc, err := svc.LatestChain(context.Background())
	if err != nil || len(lc.Rows) != 1 {
		t.Fatalf("expected the stored chain, got %+v / %v", lc, err)
	}
	_, _ = svc.LatestChain(context.Background())
	if store.queries != 1 {
		t.Fatalf("second read should be served from memory, got %d queries", store.queries)
	}
}

func TestHistoryForcesAscending(t *testing.T) {
	store, err := repository.NewSnapshotStore(repository.WithDriver("sqlite", ":memory:"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	_ = store.Init(ctx)
	for i := 0; i < 3; i++ {
		rec := record(24000, models.Call, 20000)
		rec.ObservedAt = cycleObserved.Add(time.Duration(i) * time.Minute)
		_ = store.Upsert(ctx, &models.Observation{ContractRecord: *rec})
	}

	svc := NewObservationService(store, nil, "NIFTY", time.Minute, nil)
	strike := 24000.0
	rows, err := svc.History(ctx, drepo.ObservationFilter{Strike: &strike, OptionType: models.Call, Expiry: &cycleExpiry, Latest: true})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 3 || !rows[0].ObservedAt.Equal(cycleObserved) {
		t.Fatalf("expected 3 rows oldest first, got %d", len(rows))
	}
}

func TestMirrorHandler(t *testing.T) {
	sink := newMemStore()
	h := NewKafkaObservationsHandler("option_chain_data", sink, metrics.Nop{}, time.Second)

	o := &models.Observation{ContractRecord: *record(24000, models.Call, 20000)}
	o.Delta = models.Float(0.5)
	value, err := json.Marshal(o.Message())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.Handle(context.Background(), kafka.Message{Value: value}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sink.len() != 1 {
		t.Fatalf("expected 1 mirrored row")
	}
	for _, got := range sink.rows {
		if got.Delta == nil || *got.Delta != 0.5 || !got.ExpiryDate.Equal(cycleExpiry) {
			t.Fatalf("round trip lost data: %+v", got)
		}
	}

	err = h.Handle(context.Background(), kafka.Message{Value: []byte("{not json")})
	var perm *pkgkafka.PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	err = h.Handle(context.Background(), kafka.Message{Value: []byte(`{"expiry_date":"2024-12-26","option_type":"XX"}`)})
	if !errors.As(err, &perm) {
		t.Fatalf("expected invalid key to be rejected")
	}
}
