package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"OptionPull/internal/domain/models"
	domrepo "OptionPull/internal/domain/repository"
	pkgkafka "OptionPull/pkg/kafka"
)

// ObservationSink receives decoded stream observations.
type ObservationSink interface {
	UpsertBatch(ctx context.Context, obs []*models.Observation) error
}

// KafkaObservationsHandler consumes the observation stream and writes it to a sink,
// the ClickHouse mirror in production.
type KafkaObservationsHandler struct {
	topic   string
	sink    ObservationSink
	metrics domrepo.Metrics
	timeout time.Duration
}

func NewKafkaObservationsHandler(topic string, sink ObservationSink, metrics domrepo.Metrics, timeout time.Duration) *KafkaObservationsHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaObservationsHandler{topic: topic, sink: sink, metrics: metrics, timeout: timeout}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// Handle decodes one option_observation.v1 payload. Undecodable payloads are permanent
// failures; sink errors are retried by the consumer.
func (h *KafkaObservationsHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var m models.ObservationMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	o, err := m.Observation()
	if err != nil {
		h.metrics.RecordError("consumer_invalid")
		return pkgkafka.Permanent(err)
	}
	// End-to-end lag from observation to mirror.
	h.metrics.RecordLatency("mirror_lag", time.Since(o.ObservedAt).Seconds())

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	start := time.Now()
	err = h.sink.UpsertBatch(ctx, []*models.Observation{o})
	h.metrics.RecordLatency("mirror_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordMessageSent("mirror", o.Symbol, 1)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
