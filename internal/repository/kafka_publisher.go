package repository

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/segmentio/kafka-go"

	"OptionPull/internal/domain/errs"
	"OptionPull/internal/domain/models"
	"OptionPull/internal/domain/repository"
	pkgkafka "OptionPull/pkg/kafka"
)

// SchemaHeader carries the payload schema name on every stream message.
const SchemaHeader = "schema"

// KafkaPublisher streams observations to one topic, keyed per contract.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, o *models.Observation) error {
	return p.PublishBatch(ctx, []*models.Observation{o})
}

// PublishBatch sends the observations in one write. Messages for the same contract
// share a key and so land on the same partition in observed_at order.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, obs []*models.Observation) error {
	msgs := make([]pkgkafka.Message, 0, len(obs))
	for _, o := range obs {
		if o == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{
			Key:     o.StreamKey(),
			Value:   o.Message(),
			Headers: map[string]string{SchemaHeader: models.MessageSchema},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return errs.Publish(p.topic, isTransientKafkaError(err), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func isTransientKafkaError(err error) bool {
	if errs.IsTimeout(err) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var we kafka.WriteErrors
	if errors.As(err, &we) {
		for _, e := range we {
			if e != nil && !isTransientKafkaError(e) {
				return false
			}
		}
		return true
	}
	var ke kafka.Error
	if errors.As(err, &ke) {
		return ke.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
