package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-passenger/internal/models"
)

// KafkaProducer journals finished rides so they can be persisted away from
// the passenger's machine.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireOne}
	return &KafkaProducer{writer: w}
}

// PublishHistory keys by ride id so every replay of a ride lands on the
// same partition.
func (k *KafkaProducer) PublishHistory(ctx context.Context, e models.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.RideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodeHistory parses one journal message.
func DecodeHistory(value []byte) (models.HistoryEntry, error) {
	var e models.HistoryEntry
	if err := json.Unmarshal(value, &e); err != nil {
		return models.HistoryEntry{}, err
	}
	if e.RideID == "" || e.PassengerID == "" {
		return models.HistoryEntry{}, errors.New("history entry missing ride or passenger id")
	}
	return e, nil
}
