package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/shuttle-bot/internal/models"
)

// LocationEvent is the wire shape of one driver position report on the
// driver-locations topic, keyed by driver id so a driver's updates stay
// ordered within a partition.
type LocationEvent struct {
	DriverID int64           `json:"driver_id"`
	Location models.Location `json:"location"`
	SentAt   time.Time       `json:"sent_at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishLocation(driverID int64, loc models.Location) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := LocationEvent{DriverID: driverID, Location: loc, SentAt: time.Now().UTC()}
	b, _ := json.Marshal(ev)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(strconv.FormatInt(driverID, 10)), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
