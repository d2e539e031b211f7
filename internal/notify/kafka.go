package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"activity-monitor/internal/alerts"

	"github.com/segmentio/kafka-go"
)

// writeTimeout is the maximum time to wait for a Kafka write.
const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alert notifications keyed by "<rule>:<correlation key>"
// so every notification for one correlation lands on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	clock  func() time.Time
}

// NewKafkaNotifier builds a synchronous writer for a comma-separated broker list.
func NewKafkaNotifier(brokers, topic string) (*KafkaNotifier, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	list := strings.Split(brokers, ",")
	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}

	slog.Info("kafka notifier configured", "brokers", list, "topic", topic)

	w := &kafka.Writer{
		Addr:                   kafka.TCP(list...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return newKafkaNotifier(w, topic), nil
}

func newKafkaNotifier(w messageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic, clock: time.Now}
}

func (k *KafkaNotifier) AlertCreated(ctx context.Context, a alerts.Alert) error {
	payload, err := json.Marshal(Notification{
		Type:     TypeAlertCreated,
		Alert:    a,
		SentAt:   k.clock().UTC(),
		Producer: "activity-monitor",
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(string(a.RuleName) + ":" + a.CorrelationKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypeAlertCreated)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
