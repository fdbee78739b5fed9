package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/service"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const DefaultTopic = "cart-events"

// KafkaNotifier publishes cart events keyed by session id, so one session's
// events stay ordered within a partition. Writes are asynchronous; delivery
// errors are logged.
type KafkaNotifier struct {
	writer *kafka.Writer
	log    logrus.FieldLogger
}

func NewKafkaNotifier(topic string, log logrus.FieldLogger, brokers ...string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	n := &KafkaNotifier{log: log}
	n.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				n.log.WithError(err).WithField("messages", len(messages)).Error("failed to publish cart events")
			}
		},
	}
	return n
}

func (n *KafkaNotifier) Notify(ctx context.Context, e service.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		n.log.WithError(err).Error("failed to marshal cart event")
		return
	}

	msg := kafka.Message{
		Key:   []byte(e.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	// async writer: this only enqueues
	if err := n.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		n.log.WithError(err).WithField("event", e.Type).Error("failed to enqueue cart event")
	}
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
