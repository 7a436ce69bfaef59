/*Package kafka publishes content change notifications to a Kafka topic.
 */
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/webkontor/sitecms/core"
	"github.com/webkontor/sitecms/core/logger"
)

// Notifier implements core.Notifier on top of a Kafka topic.
//
// Messages are keyed "<operation> <resource>" and carry the resource's
// JSON representation as value. Publishing is best effort; a failed
// write is logged and dropped, the content mutation itself has already
// been committed.
type Notifier struct {
	writer *kafka.Writer
}

// NewNotifier returns a new Notifier writing to topic via brokers
func NewNotifier(brokers []string, topic string) *Notifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
	}
	return &Notifier{writer: writer}
}

// Notify publishes one change notification
func (n *Notifier) Notify(resource string, operation core.Operation, payload []byte) {
	err := n.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(string(operation) + " " + resource),
		Value: payload,
	})
	if err != nil {
		logger.Default().WithError(err).Errorf("cannot publish notification for %s %s", operation, resource)
	}
}

// Close closes the underlying writer
func (n *Notifier) Close() error {
	return n.writer.Close()
}
