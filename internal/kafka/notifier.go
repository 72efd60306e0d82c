package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/dejobratic/storefront/internal/orders/ports"
)

// Notifier hands notifications to the mail relay through a Kafka topic.
type Notifier struct {
	writer   MessageWriter
	producer string
	now      func() time.Time
}

func NewNotifier(writer MessageWriter, producer string) *Notifier {
	return &Notifier{
		writer:   writer,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Notify is keyed by recipient.
func (n *Notifier) Notify(ctx context.Context, msg ports.Notification) error {
	env, err := newEnvelope(ctx, n.producer, EventStockDepleted, msg.Recipient, msg, n.now())
	if err != nil {
		return err
	}
	return writeEnvelope(ctx, n.writer, msg.Recipient, env)
}

// Close flushes pending messages.
func (n *Notifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs notifications. Used when no brokers are configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg ports.Notification) error {
	n.logger.InfoContext(ctx, "notification",
		"recipient", msg.Recipient,
		"subject", msg.Subject,
		"message", msg.Message,
	)
	return nil
}
