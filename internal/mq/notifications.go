package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/types"
)

const (
	attrTransactionID = "transaction_id"
	attrStatus        = "status"
)

// NotificationQueue carries payment notifications from the webhook to the
// reconciliation worker.
type NotificationQueue struct {
	mq      *MQ
	channel string
	logger  *zap.Logger
}

func NewNotificationQueue(m *MQ, channel string, log *zap.Logger) *NotificationQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationQueue{mq: m, channel: channel, logger: log.Named("mq")}
}

// Publish enqueues n and returns the broker message id.
func (q *NotificationQueue) Publish(ctx context.Context, n types.PaymentNotification) (string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return q.mq.Publish(ctx, q.channel, data, map[string]string{
		attrTransactionID: n.TransactionID,
		attrStatus:        n.Status,
	})
}

// Consume blocks, passing each notification to handle until ctx is done.
// Undecodable messages are acknowledged and dropped. A notification whose
// handler fails is retried under the backend's retry policy and then moved
// to the dead-letter destination of the channel.
func (q *NotificationQueue) Consume(ctx context.Context, handle func(context.Context, types.PaymentNotification) error) error {
	return q.mq.Subscribe(ctx, q.channel, func(ctx context.Context, msg Message) error {
		var n types.PaymentNotification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			q.logger.Error("dropping undecodable notification", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		if err := handle(ctx, n); err != nil {
			q.logger.Warn("notification reconciliation failed",
				zap.String("message_id", msg.ID),
				zap.Int("attempt", msg.Attempt),
				zap.String("transaction_id", n.TransactionID),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
}
