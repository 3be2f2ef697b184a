package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/internal/services"
	"github.com/yofarm-hub/ussd/types"
)

// NotificationSource delivers queued notifications until ctx is done.
type NotificationSource interface {
	Consume(ctx context.Context, handle func(context.Context, types.PaymentNotification) error) error
}

// Reconciler applies a payment notification.
type Reconciler interface {
	Reconcile(ctx context.Context, n types.PaymentNotification) error
}

// Worker reconciles notifications queued by the webhook.
type Worker struct {
	source     NotificationSource
	reconciler Reconciler
	logger     *zap.Logger
}

func New(source NotificationSource, reconciler Reconciler, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{source: source, reconciler: reconciler, logger: log.Named("worker")}
}

// Run blocks until ctx is cancelled or the source fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("reconciliation worker started")
	err := w.source.Consume(ctx, w.handle)
	if errors.Is(err, context.Canceled) {
		w.logger.Info("reconciliation worker stopped")
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, n types.PaymentNotification) error {
	err := w.reconciler.Reconcile(ctx, n)
	if errors.Is(err, services.ErrInvalidNotification) {
		w.logger.Warn("discarding invalid notification", zap.String("provider_status", n.Status))
		return nil
	}
	return err
}
