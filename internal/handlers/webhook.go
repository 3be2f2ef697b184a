package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/internal/logger"
	"github.com/yofarm-hub/ussd/internal/services"
	"github.com/yofarm-hub/ussd/types"
)

const maxWebhookBytes = 64 << 10

// Reconciler applies a payment notification.
type Reconciler interface {
	Reconcile(ctx context.Context, n types.PaymentNotification) error
}

// NotificationPublisher hands a notification to the reconciliation worker.
type NotificationPublisher interface {
	Publish(ctx context.Context, n types.PaymentNotification) (string, error)
}

// PayloadArchiver keeps the raw webhook body.
type PayloadArchiver interface {
	StoreWebhook(ctx context.Context, txID string, payload []byte, receivedAt time.Time) (string, error)
}

// WebhookHandler accepts provider payment notifications.
type WebhookHandler struct {
	reconciler Reconciler
	publisher  NotificationPublisher
	archive    PayloadArchiver
	logger     *zap.Logger
	now        func() time.Time
}

// NewWebhookHandler constructs the handler. publisher and archive are
// optional; without a publisher notifications are reconciled inline.
func NewWebhookHandler(reconciler Reconciler, publisher NotificationPublisher, archive PayloadArchiver, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{
		reconciler: reconciler,
		publisher:  publisher,
		archive:    archive,
		logger:     log.Named("webhook"),
		now:        time.Now,
	}
}

// WebhookRouter registers the provider callback on the given router.
func WebhookRouter(r chi.Router, handler *WebhookHandler) {
	r.Post("/webhook", handler.Notify)
}

// Notify answers 200 once the notification is durably handed off. Failures
// answer 5xx so the provider redelivers.
func (h *WebhookHandler) Notify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	receivedAt := h.now().UTC()
	n, err := decodeNotification(body, receivedAt)
	if err != nil {
		h.logger.Warn("rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := h.logger.With(zap.String("transaction_id", n.TransactionID), zap.String("provider_status", n.Status))
	if n.MSISDN != "" {
		log = log.With(logger.Phone(n.MSISDN))
	}

	if h.archive != nil {
		if key, err := h.archive.StoreWebhook(r.Context(), n.TransactionID, body, receivedAt); err != nil {
			log.Warn("webhook not archived", zap.Error(err))
		} else {
			log.Debug("webhook archived", zap.String("key", key))
		}
	}

	if h.publisher != nil {
		id, err := h.publisher.Publish(r.Context(), n)
		if err == nil {
			log.Info("notification queued", zap.String("message_id", id))
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
			return
		}
		log.Warn("queue unavailable, reconciling inline", zap.Error(err))
	}

	if err := h.reconciler.Reconcile(r.Context(), n); err != nil {
		if errors.Is(err, services.ErrInvalidNotification) {
			writeError(w, http.StatusBadRequest, "invalid notification")
			return
		}
		log.Error("reconciliation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

var (
	transactionKeys = [][]string{{"transaction_id"}, {"transactionId"}, {"id"}, {"reference"}, {"data", "transaction_id"}, {"data", "id"}}
	statusKeys      = [][]string{{"status"}, {"transaction_status"}, {"state"}, {"data", "status"}}
	msisdnKeys      = [][]string{{"msisdn"}, {"phone"}, {"payer"}, {"customer", "msisdn"}, {"data", "payer"}}
	amountKeys      = [][]string{{"amount"}, {"data", "amount"}}
)

// decodeNotification reads the provider payload, tolerating the field
// spellings seen across provider versions.
func decodeNotification(body []byte, receivedAt time.Time) (types.PaymentNotification, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.PaymentNotification{}, fmt.Errorf("malformed payload: %w", err)
	}

	n := types.PaymentNotification{
		TransactionID: firstString(payload, transactionKeys),
		Status:        firstString(payload, statusKeys),
		MSISDN:        firstString(payload, msisdnKeys),
		ReceivedAt:    receivedAt,
	}
	if raw := firstString(payload, amountKeys); raw != "" {
		if amount, err := strconv.ParseFloat(raw, 64); err == nil {
			n.Amount = amount
		}
	}

	if n.TransactionID == "" {
		return types.PaymentNotification{}, errors.New("missing transaction id")
	}
	if n.Status == "" {
		return types.PaymentNotification{}, errors.New("missing status")
	}
	return n, nil
}

func firstString(payload map[string]any, paths [][]string) string {
	for _, path := range paths {
		if v := lookup(payload, path); v != "" {
			return v
		}
	}
	return ""
}

func lookup(payload map[string]any, path []string) string {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
