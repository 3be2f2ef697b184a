package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/internal/lifecycle"
	"github.com/yofarm-hub/ussd/internal/logger"
	"github.com/yofarm-hub/ussd/internal/payment"
	"github.com/yofarm-hub/ussd/internal/store"
	"github.com/yofarm-hub/ussd/internal/ussd"
	"github.com/yofarm-hub/ussd/types"
)

// ErrInvalidNotification is returned for notifications without a transaction
// id or status.
var ErrInvalidNotification = errors.New("invalid payment notification")

// Flow prefixes the external id of a collection.
type Flow string

const (
	FlowRegistration Flow = "REG"
	FlowRetry        Flow = "RETRY"
)

// PaymentGateway is the mobile money provider.
type PaymentGateway interface {
	InitiateCollection(ctx context.Context, req payment.CollectionRequest) (payment.CollectionResult, error)
	CheckStatus(ctx context.Context, txID string) (types.TransactionStatus, error)
}

// PaymentService initiates, confirms and reconciles membership payments.
type PaymentService struct {
	repo    UserRepository
	gateway PaymentGateway
	menu    ussd.Menu
	logger  *zap.Logger
	now     func() time.Time
}

func NewPaymentService(repo UserRepository, gateway PaymentGateway, menu ussd.Menu, log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{
		repo:    repo,
		gateway: gateway,
		menu:    menu,
		logger:  log.Named("payment"),
		now:     time.Now,
	}
}

// Initiate requests a collection for user and persists the outcome. For the
// registration flow user is the draft collected by the menu; for retries it
// is the stored record.
func (s *PaymentService) Initiate(ctx context.Context, user types.User, flow Flow) (ussd.Response, error) {
	current := user.Status
	if current == "" {
		current = types.StatusNew
	}
	if err := lifecycle.ValidateTransition(current, types.StatusPending); err != nil {
		return ussd.Response{}, err
	}

	req := payment.CollectionRequest{
		Phone:      user.Phone,
		Amount:     s.menu.Amount,
		ExternalID: fmt.Sprintf("%s_%s_%d", flow, user.Phone, s.now().Unix()),
	}
	if flow == FlowRetry {
		req.PayerNote = s.menu.ServiceName + " Registration Retry"
		req.PayeeNote = "Registration retry for " + user.Name
	} else {
		req.PayerNote = s.menu.ServiceName + " Registration"
		req.PayeeNote = "Registration for " + user.Name
	}

	res, err := s.gateway.InitiateCollection(ctx, req)
	if err == nil && payment.Classify(res.Status) == payment.OutcomeFailed {
		err = fmt.Errorf("collection rejected with status %q: %s", res.Status, res.Message)
	}
	if err != nil {
		s.logger.Warn("collection initiation failed",
			logger.Phone(user.Phone),
			zap.String("flow", string(flow)),
			zap.String("external_id", req.ExternalID),
			zap.Error(err),
		)
		if err := s.persist(ctx, user, flow, types.StatusFailed, ""); err != nil {
			return ussd.Response{}, err
		}
		return ussd.End(ussd.MsgPaymentDeferred), nil
	}

	if err := s.persist(ctx, user, flow, types.StatusPending, res.TransactionID); err != nil {
		return ussd.Response{}, err
	}
	s.logger.Info("collection pending",
		logger.Phone(user.Phone),
		zap.String("flow", string(flow)),
		zap.String("transaction_id", res.TransactionID),
	)
	return ussd.End(ussd.MsgPaymentSent), nil
}

// persist writes the outcome of an initiation. A failed retry keeps the
// stale transaction id.
func (s *PaymentService) persist(ctx context.Context, user types.User, flow Flow, status types.Status, txID string) error {
	if flow == FlowRetry {
		if err := s.repo.UpdateStatus(ctx, user.Phone, status, txID); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	}

	user.Status = status
	user.TransactionID = txID
	if _, err := s.repo.Save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Confirm polls the provider for the outstanding transaction of user.
func (s *PaymentService) Confirm(ctx context.Context, user types.User) (ussd.Response, error) {
	if user.TransactionID == "" {
		return ussd.End(ussd.MsgNoTransaction), nil
	}

	st, err := s.gateway.CheckStatus(ctx, user.TransactionID)
	if err != nil {
		s.logger.Warn("status check failed",
			logger.Phone(user.Phone),
			zap.String("transaction_id", user.TransactionID),
			zap.Error(err),
		)
		return ussd.End(ussd.MsgStatusDeferred), nil
	}

	switch st.Outcome {
	case types.StatusRegistered:
		if err := lifecycle.ValidateTransition(user.Status, types.StatusRegistered); err != nil {
			return ussd.Response{}, err
		}
		applied, err := s.repo.SettleTransaction(ctx, user.Phone, user.TransactionID, types.StatusRegistered)
		if err != nil {
			return ussd.Response{}, fmt.Errorf("settle transaction: %w", err)
		}
		s.logger.Info("registration completed",
			logger.Phone(user.Phone),
			zap.String("transaction_id", user.TransactionID),
			zap.Bool("already_settled", !applied),
		)
		return ussd.End(s.menu.Registered(user)), nil

	case types.StatusPending:
		return ussd.End(ussd.MsgPaymentPending), nil

	default:
		if err := lifecycle.ValidateTransition(user.Status, types.StatusFailed); err != nil {
			return ussd.Response{}, err
		}
		if err := s.repo.UpdateStatus(ctx, user.Phone, types.StatusFailed, ""); err != nil {
			return ussd.Response{}, fmt.Errorf("update status: %w", err)
		}
		s.logger.Info("payment failed",
			logger.Phone(user.Phone),
			zap.String("transaction_id", user.TransactionID),
			zap.String("provider_status", st.Status),
		)
		return ussd.End(ussd.MsgPaymentFailed), nil
	}
}

// Reconcile applies a provider notification. Notifications for unknown
// transactions and duplicates are acknowledged without changes.
func (s *PaymentService) Reconcile(ctx context.Context, n types.PaymentNotification) error {
	if n.TransactionID == "" || strings.TrimSpace(n.Status) == "" {
		return ErrInvalidNotification
	}
	log := s.logger.With(zap.String("transaction_id", n.TransactionID), zap.String("provider_status", n.Status))

	user, err := s.lookup(ctx, n)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("notification for unknown transaction")
		return nil
	}
	if err != nil {
		return err
	}
	log = log.With(logger.Phone(user.Phone))

	outcome := payment.Classify(n.Status)
	switch outcome {
	case payment.OutcomeSucceeded:
		if lifecycle.IsTerminal(user.Status) {
			log.Info("duplicate success notification")
			return nil
		}
		if err := lifecycle.ValidateTransition(user.Status, types.StatusRegistered); err != nil {
			// The caller has paid but the record cannot move to registered.
			log.Error("payment received for a registration that cannot complete",
				zap.String("status", string(user.Status)),
				zap.Any("allowed", lifecycle.AllowedTransitions(user.Status)),
				zap.String("stored_transaction_id", user.TransactionID),
				zap.Error(err),
			)
			return s.recordStatus(ctx, user.Phone, n.Status)
		}
		applied, err := s.repo.SettleTransaction(ctx, user.Phone, n.TransactionID, types.StatusRegistered)
		if err != nil {
			return fmt.Errorf("settle transaction: %w", err)
		}
		if !applied {
			log.Info("transaction no longer outstanding")
			return nil
		}
		log.Info("registration completed by notification")
		return nil

	case payment.OutcomeFailed:
		if err := s.recordStatus(ctx, user.Phone, n.Status); err != nil {
			return err
		}
		if user.Status != types.StatusPending || user.TransactionID != n.TransactionID {
			return nil
		}
		if err := s.repo.UpdateStatus(ctx, user.Phone, types.StatusFailed, ""); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		log.Info("payment failed by notification")
		return nil

	default:
		if outcome == payment.OutcomeUnknown {
			log.Warn("unmapped provider status in notification",
				zap.Error(fmt.Errorf("%w: %q", payment.ErrUnknownStatus, n.Status)))
		}
		return s.recordStatus(ctx, user.Phone, n.Status)
	}
}

func (s *PaymentService) lookup(ctx context.Context, n types.PaymentNotification) (types.User, error) {
	if n.MSISDN != "" {
		if msisdn, err := ussd.NormalizeMSISDN(n.MSISDN); err == nil {
			user, err := s.repo.Get(ctx, msisdn)
			if err == nil {
				return user, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return types.User{}, err
			}
		}
	}
	return s.repo.GetByTransactionID(ctx, n.TransactionID)
}

func (s *PaymentService) recordStatus(ctx context.Context, phone, raw string) error {
	if err := s.repo.RecordPaymentStatus(ctx, phone, raw); err != nil {
		return fmt.Errorf("record payment status: %w", err)
	}
	return nil
}

// TransactionStatus returns the provider view of a transaction.
func (s *PaymentService) TransactionStatus(ctx context.Context, txID string) (types.TransactionStatus, error) {
	return s.gateway.CheckStatus(ctx, txID)
}
