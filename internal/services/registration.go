package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/internal/logger"
	"github.com/yofarm-hub/ussd/internal/store"
	"github.com/yofarm-hub/ussd/internal/ussd"
	"github.com/yofarm-hub/ussd/types"
)

// RegistrationService answers USSD callbacks.
type RegistrationService struct {
	repo     UserRepository
	payments *PaymentService
	machine  *ussd.Machine
	logger   *zap.Logger
}

func NewRegistrationService(repo UserRepository, payments *PaymentService, machine *ussd.Machine, log *zap.Logger) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationService{
		repo:     repo,
		payments: payments,
		machine:  machine,
		logger:   log.Named("registration"),
	}
}

// HandleCallback returns the reply for one gateway callback. It never fails:
// unexpected errors become a generic terminal message.
func (s *RegistrationService) HandleCallback(ctx context.Context, phone, text string) (resp ussd.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling callback", logger.Phone(phone), zap.Any("panic", r))
			resp = ussd.End(ussd.MsgServiceError)
		}
	}()

	msisdn, err := ussd.NormalizeMSISDN(phone)
	if err != nil {
		s.logger.Info("rejected callback", zap.Error(err))
		return ussd.End(ussd.MsgInvalidPhone)
	}

	resp, err = s.handle(ctx, msisdn, ussd.Segment(text))
	if err != nil {
		s.logger.Error("callback failed", logger.Phone(msisdn), zap.Error(err))
		return ussd.End(ussd.MsgServiceError)
	}
	return resp
}

func (s *RegistrationService) handle(ctx context.Context, msisdn string, inputs []string) (ussd.Response, error) {
	var current *types.User
	user, err := s.repo.Get(ctx, msisdn)
	switch {
	case err == nil:
		current = &user
	case !errors.Is(err, store.ErrNotFound):
		return ussd.Response{}, fmt.Errorf("load user: %w", err)
	}

	d := s.machine.Decide(current, inputs)
	switch d.Action {
	case ussd.ActionInitiatePayment:
		draft := d.Draft
		draft.Phone = msisdn
		return s.payments.Initiate(ctx, draft, FlowRegistration)
	case ussd.ActionRetryPayment:
		return s.payments.Initiate(ctx, d.Draft, FlowRetry)
	case ussd.ActionConfirmPayment:
		return s.payments.Confirm(ctx, d.Draft)
	case ussd.ActionRestart:
		if err := s.repo.Delete(ctx, msisdn); err != nil && !errors.Is(err, store.ErrNotFound) {
			return ussd.Response{}, fmt.Errorf("delete user: %w", err)
		}
		s.logger.Info("registration restarted", logger.Phone(msisdn))
		return d.Response, nil
	default:
		return d.Response, nil
	}
}
