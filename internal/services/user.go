package services

import (
	"context"

	"github.com/yofarm-hub/ussd/internal/ussd"
	"github.com/yofarm-hub/ussd/types"
)

// UserRepository defines persistence operations for users, keyed by phone.
type UserRepository interface {
	Get(ctx context.Context, phone string) (types.User, error)
	GetByTransactionID(ctx context.Context, txID string) (types.User, error)
	Save(ctx context.Context, user types.User) (types.User, error)
	UpdateStatus(ctx context.Context, phone string, status types.Status, txID string) error
	SettleTransaction(ctx context.Context, phone, txID string, status types.Status) (bool, error)
	RecordPaymentStatus(ctx context.Context, phone, raw string) error
	Delete(ctx context.Context, phone string) error
	Ping(ctx context.Context) error
}

// UserService encapsulates operator lookups of user records.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// GetByPhone accepts any supported phone format.
func (s *UserService) GetByPhone(ctx context.Context, phone string) (types.User, error) {
	msisdn, err := ussd.NormalizeMSISDN(phone)
	if err != nil {
		return types.User{}, err
	}
	return s.repo.Get(ctx, msisdn)
}

func (s *UserService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
