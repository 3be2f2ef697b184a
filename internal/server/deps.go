package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/config"
	"github.com/yofarm-hub/ussd/internal/cache"
	"github.com/yofarm-hub/ussd/internal/db"
	"github.com/yofarm-hub/ussd/internal/mq"
	"github.com/yofarm-hub/ussd/internal/payment"
	"github.com/yofarm-hub/ussd/internal/services"
	"github.com/yofarm-hub/ussd/internal/storage"
	"github.com/yofarm-hub/ussd/internal/store"
	"github.com/yofarm-hub/ussd/internal/ussd"
)

// Dependencies are the backends shared by the server and the worker.
type Dependencies struct {
	Users   services.UserRepository
	Gateway *payment.Client
	// Queue is nil when no MQ backend is configured.
	Queue *mq.NotificationQueue
	// Archive is nil when no storage backend is configured.
	Archive *storage.Archive
	Menu    ussd.Menu

	closers []func() error
}

// Build connects every configured backend. On error, whatever was already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (_ *Dependencies, err error) {
	deps := &Dependencies{Menu: MenuFromConfig(cfg)}
	defer func() {
		if err != nil {
			_ = deps.Close()
		}
	}()

	users, closeUsers, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	deps.Users = users
	deps.closers = append(deps.closers, closeUsers)

	var clientOpts []payment.ClientOption
	if cfg.Redis.Addr != "" {
		c := cache.New(cfg.Redis)
		deps.closers = append(deps.closers, c.Close)
		if err := c.Ping(ctx); err != nil {
			log.Warn("shared token cache unreachable, continuing without it", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		clientOpts = append(clientOpts, payment.WithTokenCacheOptions(payment.WithTokenStore(cache.NewTokenStore(c))))
	}
	deps.Gateway = payment.NewClient(cfg.Payment, log, clientOpts...)

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, err
	}
	if queue != nil {
		deps.closers = append(deps.closers, queue.Close)
		deps.Queue = mq.NewNotificationQueue(queue, cfg.MQ.Channel, log)
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if objects != nil {
		deps.Archive = storage.NewArchive(objects)
		if err := deps.Archive.ApplyRetention(ctx, cfg.Storage.RetentionDays); err != nil {
			log.Warn("webhook archive retention not applied", zap.Error(err))
		}
	}

	return deps, nil
}

// Close releases every backend opened by Build.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// MenuFromConfig renders the registration texts from cfg.
func MenuFromConfig(cfg config.Config) ussd.Menu {
	return ussd.Menu{
		ServiceName:  cfg.Registration.ServiceName,
		InquiryPhone: cfg.Registration.InquiryPhone,
		PackageName:  cfg.Registration.PackageName,
		Amount:       cfg.Registration.Amount,
		Currency:     cfg.Payment.Currency,
	}
}

func openStore(ctx context.Context, cfg config.Config) (services.UserRepository, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres, "":
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgresUserRepository(conn), conn.Close, nil
	case config.StoreBackendFirestore:
		repo, err := store.NewFirestoreUserRepository(ctx, cfg.Firestore)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
