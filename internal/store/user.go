package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yofarm-hub/ussd/types"
)

// PostgresUserRepository handles persistence for users in Postgres.
type PostgresUserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, now: time.Now}
}

const userColumns = `phone, name, role, location, package, status, transaction_id, payment_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var (
		user   types.User
		role   string
		status string
	)
	err := row.Scan(
		&user.Phone,
		&user.Name,
		&role,
		&user.Location,
		&user.Package,
		&status,
		&user.TransactionID,
		&user.PaymentStatus,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}

	parsed, err := types.ParseStatus(status)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	user.Status = parsed
	user.Role = types.Role(role)
	return user, nil
}

func (r *PostgresUserRepository) Get(ctx context.Context, phone string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, phone))
}

// GetByTransactionID finds the user whose outstanding attempt is txID.
func (r *PostgresUserRepository) GetByTransactionID(ctx context.Context, txID string) (types.User, error) {
	if txID == "" {
		return types.User{}, ErrNotFound
	}
	const query = `SELECT ` + userColumns + ` FROM users WHERE transaction_id = $1 LIMIT 1`
	return scanUser(r.db.QueryRowContext(ctx, query, txID))
}

// Save creates the record or merges user into it. Empty fields keep the
// stored values.
func (r *PostgresUserRepository) Save(ctx context.Context, user types.User) (types.User, error) {
	now := r.now()
	if user.Status == "" {
		user.Status = types.StatusNew
	}

	const query = `
		INSERT INTO users (phone, name, role, location, package, status, transaction_id, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (phone) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			role = COALESCE(NULLIF(EXCLUDED.role, ''), users.role),
			location = COALESCE(NULLIF(EXCLUDED.location, ''), users.location),
			package = COALESCE(NULLIF(EXCLUDED.package, ''), users.package),
			status = EXCLUDED.status,
			transaction_id = COALESCE(NULLIF(EXCLUDED.transaction_id, ''), users.transaction_id),
			payment_status = COALESCE(NULLIF(EXCLUDED.payment_status, ''), users.payment_status),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(
		ctx,
		query,
		user.Phone,
		user.Name,
		string(user.Role),
		user.Location,
		user.Package,
		string(user.Status),
		user.TransactionID,
		user.PaymentStatus,
		now,
	))
}

// UpdateStatus sets the status and, when txID is not empty, the
// outstanding transaction id.
func (r *PostgresUserRepository) UpdateStatus(ctx context.Context, phone string, status types.Status, txID string) error {
	const query = `
		UPDATE users
		SET status = $1,
			transaction_id = COALESCE(NULLIF($2::text, ''), transaction_id),
			updated_at = $3
		WHERE phone = $4`
	return r.execOne(ctx, query, string(status), txID, r.now(), phone)
}

// SettleTransaction moves the user to status and clears the outstanding
// transaction id, only if txID is still outstanding. It reports whether the
// record changed.
func (r *PostgresUserRepository) SettleTransaction(ctx context.Context, phone, txID string, status types.Status) (bool, error) {
	const query = `
		UPDATE users
		SET status = $1,
			transaction_id = '',
			updated_at = $2
		WHERE phone = $3 AND transaction_id = $4 AND transaction_id <> ''`
	result, err := r.db.ExecContext(ctx, query, string(status), r.now(), phone, txID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordPaymentStatus stores the raw provider status of the last notification.
func (r *PostgresUserRepository) RecordPaymentStatus(ctx context.Context, phone, raw string) error {
	const query = `UPDATE users SET payment_status = $1, updated_at = $2 WHERE phone = $3`
	return r.execOne(ctx, query, raw, r.now(), phone)
}

func (r *PostgresUserRepository) Delete(ctx context.Context, phone string) error {
	const query = `DELETE FROM users WHERE phone = $1`
	return r.execOne(ctx, query, phone)
}

func (r *PostgresUserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresUserRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
