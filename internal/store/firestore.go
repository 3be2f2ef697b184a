package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/yofarm-hub/ussd/config"
	"github.com/yofarm-hub/ussd/types"
)

const defaultUsersCollection = "users"

// FirestoreUserRepository keeps one document per phone number.
type FirestoreUserRepository struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewFirestoreUserRepository constructs a repository from config.
func NewFirestoreUserRepository(ctx context.Context, cfg config.FirestoreConfig) (*FirestoreUserRepository, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("firestore project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultUsersCollection
	}
	return &FirestoreUserRepository{client: client, collection: collection, now: time.Now}, nil
}

func (r *FirestoreUserRepository) Close() error {
	return r.client.Close()
}

func (r *FirestoreUserRepository) doc(phone string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(phone)
}

func isNotFound(err error) bool {
	return grpcstatus.Code(err) == codes.NotFound
}

func (r *FirestoreUserRepository) Get(ctx context.Context, phone string) (types.User, error) {
	snap, err := r.doc(phone).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return decodeUser(snap.Ref.ID, snap.Data())
}

func (r *FirestoreUserRepository) GetByTransactionID(ctx context.Context, txID string) (types.User, error) {
	if txID == "" {
		return types.User{}, ErrNotFound
	}
	snaps, err := r.client.Collection(r.collection).
		Where("transaction_id", "==", txID).
		Limit(1).
		Documents(ctx).
		GetAll()
	if err != nil {
		return types.User{}, err
	}
	if len(snaps) == 0 {
		return types.User{}, ErrNotFound
	}
	return decodeUser(snaps[0].Ref.ID, snaps[0].Data())
}

// Save merges user into the stored document inside a transaction.
func (r *FirestoreUserRepository) Save(ctx context.Context, user types.User) (types.User, error) {
	var saved types.User
	doc := r.doc(user.Phone)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := r.now()
		base := types.User{Phone: user.Phone, Status: types.StatusNew, CreatedAt: now}

		snap, err := tx.Get(doc)
		switch {
		case err == nil:
			if base, err = decodeUser(doc.ID, snap.Data()); err != nil {
				return err
			}
		case !isNotFound(err):
			return err
		}

		saved = mergeUser(base, user)
		saved.UpdatedAt = now
		return tx.Set(doc, encodeUser(saved))
	})
	if err != nil {
		return types.User{}, err
	}
	return saved, nil
}

func (r *FirestoreUserRepository) UpdateStatus(ctx context.Context, phone string, status types.Status, txID string) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updated_at", Value: r.now()},
	}
	if txID != "" {
		updates = append(updates, firestore.Update{Path: "transaction_id", Value: txID})
	}
	return r.update(ctx, phone, updates)
}

// SettleTransaction is a compare-and-set on the outstanding transaction id.
func (r *FirestoreUserRepository) SettleTransaction(ctx context.Context, phone, txID string, status types.Status) (bool, error) {
	if txID == "" {
		return false, nil
	}
	doc := r.doc(phone)
	var applied bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(doc)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if current, _ := snap.Data()["transaction_id"].(string); current != txID {
			return nil
		}
		applied = true
		return tx.Update(doc, []firestore.Update{
			{Path: "status", Value: string(status)},
			{Path: "transaction_id", Value: ""},
			{Path: "updated_at", Value: r.now()},
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *FirestoreUserRepository) RecordPaymentStatus(ctx context.Context, phone, raw string) error {
	return r.update(ctx, phone, []firestore.Update{
		{Path: "payment_status", Value: raw},
		{Path: "updated_at", Value: r.now()},
	})
}

func (r *FirestoreUserRepository) Delete(ctx context.Context, phone string) error {
	_, err := r.doc(phone).Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return ErrNotFound
	}
	return err
}

func (r *FirestoreUserRepository) Ping(ctx context.Context) error {
	_, err := r.client.Collection(r.collection).Limit(1).Documents(ctx).GetAll()
	return err
}

func (r *FirestoreUserRepository) update(ctx context.Context, phone string, updates []firestore.Update) error {
	_, err := r.doc(phone).Update(ctx, updates)
	if isNotFound(err) {
		return ErrNotFound
	}
	return err
}

// mergeUser overlays the non-empty fields of patch onto base. Status is
// always taken from patch when set.
func mergeUser(base, patch types.User) types.User {
	merged := base
	if patch.Name != "" {
		merged.Name = patch.Name
	}
	if patch.Role != "" {
		merged.Role = patch.Role
	}
	if patch.Location != "" {
		merged.Location = patch.Location
	}
	if patch.Package != "" {
		merged.Package = patch.Package
	}
	if patch.Status != "" {
		merged.Status = patch.Status
	}
	if patch.TransactionID != "" {
		merged.TransactionID = patch.TransactionID
	}
	if patch.PaymentStatus != "" {
		merged.PaymentStatus = patch.PaymentStatus
	}
	return merged
}

func encodeUser(u types.User) map[string]any {
	return map[string]any{
		"phone":          u.Phone,
		"name":           u.Name,
		"role":           string(u.Role),
		"location":       u.Location,
		"package":        u.Package,
		"status":         string(u.Status),
		"transaction_id": u.TransactionID,
		"payment_status": u.PaymentStatus,
		"created_at":     u.CreatedAt,
		"updated_at":     u.UpdatedAt,
	}
}

// decodeUser maps a stored document onto the fixed user shape. Missing
// fields are empty; the document id is the phone number.
func decodeUser(id string, data map[string]any) (types.User, error) {
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}
	ts := func(key string) time.Time {
		v, _ := data[key].(time.Time)
		return v
	}

	status, err := types.ParseStatus(str("status"))
	if err != nil {
		return types.User{}, fmt.Errorf("%w: document %s: %w", ErrInvalidRecord, id, err)
	}

	phone := str("phone")
	if phone == "" {
		phone = id
	}
	return types.User{
		Phone:         phone,
		Name:          str("name"),
		Role:          types.Role(str("role")),
		Location:      str("location"),
		Package:       str("package"),
		Status:        status,
		TransactionID: str("transaction_id"),
		PaymentStatus: str("payment_status"),
		CreatedAt:     ts("created_at"),
		UpdatedAt:     ts("updated_at"),
	}, nil
}
