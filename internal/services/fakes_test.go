package services

import (
	"context"
	"sync"

	"github.com/yofarm-hub/ussd/internal/payment"
	"github.com/yofarm-hub/ussd/internal/store"
	"github.com/yofarm-hub/ussd/types"
)

// memoryRepo mirrors the merge and compare-and-set semantics of the stores.
type memoryRepo struct {
	mu      sync.Mutex
	users   map[string]types.User
	getErr  error
	saves   int
	deletes int
}

func newMemoryRepo(users ...types.User) *memoryRepo {
	r := &memoryRepo{users: map[string]types.User{}}
	for _, u := range users {
		r.users[u.Phone] = u
	}
	return r
}

func (r *memoryRepo) user(phone string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[phone]
	return u, ok
}

func (r *memoryRepo) Get(ctx context.Context, phone string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return types.User{}, r.getErr
	}
	u, ok := r.users[phone]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *memoryRepo) GetByTransactionID(ctx context.Context, txID string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if txID != "" && u.TransactionID == txID {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryRepo) Save(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	merged, ok := r.users[user.Phone]
	if !ok {
		merged = types.User{Phone: user.Phone}
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&merged.Name, user.Name)
	set(&merged.Location, user.Location)
	set(&merged.Package, user.Package)
	set(&merged.TransactionID, user.TransactionID)
	set(&merged.PaymentStatus, user.PaymentStatus)
	if user.Role != "" {
		merged.Role = user.Role
	}
	merged.Status = user.Status
	r.users[user.Phone] = merged
	return merged, nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, phone string, status types.Status, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[phone]
	if !ok {
		return store.ErrNotFound
	}
	u.Status = status
	if txID != "" {
		u.TransactionID = txID
	}
	r.users[phone] = u
	return nil
}

func (r *memoryRepo) SettleTransaction(ctx context.Context, phone, txID string, status types.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[phone]
	if !ok || txID == "" || u.TransactionID != txID {
		return false, nil
	}
	u.Status = status
	u.TransactionID = ""
	r.users[phone] = u
	return true, nil
}

func (r *memoryRepo) RecordPaymentStatus(ctx context.Context, phone, raw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[phone]
	if !ok {
		return store.ErrNotFound
	}
	u.PaymentStatus = raw
	r.users[phone] = u
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[phone]; !ok {
		return store.ErrNotFound
	}
	r.deletes++
	delete(r.users, phone)
	return nil
}

func (r *memoryRepo) Ping(ctx context.Context) error {
	return nil
}

type fakeGateway struct {
	mu              sync.Mutex
	initiateCalls   []payment.CollectionRequest
	statusCalls     int
	InitiateFunc    func(req payment.CollectionRequest) (payment.CollectionResult, error)
	CheckStatusFunc func(txID string) (types.TransactionStatus, error)
}

func (g *fakeGateway) InitiateCollection(ctx context.Context, req payment.CollectionRequest) (payment.CollectionResult, error) {
	g.mu.Lock()
	g.initiateCalls = append(g.initiateCalls, req)
	g.mu.Unlock()
	if g.InitiateFunc != nil {
		return g.InitiateFunc(req)
	}
	return payment.CollectionResult{TransactionID: "tx-1", Status: "Pending"}, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, txID string) (types.TransactionStatus, error) {
	g.mu.Lock()
	g.statusCalls++
	g.mu.Unlock()
	if g.CheckStatusFunc != nil {
		return g.CheckStatusFunc(txID)
	}
	return types.TransactionStatus{TransactionID: txID, Status: "Pending", Outcome: types.StatusPending}, nil
}

func (g *fakeGateway) initiations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initiateCalls)
}
