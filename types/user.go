package types

import (
	"fmt"
	"strings"
	"time"
)

// Status is the registration lifecycle state persisted on a user record.
type Status string

const (
	// StatusNew means no completed registration and no outstanding payment.
	StatusNew Status = "new"
	// StatusPending means a collection was initiated and its outcome is not yet known.
	StatusPending Status = "pending"
	// StatusFailed means initiation or confirmation of the payment failed.
	StatusFailed Status = "failed"
	// StatusRegistered means the membership fee was confirmed as paid.
	StatusRegistered Status = "registered"
)

// ParseStatus maps a stored status string onto the lifecycle. An empty value
// is treated as StatusNew.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatusNew:
		return StatusNew, nil
	case StatusPending:
		return StatusPending, nil
	case StatusFailed:
		return StatusFailed, nil
	case StatusRegistered:
		return StatusRegistered, nil
	default:
		return "", fmt.Errorf("unknown user status %q", raw)
	}
}

// Role is the marketplace role a caller registers under.
type Role string

const (
	RoleFarmer          Role = "Farmer"
	RoleBuyer           Role = "Buyer"
	RoleServiceProvider Role = "Service Provider"
)

// User is a registered (or registering) caller.
// One record exists per phone number.
type User struct {
	// Phone is the canonical MSISDN and the record key. It never changes.
	Phone string `json:"phone" db:"phone" firestore:"phone"`

	// Name is the caller's full name as typed during registration.
	Name string `json:"name" db:"name" firestore:"name"`

	// Role is the marketplace role chosen from the role menu.
	Role Role `json:"role" db:"role" firestore:"role"`

	// Location is the free-text district entered by the caller.
	Location string `json:"location" db:"location" firestore:"location"`

	// Package identifies the chosen membership tier.
	Package string `json:"package" db:"package" firestore:"package"`

	// Status is the lifecycle state of the registration.
	Status Status `json:"status" db:"status" firestore:"status"`

	// TransactionID is the provider id of the outstanding payment attempt.
	// It is empty when no attempt is outstanding.
	TransactionID string `json:"transaction_id" db:"transaction_id" firestore:"transaction_id"`

	// PaymentStatus is the last raw status pushed by the payment provider.
	PaymentStatus string `json:"payment_status,omitempty" db:"payment_status" firestore:"payment_status"`

	// CreatedAt is set by the store when the record is first written.
	CreatedAt time.Time `json:"created_at" db:"created_at" firestore:"created_at"`

	// UpdatedAt is set by the store on every write.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" firestore:"updated_at"`
}
