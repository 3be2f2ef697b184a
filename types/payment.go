package types

import "time"

// PaymentNotification is a provider-pushed payment outcome.
type PaymentNotification struct {
	// TransactionID is the provider's transaction reference.
	TransactionID string `json:"transaction_id"`

	// Status is the raw provider status, e.g. "Success" or "SentToVendor".
	Status string `json:"status"`

	// MSISDN is the payer's number when the provider includes it.
	MSISDN string `json:"msisdn,omitempty"`

	// Amount is the collected amount when reported.
	Amount float64 `json:"amount,omitempty"`

	// ReceivedAt is when the webhook was accepted.
	ReceivedAt time.Time `json:"received_at"`
}

// TransactionStatus is a provider status lookup result.
type TransactionStatus struct {
	TransactionID string  `json:"transaction_id"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	Amount        float64 `json:"amount"`

	// Outcome is the lifecycle status the provider status maps onto.
	Outcome Status `json:"outcome"`
}
