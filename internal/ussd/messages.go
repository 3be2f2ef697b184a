package ussd

import (
	"fmt"
	"strconv"

	"github.com/yofarm-hub/ussd/types"
)

// Menu holds the configurable parts of the texts shown to callers.
type Menu struct {
	ServiceName  string
	InquiryPhone string
	PackageName  string
	Amount       int64
	Currency     string
}

const (
	MsgEnterName       = "Enter your full name:"
	MsgSelectRole      = "Select your role:\n1. Farmer\n2. Buyer\n3. Service Provider"
	MsgEnterLocation   = "Enter your Location (District):"
	MsgTerms           = "By continuing, you agree to our Privacy Policy & Terms.\n1. Accept\n2. Decline"
	MsgInvalidChoice   = "Invalid choice. Please dial again. Thank you."
	MsgInvalidRole     = "Invalid role selection. Session ended."
	MsgInvalidInput    = "Invalid input. Session ended."
	MsgInvalidPackage  = "Invalid package selection. Session ended."
	MsgInvalidOption   = "Invalid option. Session ended."
	MsgInvalidSession  = "Invalid session. Please try again."
	MsgCancelled       = "Registration cancelled. Thank you!"
	MsgRestarted       = "Registration reset. Please redial the code to start fresh registration."
	MsgPaymentSent     = "Payment request sent. Confirm on your phone."
	MsgPaymentDeferred = "We cannot process your payment at the moment. Please try again later."
	MsgNoTransaction   = "No transaction found. Please restart registration."
	MsgStatusDeferred  = "Unable to check payment status. Please try again later."
	MsgPaymentFailed   = "Payment failed. Try again later."
	MsgPaymentPending  = "Payment is pending. Confirm again later."
	MsgServiceError    = "Service error. Please try again later."
	MsgInvalidPhone    = "Invalid phone number. Please dial again."
)

func (m Menu) Welcome() string {
	return fmt.Sprintf("Welcome to %s\n1. Register\n2. Exit", m.ServiceName)
}

func (m Menu) Goodbye() string {
	return fmt.Sprintf("Thank you for visiting %s!", m.ServiceName)
}

func (m Menu) TermsDeclined() string {
	return fmt.Sprintf("You must accept the Privacy Policy to use %s. Thank you.", m.ServiceName)
}

func (m Menu) Packages() string {
	return fmt.Sprintf("Choose membership:\n1. %s - %s", m.PackageName, m.Fee())
}

func (m Menu) ConfirmPayment(pkg string) string {
	return fmt.Sprintf("You selected %s.\nPay via Mobile Money?\n1. Yes\n2. Cancel", pkg)
}

func (m Menu) Incomplete(user types.User) string {
	option := "Confirm payment"
	if user.Status == types.StatusFailed {
		option = "Retry payment"
	}
	return fmt.Sprintf("Welcome back %s. Your registration is incomplete.\n1. %s for %s\n2. Restart registration",
		user.Name, option, user.Package)
}

func (m Menu) WelcomeBack() string {
	return fmt.Sprintf("Welcome back to %s\n1. Buy produce or service\n2. Sell produce or service", m.ServiceName)
}

func (m Menu) Partnering() string {
	return fmt.Sprintf("Thank you for partnering with %s. We'll get back ASAP. Inquiries: %s", m.ServiceName, m.InquiryPhone)
}

func (m Menu) Registered(user types.User) string {
	return fmt.Sprintf("Thank you %s!\nYou're now registered as a %s in %s. We'll get back to you ASAP.\nInquiries: %s",
		user.Name, user.Role, user.Location, m.InquiryPhone)
}

// Fee renders the flat fee as "UGX 9,999".
func (m Menu) Fee() string {
	currency := m.Currency
	if currency == "" {
		currency = "UGX"
	}
	return currency + " " + groupThousands(m.Amount)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if n < 0 {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
