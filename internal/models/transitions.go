package models

// Cause describes who drove a transition
type Cause string

const (
	CauseCreateOK    Cause = "create_ok"
	CauseCreateError Cause = "create_error"
	CauseVerify      Cause = "verify"
	CauseVerifyFail  Cause = "verify_failed"
	CauseWebhook     Cause = "webhook"
	CauseRefund      Cause = "refund"
	CauseAdmin       Cause = "admin"
)

type transition struct {
	from PaymentStatus
	to   PaymentStatus
}

// permitted maps each legal transition to whether only an admin may apply it
var permitted = map[transition]bool{
	{PaymentStatusPending, PaymentStatusProcessing}:   false,
	{PaymentStatusPending, PaymentStatusFailed}:       false,
	{PaymentStatusPending, PaymentStatusCompleted}:    false,
	{PaymentStatusProcessing, PaymentStatusCompleted}: false,
	{PaymentStatusProcessing, PaymentStatusFailed}:    false,
	{PaymentStatusCompleted, PaymentStatusRefunded}:   false,
	{PaymentStatusCompleted, PaymentStatusFailed}:     true,
}

// CanTransition reports whether from -> to is legal for the given cause
func CanTransition(from, to PaymentStatus, cause Cause) bool {
	adminOnly, ok := permitted[transition{from, to}]
	if !ok {
		return false
	}
	if adminOnly {
		return cause == CauseAdmin
	}
	return true
}

// IsTerminal reports whether no non-admin transition leaves s
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}
