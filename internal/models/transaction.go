package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionState values are the ones the payment gateway uses on the wire
type TransactionState int

const (
	StateCreated            TransactionState = 1
	StatePaid               TransactionState = 2
	StateCancelled          TransactionState = -1
	StateCancelledAfterPaid TransactionState = -2
)

func (s TransactionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePaid:
		return "paid"
	case StateCancelled:
		return "cancelled"
	case StateCancelledAfterPaid:
		return "cancelled_after_paid"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s TransactionState) IsCancelled() bool {
	return s == StateCancelled || s == StateCancelledAfterPaid
}

// Settled means the payer has nothing left to do: paid or cancelled in any way
func (s TransactionState) IsSettled() bool {
	return s == StatePaid || s.IsCancelled()
}

func (s TransactionState) Valid() bool {
	switch s {
	case StateCreated, StatePaid, StateCancelled, StateCancelledAfterPaid:
		return true
	default:
		return false
	}
}

// Transaction is a single payment attempt opened on the gateway.
// ExternalID is assigned by the gateway and never changes.
// Times are milliseconds since epoch, zero until reached.
type Transaction struct {
	ID           uuid.UUID
	ExternalID   string
	UserID       int64
	Amount       int64 // minor currency units
	Credits      int64
	State        TransactionState
	CreateTime   int64
	PerformTime  int64
	CancelTime   int64
	CancelReason *int // nil unless cancelled
}

// Amount in major currency units (100 minor units each)
func (t Transaction) Sum() decimal.Decimal {
	return decimal.New(t.Amount, -2)
}
