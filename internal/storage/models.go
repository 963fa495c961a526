package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session statuses. A session starts pending, is claimed for settlement
// (settling), and ends in exactly one terminal state. needs_review marks a
// settlement whose transfer went out but whose receipt or ledger write did
// not complete; it requires manual reconciliation.
const (
	StatusPending     = "pending"
	StatusSettling    = "settling"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusNeedsReview = "needs_review"
)

// Session directions.
const (
	TypeOnRamp  = "onramp"
	TypeOffRamp = "offramp"
)

// User is an identity keyed by a lower-cased wallet address.
type User struct {
	ID        int64
	Wallet    string
	APIKey    *string
	CreatedAt time.Time
}

// Session is a single ramp attempt.
type Session struct {
	ID           int64
	UserID       int64
	Type         string // onramp | offramp
	FiatAmount   decimal.Decimal
	Currency     string // onramp only
	PayoutMethod string // offramp only
	Token        string // provider client token, or deposit memo for offramp
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transaction is an immutable ledger row written once per successful
// settlement.
type Transaction struct {
	ID         int64
	SessionID  int64
	TxHash     string
	StorageCID string
	Amount     decimal.Decimal
	Status     string // always "success"
	Type       string // copied from session
	Wallet     string
	CreatedAt  time.Time
}
