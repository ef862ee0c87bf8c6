package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds one consumer's credit balance. The wallet row is the only
// resource requiring row-level mutual exclusion: concurrent gate invocations
// for the same consumer serialize on it.
type Wallet struct {
	ConsumerID     uuid.UUID `json:"consumer_id"`
	Balance        int64     `json:"balance"`
	LifetimeEarned int64     `json:"lifetime_earned"`
	LifetimeSpent  int64     `json:"lifetime_spent"`
	CycleStart     time.Time `json:"cycle_start"`
	CycleEnd       time.Time `json:"cycle_end"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TransactionKind classifies a ledger transaction.
type TransactionKind string

const (
	TransactionSpend  TransactionKind = "spend"
	TransactionTopUp  TransactionKind = "topup"
	TransactionRefund TransactionKind = "refund"
)

// LedgerTransaction is one append-only ledger entry. Rows are never mutated
// or deleted.
type LedgerTransaction struct {
	ID          uuid.UUID       `json:"id"`
	ConsumerID  uuid.UUID       `json:"consumer_id"`
	Delta       int64           `json:"delta"`
	Kind        TransactionKind `json:"kind"`
	ReferenceID *uuid.UUID      `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AccessGrant records that a consumer has paid for a profile and may re-read
// it without being charged again. Created exactly once per (consumer,
// profile) pair.
type AccessGrant struct {
	ID           uuid.UUID `json:"id"`
	ConsumerID   uuid.UUID `json:"consumer_id"`
	ProfileID    uuid.UUID `json:"profile_id"`
	CreditsSpent int64     `json:"credits_spent"`
	GrantedAt    time.Time `json:"granted_at"`
}
