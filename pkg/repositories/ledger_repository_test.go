//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/testhelpers"
)

// ledgerTestContext holds test dependencies for ledger repository tests.
type ledgerTestContext struct {
	t          *testing.T
	repo       LedgerRepository
	consumerID uuid.UUID
}

func setupLedgerTest(t *testing.T) *ledgerTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	return &ledgerTestContext{
		t:          t,
		repo:       NewLedgerRepository(engineDB.DB),
		consumerID: uuid.New(),
	}
}

func TestLedgerRepository_WalletLifecycle(t *testing.T) {
	tc := setupLedgerTest(t)
	ctx := context.Background()

	wallet, err := tc.repo.CreateWallet(ctx, tc.consumerID, 100)
	if err != nil {
		t.Fatalf("CreateWallet returned error: %v", err)
	}
	if wallet.Balance != 100 {
		t.Errorf("expected balance 100, got %d", wallet.Balance)
	}
	if wallet.LifetimeEarned != 100 {
		t.Errorf("expected lifetime earned 100, got %d", wallet.LifetimeEarned)
	}

	if err := tc.repo.Credit(ctx, tc.consumerID, 50, models.TransactionTopUp, nil); err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}
	if err := tc.repo.Debit(ctx, tc.consumerID, 30, models.TransactionSpend, nil); err != nil {
		t.Fatalf("Debit returned error: %v", err)
	}

	wallet, err = tc.repo.GetWallet(ctx, tc.consumerID)
	if err != nil {
		t.Fatalf("GetWallet returned error: %v", err)
	}
	if wallet.Balance != 120 {
		t.Errorf("expected balance 120, got %d", wallet.Balance)
	}
	if wallet.LifetimeSpent != 30 {
		t.Errorf("expected lifetime spent 30, got %d", wallet.LifetimeSpent)
	}

	txs, err := tc.repo.ListTransactions(ctx, tc.consumerID, 10)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	// Opening top-up, credit, debit.
	if len(txs) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(txs))
	}
	var sum int64
	for _, tx := range txs {
		sum += tx.Delta
	}
	if sum != 120 {
		t.Errorf("ledger deltas must sum to the balance: expected 120, got %d", sum)
	}
}

func TestLedgerRepository_DebitOverdrawRejected(t *testing.T) {
	tc := setupLedgerTest(t)
	ctx := context.Background()

	if _, err := tc.repo.CreateWallet(ctx, tc.consumerID, 10); err != nil {
		t.Fatalf("CreateWallet returned error: %v", err)
	}

	err := tc.repo.Debit(ctx, tc.consumerID, 11, models.TransactionSpend, nil)
	if !errors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	wallet, err := tc.repo.GetWallet(ctx, tc.consumerID)
	if err != nil {
		t.Fatalf("GetWallet returned error: %v", err)
	}
	if wallet.Balance != 10 {
		t.Errorf("rejected debit must not move the balance, got %d", wallet.Balance)
	}

	txs, err := tc.repo.ListTransactions(ctx, tc.consumerID, 10)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("expected only the opening top-up entry, got %d", len(txs))
	}
}

func TestLedgerRepository_DuplicateWalletConflicts(t *testing.T) {
	tc := setupLedgerTest(t)
	ctx := context.Background()

	if _, err := tc.repo.CreateWallet(ctx, tc.consumerID, 10); err != nil {
		t.Fatalf("CreateWallet returned error: %v", err)
	}
	if _, err := tc.repo.CreateWallet(ctx, tc.consumerID, 10); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLedgerRepository_WalletAbsent(t *testing.T) {
	tc := setupLedgerTest(t)
	ctx := context.Background()

	wallet, err := tc.repo.GetWallet(ctx, tc.consumerID)
	if err != nil {
		t.Fatalf("GetWallet returned error: %v", err)
	}
	if wallet != nil {
		t.Error("expected nil wallet for unknown consumer")
	}

	if _, err := tc.repo.GetWalletForUpdate(ctx, tc.consumerID); !errors.Is(err, apperrors.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}

	if err := tc.repo.Debit(ctx, tc.consumerID, 1, models.TransactionSpend, nil); !errors.Is(err, apperrors.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound on debit, got %v", err)
	}
}

func TestLedgerRepository_GrantUniqueness(t *testing.T) {
	tc := setupLedgerTest(t)
	ctx := context.Background()
	profileID := uuid.New()

	grant := &models.AccessGrant{
		ConsumerID:   tc.consumerID,
		ProfileID:    profileID,
		CreditsSpent: 10,
	}
	if err := tc.repo.CreateGrant(ctx, grant); err != nil {
		t.Fatalf("CreateGrant returned error: %v", err)
	}
	if grant.ID == uuid.Nil {
		t.Error("expected grant ID assigned")
	}

	dup := &models.AccessGrant{ConsumerID: tc.consumerID, ProfileID: profileID, CreditsSpent: 10}
	if err := tc.repo.CreateGrant(ctx, dup); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate grant, got %v", err)
	}

	stored, err := tc.repo.GetGrant(ctx, tc.consumerID, profileID)
	if err != nil {
		t.Fatalf("GetGrant returned error: %v", err)
	}
	if stored == nil || stored.ID != grant.ID {
		t.Error("expected the original grant back")
	}

	absent, err := tc.repo.GetGrant(ctx, tc.consumerID, uuid.New())
	if err != nil {
		t.Fatalf("GetGrant returned error: %v", err)
	}
	if absent != nil {
		t.Error("expected nil grant for unknown profile")
	}
}
