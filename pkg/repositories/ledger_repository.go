package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/models"
)

// LedgerRepository defines the interface for wallet, transaction, and grant
// data access. Debit, Credit, CreateGrant, and GetWalletForUpdate are meant
// to run inside a gate transaction (database.InTx); the reads work either
// way.
type LedgerRepository interface {
	GetWallet(ctx context.Context, consumerID uuid.UUID) (*models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, consumerID uuid.UUID) (*models.Wallet, error)
	CreateWallet(ctx context.Context, consumerID uuid.UUID, initialBalance int64) (*models.Wallet, error)
	Debit(ctx context.Context, consumerID uuid.UUID, amount int64, kind models.TransactionKind, referenceID *uuid.UUID) error
	Credit(ctx context.Context, consumerID uuid.UUID, amount int64, kind models.TransactionKind, referenceID *uuid.UUID) error
	GetGrant(ctx context.Context, consumerID, profileID uuid.UUID) (*models.AccessGrant, error)
	CreateGrant(ctx context.Context, grant *models.AccessGrant) error
	ListTransactions(ctx context.Context, consumerID uuid.UUID, limit int) ([]*models.LedgerTransaction, error)
}

// ledgerRepository implements LedgerRepository using PostgreSQL.
type ledgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *database.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

const walletColumns = `consumer_id, balance, lifetime_earned, lifetime_spent,
	cycle_start, cycle_end, created_at, updated_at`

// GetWallet retrieves a wallet. Returns (nil, nil) when absent.
func (r *ledgerRepository) GetWallet(ctx context.Context, consumerID uuid.UUID) (*models.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE consumer_id = $1`, walletColumns)

	q := database.QuerierFrom(ctx, r.db)
	w, err := scanWallet(q.QueryRow(ctx, query, consumerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// GetWalletForUpdate retrieves a wallet under a row lock. Concurrent gate
// invocations for the same consumer serialize here, which is what makes
// "exactly one of N racing callers pays" hold.
func (r *ledgerRepository) GetWalletForUpdate(ctx context.Context, consumerID uuid.UUID) (*models.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE consumer_id = $1 FOR UPDATE`, walletColumns)

	q := database.QuerierFrom(ctx, r.db)
	w, err := scanWallet(q.QueryRow(ctx, query, consumerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrWalletNotFound
		}
		return nil, err
	}
	return w, nil
}

// CreateWallet provisions a wallet with an opening balance and records the
// opening top-up in the ledger.
func (r *ledgerRepository) CreateWallet(ctx context.Context, consumerID uuid.UUID, initialBalance int64) (*models.Wallet, error) {
	query := fmt.Sprintf(`
		INSERT INTO wallets (consumer_id, balance, lifetime_earned, cycle_start, cycle_end)
		VALUES ($1, $2, $2, now(), now() + INTERVAL '30 days')
		RETURNING %s`, walletColumns)

	q := database.QuerierFrom(ctx, r.db)
	w, err := scanWallet(q.QueryRow(ctx, query, consumerID, initialBalance))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if initialBalance > 0 {
		if err := r.appendTransaction(ctx, consumerID, initialBalance, models.TransactionTopUp, nil); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Debit subtracts credits and appends the matching ledger entry. The balance
// CHECK constraint is the final guard: even if a caller skipped the balance
// read, an overdraw aborts the enclosing transaction.
func (r *ledgerRepository) Debit(ctx context.Context, consumerID uuid.UUID, amount int64, kind models.TransactionKind, referenceID *uuid.UUID) error {
	query := `
		UPDATE wallets
		SET balance = balance - $2,
		    lifetime_spent = lifetime_spent + $2,
		    updated_at = now()
		WHERE consumer_id = $1`

	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, query, consumerID, amount)
	if err != nil {
		if isCheckViolation(err) {
			return apperrors.ErrInsufficientBalance
		}
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrWalletNotFound
	}

	return r.appendTransaction(ctx, consumerID, -amount, kind, referenceID)
}

// Credit adds credits and appends the matching ledger entry.
func (r *ledgerRepository) Credit(ctx context.Context, consumerID uuid.UUID, amount int64, kind models.TransactionKind, referenceID *uuid.UUID) error {
	query := `
		UPDATE wallets
		SET balance = balance + $2,
		    lifetime_earned = lifetime_earned + $2,
		    updated_at = now()
		WHERE consumer_id = $1`

	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, query, consumerID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrWalletNotFound
	}

	return r.appendTransaction(ctx, consumerID, amount, kind, referenceID)
}

func (r *ledgerRepository) appendTransaction(ctx context.Context, consumerID uuid.UUID, delta int64, kind models.TransactionKind, referenceID *uuid.UUID) error {
	query := `
		INSERT INTO ledger_transactions (id, consumer_id, delta, kind, reference_id)
		VALUES ($1, $2, $3, $4, $5)`

	q := database.QuerierFrom(ctx, r.db)
	if _, err := q.Exec(ctx, query, uuid.New(), consumerID, delta, kind, referenceID); err != nil {
		return fmt.Errorf("failed to append ledger transaction: %w", err)
	}
	return nil
}

// GetGrant retrieves a grant for a (consumer, profile) pair. Returns
// (nil, nil) when absent.
func (r *ledgerRepository) GetGrant(ctx context.Context, consumerID, profileID uuid.UUID) (*models.AccessGrant, error) {
	query := `
		SELECT id, consumer_id, profile_id, credits_spent, granted_at
		FROM access_grants
		WHERE consumer_id = $1 AND profile_id = $2`

	q := database.QuerierFrom(ctx, r.db)

	var g models.AccessGrant
	err := q.QueryRow(ctx, query, consumerID, profileID).Scan(
		&g.ID, &g.ConsumerID, &g.ProfileID, &g.CreditsSpent, &g.GrantedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return &g, nil
}

// CreateGrant inserts the grant. The UNIQUE (consumer_id, profile_id)
// constraint makes a second grant for the same pair impossible; that case
// surfaces as ErrConflict so the gate can roll the duplicate attempt back.
func (r *ledgerRepository) CreateGrant(ctx context.Context, grant *models.AccessGrant) error {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}

	query := `
		INSERT INTO access_grants (id, consumer_id, profile_id, credits_spent, granted_at)
		VALUES ($1, $2, $3, $4, $5)`

	q := database.QuerierFrom(ctx, r.db)
	_, err := q.Exec(ctx, query, grant.ID, grant.ConsumerID, grant.ProfileID, grant.CreditsSpent, grant.GrantedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create grant: %w", err)
	}

	return nil
}

// ListTransactions returns a consumer's ledger entries, newest first.
func (r *ledgerRepository) ListTransactions(ctx context.Context, consumerID uuid.UUID, limit int) ([]*models.LedgerTransaction, error) {
	query := `
		SELECT id, consumer_id, delta, kind, reference_id, created_at
		FROM ledger_transactions
		WHERE consumer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, consumerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.LedgerTransaction
	for rows.Next() {
		var t models.LedgerTransaction
		if err := rows.Scan(&t.ID, &t.ConsumerID, &t.Delta, &t.Kind, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txns, nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(
		&w.ConsumerID,
		&w.Balance,
		&w.LifetimeEarned,
		&w.LifetimeSpent,
		&w.CycleStart,
		&w.CycleEnd,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	return &w, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

// Ensure ledgerRepository implements LedgerRepository at compile time.
var _ LedgerRepository = (*ledgerRepository)(nil)
