package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
)

// ProtectedOp is the operation the gate pays for. Repository calls it makes
// through the passed context join the gate's transaction, so its writes
// commit or roll back together with the grant and the debit.
type ProtectedOp func(ctx context.Context) (*models.PopulationResult, error)

// AccessGate couples a ledger debit to the success of a protected operation.
// Either all of {access grant, debit, the operation's transactional writes}
// become durably visible, or none do. An existing grant short-circuits to
// zero cost.
type AccessGate struct {
	db       *database.DB
	ledger   repositories.LedgerRepository
	profiles repositories.ProfileRepository
	cost     int64
	timeout  time.Duration
	events   EventEmitter
	logger   *zap.Logger
}

// NewAccessGate creates the gate.
func NewAccessGate(
	db *database.DB,
	ledger repositories.LedgerRepository,
	profiles repositories.ProfileRepository,
	cost int64,
	timeout time.Duration,
	events EventEmitter,
	logger *zap.Logger,
) *AccessGate {
	return &AccessGate{
		db:       db,
		ledger:   ledger,
		profiles: profiles,
		cost:     cost,
		timeout:  timeout,
		events:   events,
		logger:   logger.Named("gate"),
	}
}

// Execute runs op for (consumerID, handle) under the at-most-one-charge
// contract. The whole call, including op's internal retries, is bounded by
// the gate timeout so the transaction never holds locks indefinitely; a
// timeout counts as failure and charges nothing.
func (g *AccessGate) Execute(ctx context.Context, consumerID uuid.UUID, handle string, op ProtectedOp) (*models.PopulationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var result *models.PopulationResult
	err := database.InTx(ctx, g.db, func(txCtx context.Context) error {
		// An existing grant means this consumer already paid for this target:
		// zero cost, no wallet lock, straight to the operation.
		cost := g.cost
		granted, err := g.grantExists(txCtx, consumerID, handle)
		if err != nil {
			return err
		}
		if granted {
			cost = 0
		}

		if cost > 0 {
			// The wallet row lock serializes concurrent gate calls for the
			// same consumer. A racer that paid while we waited on the lock is
			// visible on the re-check, so exactly one of N callers charges.
			wallet, err := g.ledger.GetWalletForUpdate(txCtx, consumerID)
			if err != nil {
				return err
			}

			granted, err = g.grantExists(txCtx, consumerID, handle)
			if err != nil {
				return err
			}
			if granted {
				cost = 0
			} else if wallet.Balance < cost {
				g.events.GateRejected(consumerID, handle, "insufficient balance")
				return apperrors.ErrInsufficientBalance
			}
		}

		result, err = op(txCtx)
		if err != nil {
			return fmt.Errorf("protected operation: %w", err)
		}

		if cost > 0 {
			grant := &models.AccessGrant{
				ConsumerID:   consumerID,
				ProfileID:    result.Profile.ID,
				CreditsSpent: cost,
			}
			if err := g.ledger.CreateGrant(txCtx, grant); err != nil {
				return fmt.Errorf("create grant: %w", err)
			}
			if err := g.ledger.Debit(txCtx, consumerID, cost, models.TransactionSpend, &grant.ID); err != nil {
				return fmt.Errorf("debit wallet: %w", err)
			}
			g.events.GrantCreated(consumerID, result.Profile.ID, cost)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.logger.Error("Gate timed out, rolled back",
				zap.String("consumer_id", consumerID.String()),
				zap.String("handle", handle))
		}
		return nil, err
	}

	return result, nil
}

// grantExists resolves the handle to a profile and checks for a grant. A
// handle with no stored profile cannot have a grant yet.
func (g *AccessGate) grantExists(ctx context.Context, consumerID uuid.UUID, handle string) (bool, error) {
	profile, err := g.profiles.GetByHandle(ctx, handle)
	if err != nil {
		return false, err
	}
	if profile == nil {
		// First population of this handle.
		return false, nil
	}

	grant, err := g.ledger.GetGrant(ctx, consumerID, profile.ID)
	if err != nil {
		return false, err
	}
	return grant != nil, nil
}
