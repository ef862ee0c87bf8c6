package services

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/models"
)

// EventEmitter receives business events as they happen. It is deliberately
// decoupled from the transaction performing the write: emitting is
// best-effort observability and must never fail or block a commit.
type EventEmitter interface {
	StageAttempt(profileID uuid.UUID, kind models.StageKind, attempt int, err error)
	RunFinished(run *models.PopulationRun)
	GrantCreated(consumerID, profileID uuid.UUID, creditsSpent int64)
	GateRejected(consumerID uuid.UUID, handle string, reason string)
	RepairFinished(op *models.RepairOperation)
}

// zapEmitter logs every event through a named zap logger.
type zapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter creates an EventEmitter backed by structured logging.
func NewZapEmitter(logger *zap.Logger) EventEmitter {
	return &zapEmitter{logger: logger.Named("events")}
}

func (e *zapEmitter) StageAttempt(profileID uuid.UUID, kind models.StageKind, attempt int, err error) {
	if err == nil {
		e.logger.Info("Stage attempt succeeded",
			zap.String("profile_id", profileID.String()),
			zap.String("stage", string(kind)),
			zap.Int("attempt", attempt))
		return
	}
	e.logger.Warn("Stage attempt failed",
		zap.String("profile_id", profileID.String()),
		zap.String("stage", string(kind)),
		zap.Int("attempt", attempt),
		zap.Error(err))
}

func (e *zapEmitter) RunFinished(run *models.PopulationRun) {
	fields := []zap.Field{
		zap.String("run_id", run.ID.String()),
		zap.String("profile_id", run.ProfileID.String()),
		zap.String("handle", run.Handle),
		zap.String("phase", string(run.Phase)),
		zap.Bool("partial_accepted", run.PartialAccepted),
		zap.Bool("short_circuited", run.ShortCircuited),
	}
	if run.SuccessRate != nil {
		fields = append(fields, zap.Float64("success_rate", *run.SuccessRate))
	}
	if run.Phase == models.PhaseFailed {
		e.logger.Warn("Population run failed", fields...)
		return
	}
	e.logger.Info("Population run finished", fields...)
}

func (e *zapEmitter) GrantCreated(consumerID, profileID uuid.UUID, creditsSpent int64) {
	e.logger.Info("Access grant created",
		zap.String("consumer_id", consumerID.String()),
		zap.String("profile_id", profileID.String()),
		zap.Int64("credits_spent", creditsSpent))
}

func (e *zapEmitter) GateRejected(consumerID uuid.UUID, handle string, reason string) {
	e.logger.Warn("Gate rejected request",
		zap.String("consumer_id", consumerID.String()),
		zap.String("handle", handle),
		zap.String("reason", reason))
}

func (e *zapEmitter) RepairFinished(op *models.RepairOperation) {
	e.logger.Info("Repair operation finished",
		zap.String("operation_id", op.ID.String()),
		zap.String("status", string(op.Status)),
		zap.Int("total_targets", op.TotalTargets),
		zap.Int("completed", op.CompletedCount),
		zap.Int("failed", op.FailedCount),
		zap.Bool("dry_run", op.DryRun))
}

var _ EventEmitter = (*zapEmitter)(nil)
