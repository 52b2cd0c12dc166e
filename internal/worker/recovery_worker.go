package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/directory"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// RecoveryJournal is the part of the journal the recovery worker needs.
type RecoveryJournal interface {
	IsPending(ctx context.Context, attemptID string) (bool, error)
	DiscardPending(ctx context.Context, attemptID string) error
	RecordOutcome(ctx context.Context, o model.Outcome) error
}

type recoverResult int

const (
	recoverDelivered recoverResult = iota
	recoverSkipped
	recoverDropped
	recoverRetry
)

// RecoveryWorker consumes recover_submissions_queue and re-sends parked
// answer snapshots to the Exam Directory with the service credential.
type RecoveryWorker struct {
	rdb        *redis.Client
	dir        directory.Directory
	journal    RecoveryJournal
	retryDelay time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewRecoveryWorker creates a new RecoveryWorker.
func NewRecoveryWorker(rdb *redis.Client, dir directory.Directory, journal RecoveryJournal, retryDelay time.Duration, log zerolog.Logger) *RecoveryWorker {
	return &RecoveryWorker{
		rdb:        rdb,
		dir:        dir,
		journal:    journal,
		retryDelay: retryDelay,
		log:        log.With().Str("component", "recovery_worker").Logger(),
		now:        time.Now,
	}
}

// Start begins the infinite worker loop. Call in a goroutine. Snapshots still
// queued at shutdown stay in Redis for the next start.
func (w *RecoveryWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *RecoveryWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.RecoverSubmissionsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			time.Sleep(3 * time.Second)
		}
		return
	}

	if len(result) < 2 {
		return
	}

	if w.handle(ctx, []byte(result[1])) == recoverRetry {
		// Push back to queue and back off; the directory is likely down.
		if err := w.rdb.RPush(context.Background(), config.WorkerKey.RecoverSubmissionsQueue, result[1]).Err(); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: failed to requeue parked submission")
			return
		}
		sleepCtx(ctx, w.retryDelay)
	}
}

// handle delivers one parked snapshot.
func (w *RecoveryWorker) handle(ctx context.Context, raw []byte) recoverResult {
	var p model.PendingSubmission
	if err := json.Unmarshal(raw, &p); err != nil || p.AttemptID == "" {
		w.log.Error().Err(err).Str("data", string(raw)).Msg("Discarding malformed parked submission")
		return recoverDropped
	}
	log := w.log.With().Str("attempt_id", p.AttemptID).Str("exam_id", p.ExamID).Logger()

	pending, err := w.journal.IsPending(ctx, p.AttemptID)
	if err != nil {
		log.Warn().Err(err).Msg("Could not check pending marker")
		return recoverRetry
	}
	if !pending {
		log.Debug().Msg("Parked submission already resolved")
		return recoverSkipped
	}

	res, err := w.dir.SubmitExam(ctx, p.AttemptID, p.Answers)
	switch {
	case err == nil, errors.Is(err, directory.ErrAlreadySubmitted):
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, directory.ErrUnauthorized):
		log.Error().Err(err).Msg("Parked submission can never be delivered, dropping")
		if err := w.journal.DiscardPending(ctx, p.AttemptID); err != nil {
			log.Error().Err(err).Msg("Failed to clear pending marker")
		}
		return recoverDropped
	default:
		log.Warn().Err(err).Msg("Recovery submit failed, will retry")
		return recoverRetry
	}

	outcome := model.Outcome{
		AttemptID:      p.AttemptID,
		ExamID:         p.ExamID,
		LearnerID:      p.LearnerID,
		Reason:         model.EndReasonRecovered,
		ViolationCount: p.ViolationCount,
		SubmittedAt:    w.now(),
	}
	if res != nil {
		outcome.ResultID = res.ResultID
	}
	if err := w.journal.RecordOutcome(ctx, outcome); err != nil {
		// Resubmitting is safe: the directory answers already-submitted.
		log.Error().Err(err).Msg("Failed to record recovered outcome")
		return recoverRetry
	}

	log.Info().Str("result_id", outcome.ResultID).Msg("Parked submission delivered")
	return recoverDelivered
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
