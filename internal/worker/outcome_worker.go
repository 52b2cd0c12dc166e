package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const (
	OutcomeBatchSize    = 50
	OutcomeBatchTimeout = 2 * time.Second
	OutcomePollTimeout  = 1 * time.Second
)

// OutcomeWorker persists queued attempt outcomes. The first outcome recorded
// for an attempt wins.
type OutcomeWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewOutcomeWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *OutcomeWorker {
	return &OutcomeWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "outcome_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *OutcomeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("OutcomeWorker started")

	batch := make([]*model.Outcome, 0, OutcomeBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= OutcomeBatchSize || time.Since(lastFlush) >= OutcomeBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(flushCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, OutcomePollTimeout, config.WorkerKey.PersistOutcomesQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			o, err := decodeOutcome([]byte(item[1]))
			if err != nil {
				w.log.Error().Err(err).Msg("Invalid outcome payload")
				continue
			}

			batch = append(batch, o)
		}
	}
}

func decodeOutcome(raw []byte) (*model.Outcome, error) {
	var o model.Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	if o.AttemptID == "" || o.ExamID == "" {
		return nil, errors.New("outcome without attempt or exam id")
	}
	if o.Reason == "" {
		o.Reason = model.EndReasonManual
	}
	if o.SubmittedAt.IsZero() {
		o.SubmittedAt = time.Now()
	}
	return &o, nil
}

// outcomeColumns splits a batch into the column arrays fed to UNNEST.
type outcomeColumns struct {
	attemptIDs     []string
	examIDs        []string
	learnerIDs     []int
	reasons        []string
	violationCount []int
	resultIDs      []string
	submittedAts   []time.Time
}

func columnsOf(batch []*model.Outcome) outcomeColumns {
	n := len(batch)
	cols := outcomeColumns{
		attemptIDs:     make([]string, 0, n),
		examIDs:        make([]string, 0, n),
		learnerIDs:     make([]int, 0, n),
		reasons:        make([]string, 0, n),
		violationCount: make([]int, 0, n),
		resultIDs:      make([]string, 0, n),
		submittedAts:   make([]time.Time, 0, n),
	}
	for _, o := range batch {
		cols.attemptIDs = append(cols.attemptIDs, o.AttemptID)
		cols.examIDs = append(cols.examIDs, o.ExamID)
		cols.learnerIDs = append(cols.learnerIDs, o.LearnerID)
		cols.reasons = append(cols.reasons, string(o.Reason))
		cols.violationCount = append(cols.violationCount, o.ViolationCount)
		cols.resultIDs = append(cols.resultIDs, o.ResultID)
		cols.submittedAts = append(cols.submittedAts, o.SubmittedAt)
	}
	return cols
}

// ----------------------------------------------------------------
// Batch insert wrapper
// ----------------------------------------------------------------

func (w *OutcomeWorker) flushSafe(ctx context.Context, batch []*model.Outcome) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk outcome insert failed, using fallback")

		for _, o := range batch {
			if err := w.persistSingle(ctx, o); err != nil {
				w.log.Error().Err(err).Str("attempt_id", o.AttemptID).Msg("persistSingle failed, requeueing")
				raw, _ := json.Marshal(o)
				w.rdb.RPush(ctx, config.WorkerKey.PersistOutcomesQueue, raw)
			}
		}
		return
	}

	// The violation counters are no longer needed once the outcome is stored.
	w.bulkClearCounters(ctx, batch)
}

func (w *OutcomeWorker) bulkInsert(ctx context.Context, batch []*model.Outcome) error {
	cols := columnsOf(batch)

	query := `
		INSERT INTO attempt_outcomes
			(attempt_id, exam_id, learner_id, reason, violation_count, result_id, submitted_at)
		SELECT u.attempt_id, u.exam_id, u.learner_id, u.reason, u.violation_count, u.result_id, u.submitted_at
		FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::int[],
			$4::text[],
			$5::int[],
			$6::text[],
			$7::timestamptz[]
		) AS u (attempt_id, exam_id, learner_id, reason, violation_count, result_id, submitted_at)
		ON CONFLICT (attempt_id) DO NOTHING
	`

	_, err := w.pool.Exec(ctx, query,
		cols.attemptIDs, cols.examIDs, cols.learnerIDs, cols.reasons,
		cols.violationCount, cols.resultIDs, cols.submittedAts,
	)
	return err
}

func (w *OutcomeWorker) bulkClearCounters(ctx context.Context, batch []*model.Outcome) {
	pipe := w.rdb.Pipeline()
	for _, o := range batch {
		pipe.Del(ctx, config.CacheKey.AttemptViolationCountKey(o.AttemptID))
	}
	_, _ = pipe.Exec(ctx)
}

// ----------------------------------------------------------------
// Fallback single insert
// ----------------------------------------------------------------

func (w *OutcomeWorker) persistSingle(ctx context.Context, o *model.Outcome) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO attempt_outcomes
			(attempt_id, exam_id, learner_id, reason, violation_count, result_id, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		o.AttemptID, o.ExamID, o.LearnerID, string(o.Reason), o.ViolationCount, o.ResultID, o.SubmittedAt,
	)
	return err
}
