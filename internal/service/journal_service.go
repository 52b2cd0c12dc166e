package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// journalKeyTTL bounds how long per-attempt journal keys survive in Redis.
const journalKeyTTL = 48 * time.Hour

// JournalService records taking-session events in Redis. Violations and
// outcomes are queued for the persistence workers; parked submissions are
// queued for the recovery worker.
type JournalService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewJournalService creates a new JournalService.
func NewJournalService(rdb *redis.Client, log zerolog.Logger) *JournalService {
	return &JournalService{
		rdb: rdb,
		log: log.With().Str("component", "journal_service").Logger(),
	}
}

// ViolationCount returns how many violations were already recorded for an
// attempt, so a reopened screen keeps its violation state.
func (s *JournalService) ViolationCount(ctx context.Context, attemptID string) (int, error) {
	n, err := s.rdb.Get(ctx, config.CacheKey.AttemptViolationCountKey(attemptID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get violation count: %w", err)
	}
	return n, nil
}

// RecordViolation counts the violation and queues it for persistence.
func (s *JournalService) RecordViolation(ctx context.Context, v model.Violation) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	event, _ := json.Marshal(model.MonitorEvent{
		Type:           model.MonitorEventViolation,
		AttemptID:      v.AttemptID,
		LearnerID:      v.LearnerID,
		ViolationCount: v.Sequence,
		At:             v.OccurredAt,
	})

	countKey := config.CacheKey.AttemptViolationCountKey(v.AttemptID)
	pipe := s.rdb.Pipeline()
	pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, journalKeyTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, raw)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(v.ExamID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

// RecordOutcome queues the outcome for persistence and clears any parked
// submission of the attempt.
func (s *JournalService) RecordOutcome(ctx context.Context, o model.Outcome) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	event, _ := json.Marshal(model.MonitorEvent{
		Type:           model.MonitorEventOutcome,
		AttemptID:      o.AttemptID,
		LearnerID:      o.LearnerID,
		ViolationCount: o.ViolationCount,
		Reason:         o.Reason,
		At:             o.SubmittedAt,
	})

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistOutcomesQueue, raw)
	pipe.Del(ctx, config.CacheKey.PendingSubmissionKey(o.AttemptID))
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(o.ExamID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	s.log.Debug().Str("attempt_id", o.AttemptID).Str("reason", string(o.Reason)).Msg("Outcome queued")
	return nil
}

// ParkSubmission stores an unsent answer snapshot and queues it for
// background recovery. The pending key marks the snapshot as unresolved until
// an outcome is recorded.
func (s *JournalService) ParkSubmission(ctx context.Context, p model.PendingSubmission) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending submission: %w", err)
	}
	event, _ := json.Marshal(model.MonitorEvent{
		Type:           model.MonitorEventParked,
		AttemptID:      p.AttemptID,
		LearnerID:      p.LearnerID,
		ViolationCount: p.ViolationCount,
		Reason:         p.Reason,
		At:             p.ParkedAt,
	})

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.PendingSubmissionKey(p.AttemptID), raw, journalKeyTTL)
	pipe.RPush(ctx, config.WorkerKey.RecoverSubmissionsQueue, raw)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(p.ExamID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("park submission: %w", err)
	}
	return nil
}

// IsPending reports whether a parked snapshot is still unresolved.
func (s *JournalService) IsPending(ctx context.Context, attemptID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, config.CacheKey.PendingSubmissionKey(attemptID)).Result()
	if err != nil {
		return false, fmt.Errorf("check pending submission: %w", err)
	}
	return n > 0, nil
}

// DiscardPending forgets a parked snapshot that can never be delivered.
func (s *JournalService) DiscardPending(ctx context.Context, attemptID string) error {
	return s.rdb.Del(ctx, config.CacheKey.PendingSubmissionKey(attemptID)).Err()
}
