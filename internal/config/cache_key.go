package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PendingSubmissionKey returns the cache key holding a parked answer snapshot for an attempt
func (r *CacheKeyStruct) PendingSubmissionKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:pending_submission", attemptID)
}

// AttemptViolationCountKey returns the cache key counting recorded violations for an attempt
func (r *CacheKeyStruct) AttemptViolationCountKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// ExamMonitorChannel returns the pub/sub channel carrying live proctoring events for an exam
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// StreamRateKey returns the counter key of one rate-limit window for a client IP
func (r *CacheKeyStruct) StreamRateKey(ip string, window int64) string {
	return fmt.Sprintf("ratelimit:stream:%s:%d", ip, window)
}

var CacheKey = NewCacheKeyStruct()
