package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

const (
	defaultRefreshInterval = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type attemptParam struct {
	AttemptID string `uri:"attempt_id" json:"attempt_id" binding:"required,max=64,resource_id"`
}

// ProctorHandler exposes violation logs, outcomes and the live exam monitor.
type ProctorHandler struct {
	rdb             *redis.Client
	proctorService  *service.ProctorService
	refreshInterval time.Duration
	log             zerolog.Logger
}

// NewProctorHandler creates a new ProctorHandler. A non-positive refresh
// falls back to 15 seconds.
func NewProctorHandler(rdb *redis.Client, proctorService *service.ProctorService, refresh time.Duration, log zerolog.Logger) *ProctorHandler {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	return &ProctorHandler{
		rdb:             rdb,
		proctorService:  proctorService,
		refreshInterval: refresh,
		log:             log.With().Str("component", "proctor_handler").Logger(),
	}
}

// ListViolations godoc
// GET /api/v1/proctor/attempts/:attempt_id/violations
func (h *ProctorHandler) ListViolations(c *gin.Context) {
	var uri attemptParam
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	var q model.ViolationListQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = 20
	}

	violations, total, err := h.proctorService.ListViolations(c.Request.Context(), uri.AttemptID, q)
	if err != nil {
		h.log.Error().Err(err).Str("attempt_id", uri.AttemptID).Msg("List violations failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK,
		gin.H{"violations": violations},
		response.NewPagination(q.Page, q.PerPage, total),
	)
}

// GetOutcome godoc
// GET /api/v1/proctor/attempts/:attempt_id/outcome
func (h *ProctorHandler) GetOutcome(c *gin.Context) {
	var uri attemptParam
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	outcome, err := h.proctorService.GetOutcome(c.Request.Context(), uri.AttemptID)
	if errors.Is(err, service.ErrOutcomeNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("attempt_id", uri.AttemptID).Msg("Get outcome failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, outcome)
}

// MonitorExamSSE godoc
// GET /api/v1/proctor/exams/:exam_id/monitor
// Streams a progress snapshot, then live violation/outcome events.
func (h *ProctorHandler) MonitorExamSSE(c *gin.Context) {
	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	examID := uri.ExamID
	reqCtx := c.Request.Context()

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID).Msg("Failed to subscribe to exam monitor")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	response.StartStream(c)

	h.sendProgress(c, reqCtx, examID, "snapshot")

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshInterval)
	defer refreshTicker.Stop()

	// Skip refresh queries until something happened on the exam.
	dirty := false

	h.log.Info().Str("exam_id", examID).Msg("Proctor attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward the published JSON as is.
			if err := response.WriteRawEvent(c, []byte(msg.Payload)); err != nil {
				return
			}
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			h.sendProgress(c, reqCtx, examID, "refresh")
			dirty = false

		case <-keepAliveTicker.C:
			if err := response.WriteEvent(c, gin.H{"type": "ping"}); err != nil {
				return
			}
		}
	}
}

func (h *ProctorHandler) sendProgress(c *gin.Context, parentCtx context.Context, examID, kind string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.proctorService.GetExamProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID).Msg("Failed to fetch exam progress")
		return
	}

	_ = response.WriteEvent(c, gin.H{"type": kind, "data": progress})
}
