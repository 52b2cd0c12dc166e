package handler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const metricsInterval = 7 * time.Second

// SystemHandler streams runtime, screen and worker queue metrics via SSE.
type SystemHandler struct {
	rdb       *redis.Client
	stats     *ScreenStats
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, stats *ScreenStats, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		stats:     stats,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// ---------- SSE Endpoint ----------

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Open screens on this instance
	IntroScreens int64 `json:"intro_screens"`
	TakeScreens  int64 `json:"take_screens"`

	// Worker Queues
	QueueViolations int64 `json:"queue_violations"`
	QueueOutcomes   int64 `json:"queue_outcomes"`
	QueueRecoveries int64 `json:"queue_recoveries"`
	QueuesReachable bool  `json:"queues_reachable"`
}

// SystemMetricsSSE godoc
// GET /api/v1/proctor/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	response.StartStream(c)

	h.log.Info().Msg("Proctor connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	if err := response.WriteEvent(c, h.collect(reqCtx)); err != nil {
		return
	}

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Proctor disconnected from system metrics SSE")
			return
		case <-ticker.C:
			if err := response.WriteEvent(c, h.collect(reqCtx)); err != nil {
				h.log.Debug().Err(err).Msg("Metrics stream write failed")
				return
			}
		}
	}
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp:    time.Now().Unix(),
		Uptime:       formatDuration(time.Since(h.startTime)),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		IntroScreens: h.stats.Intro.Load(),
		TakeScreens:  h.stats.Take.Load(),
	}

	// ── Go Runtime ──
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.StackInuse = ms.StackInuse
	m.NumGC = ms.NumGC

	// ── Worker Queues (pipelined LLEN) ──
	pipe := h.rdb.Pipeline()
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	outcomesCmd := pipe.LLen(ctx, config.WorkerKey.PersistOutcomesQueue)
	recoveriesCmd := pipe.LLen(ctx, config.WorkerKey.RecoverSubmissionsQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		m.QueuesReachable = true
		m.QueueViolations, _ = violationsCmd.Result()
		m.QueueOutcomes, _ = outcomesCmd.Result()
		m.QueueRecoveries, _ = recoveriesCmd.Result()
	}

	return m
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
