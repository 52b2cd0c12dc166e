package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	WS      *handler.WSHandler
	Proctor *handler.ProctorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally; sockets and event streams are never compressed.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:      middleware.DefaultBrotliConfig.Quality,
		MinLength:    middleware.DefaultBrotliConfig.MinLength,
		SkipPrefixes: []string{"/ws/", "/api/v1/proctor/exams/", "/api/v1/proctor/system/"},
	}))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. WebSocket Group (Student WS Auth, Rate Limited) ────────────
	streamLimiter := middleware.NewRateLimiter(rdb, cfg.StreamRateLimit, time.Minute, log)

	ws := router.Group("/ws/v1")
	ws.Use(
		streamLimiter.Middleware(),
		middleware.RequireStudentWSAuth(authService),
	)
	{
		ws.GET("/exams/:exam_id/intro", handlers.WS.IntroStream)
		ws.GET("/exams/:exam_id/attempts/:attempt_id/take", handlers.WS.TakeStream)
	}

	// ─── 2. Proctor Group (Admin JWT + Permission) ────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(middleware.RequireProctorJWT(authService, service.PermissionAttemptsMonitor))
	{
		proctorAPI.GET("/attempts/:attempt_id/violations", handlers.Proctor.ListViolations)
		proctorAPI.GET("/attempts/:attempt_id/outcome", handlers.Proctor.GetOutcome)
		proctorAPI.GET("/exams/:exam_id/monitor", handlers.Proctor.MonitorExamSSE)
		proctorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
