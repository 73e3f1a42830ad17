package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Teacher *handler.TeacherHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background helpers such as the rate limiter sweeper.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.HeaderSessionToken}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestDuration())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Heartbeats arrive every few seconds per student; anything far above
	// that is a misbehaving client.
	studentLimiter := middleware.NewRateLimiter(ctx, cfg.StudentRateLimit, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		studentLimiter.Middleware(),
		middleware.NoStore(),
	)
	{
		studentAPI.POST("/instances/:instance_id/start", handlers.Session.StartSession)

		// Session-scoped routes also need the session token.
		sessionAPI := studentAPI.Group("/sessions/:session_id")
		sessionAPI.Use(middleware.RequireSessionToken())
		{
			sessionAPI.GET("/questions", middleware.Brotli(cfg.BrotliQuality), handlers.Session.GetQuestions)
			sessionAPI.POST("/heartbeat", handlers.Session.Heartbeat)
			sessionAPI.POST("/answers", handlers.Session.UpsertAnswer)
			sessionAPI.POST("/submit", handlers.Session.Submit)
		}
	}

	// ─── 2. WebSocket Group (Student or Teacher WS Auth) ───────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/instances/:instance_id/timer", handlers.WS.TimerStream)
	}

	// ─── 3. Teacher Group (JWT) ────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		teacherAPI.POST("/sessions/:session_id/lock", handlers.Teacher.LockSession)
		teacherAPI.POST("/sessions/:session_id/unlock", handlers.Teacher.UnlockSession)
		teacherAPI.GET("/sessions/:session_id/flags", handlers.Teacher.ListFlags)
		teacherAPI.POST("/sessions/:session_id/regrade", handlers.Teacher.RegradeSubmission)

		teacherAPI.GET("/instances/:instance_id/accommodations/:student_id", handlers.Teacher.GetAccommodation)
		teacherAPI.PUT("/instances/:instance_id/accommodations/:student_id", handlers.Teacher.GrantAccommodation)
		teacherAPI.GET("/instances/:instance_id/monitor", handlers.Monitor.MonitorInstanceSSE)
	}

	return router
}
