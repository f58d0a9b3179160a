package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Grading *handler.GradingHandler
	Report  *handler.ReportHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// beacons throttles the tab-switch and heartbeat endpoints per attempt.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	beacons *middleware.BeaconLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		studentAPI.POST("/attempts", handlers.Attempt.StartAttempt)

		attempt := studentAPI.Group("/attempts/:id")
		{
			attempt.GET("/paper", handlers.Attempt.GetPaper)
			attempt.GET("/state", handlers.Attempt.GetState)
			attempt.PUT("/answers/:question_id", handlers.Attempt.RecordAnswer)
			attempt.PUT("/flags/:question_id", handlers.Attempt.ToggleFlag)
			attempt.POST("/tab-switch", beacons.Middleware(), handlers.Attempt.RecordTabSwitch)
			attempt.POST("/heartbeat", beacons.Middleware(), handlers.Attempt.Heartbeat)
			attempt.POST("/submit", handlers.Attempt.Submit)
		}
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		adminAPI.PUT("/answers/:id/grade",
			middleware.RequirePermission(service.PermissionGradeAnswers),
			handlers.Grading.GradeEssay,
		)

		attempts := adminAPI.Group("/attempts/:id")
		{
			attempts.GET("",
				middleware.RequireAnyPermission(service.PermissionViewReports, service.PermissionGradeAnswers),
				handlers.Report.GetAttempt,
			)
			attempts.GET("/integrity",
				middleware.RequirePermission(service.PermissionViewReports),
				handlers.Report.GetIntegrity,
			)
			attempts.POST("/finalize",
				middleware.RequirePermission(service.PermissionGradeAnswers),
				handlers.Grading.Finalize,
			)
			attempts.POST("/sync",
				middleware.RequireAnyPermission(service.PermissionGradeAnswers, service.PermissionManageAttempt),
				handlers.Grading.SyncLedger,
			)
			attempts.POST("/submit",
				middleware.RequirePermission(service.PermissionManageAttempt),
				handlers.Grading.ForceSubmit,
			)
		}

		exams := adminAPI.Group("/exams/:kind/:id")
		{
			exams.GET("/attempts",
				middleware.RequirePermission(service.PermissionViewReports),
				handlers.Report.ListAttempts,
			)
			exams.GET("/stats",
				middleware.RequirePermission(service.PermissionViewReports),
				handlers.Report.ExamStats,
			)
			exams.GET("/pending-essays",
				middleware.RequirePermission(service.PermissionGradeAnswers),
				handlers.Report.PendingEssays,
			)
			exams.POST("/refresh-cache",
				middleware.RequirePermission(service.PermissionManageAttempt),
				handlers.Report.RefreshCache,
			)
		}

		adminAPI.GET("/system/metrics",
			middleware.RequirePermission(service.PermissionManageAttempt),
			handlers.System.SystemMetricsSSE,
		)
	}

	return router
}
