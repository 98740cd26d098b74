package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qr-attendance-api/internal/middleware"
	"github.com/noah-isme/qr-attendance-api/internal/models"
)

// Routes groups the handlers mounted by Register.
type Routes struct {
	Auth       *AuthHandler
	Students   *StudentHandler
	Attendance *AttendanceHandler
	Scanner    *ScannerHandler
	Dashboard  *DashboardHandler
	Reports    *ReportHandler
	Metrics    *MetricsHandler
	// Realtime serves the WebSocket upgrade; it authenticates with the token query parameter.
	Realtime gin.HandlerFunc
	Docs     gin.HandlerFunc
}

// Register mounts every route under prefix, guarded by auth where required.
func Register(r *gin.Engine, prefix string, tokens middleware.TokenValidator, routes Routes) {
	r.GET("/health", routes.Metrics.Health)
	r.GET("/ready", routes.Metrics.Ready)
	r.GET("/metrics", routes.Metrics.Prometheus)
	if routes.Realtime != nil {
		r.GET("/ws", routes.Realtime)
	}
	if routes.Docs != nil {
		r.GET("/docs/*any", routes.Docs)
	}

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", routes.Auth.Login)
	auth.POST("/refresh", routes.Auth.Refresh)

	// Signed tokens authorize export downloads on their own.
	api.GET("/export/:token", routes.Reports.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))
	admin := middleware.RequireRoles(models.RoleAdmin)

	secured.POST("/auth/logout", routes.Auth.Logout)
	secured.POST("/auth/change-password", routes.Auth.ChangePassword)
	secured.GET("/auth/me", routes.Auth.Me)

	students := secured.Group("/students")
	students.GET("", routes.Students.List)
	students.POST("", routes.Students.Create)
	students.GET("/lookup", routes.Students.Lookup)
	students.GET("/:id", routes.Students.Get)
	students.PUT("/:id", routes.Students.Update)
	students.DELETE("/:id", admin, routes.Students.Delete)
	students.GET("/:id/qr", routes.Students.QRCode)

	attendance := secured.Group("/attendance")
	attendance.POST("", routes.Attendance.Register)
	attendance.GET("", routes.Attendance.ByDate)
	attendance.GET("/recent", routes.Attendance.Recent)
	attendance.GET("/students/:id/suggestion", routes.Attendance.Suggestion)
	attendance.GET("/students/:id/history", routes.Attendance.History)

	scanner := secured.Group("/scanner")
	scanner.POST("/sessions", routes.Scanner.Start)
	scanner.GET("/sessions/:id", routes.Scanner.Get)
	scanner.POST("/sessions/:id/decode", routes.Scanner.Decode)
	scanner.POST("/sessions/:id/confirm", routes.Scanner.Confirm)
	scanner.POST("/sessions/:id/cancel", routes.Scanner.Cancel)
	scanner.DELETE("/sessions/:id", routes.Scanner.Stop)
	scanner.GET("/preferences/:device", routes.Scanner.GetPreferences)
	scanner.PUT("/preferences/:device", routes.Scanner.PutPreferences)
	scanner.DELETE("/preferences/:device", routes.Scanner.ResetPreferences)

	secured.GET("/dashboard", routes.Dashboard.Get)
	secured.GET("/metrics/summary", admin, routes.Metrics.Summary)

	reports := secured.Group("/reports")
	reports.GET("/summary", routes.Reports.Summary)
	reports.GET("/export", routes.Reports.Export)
	reports.POST("/jobs", routes.Reports.CreateJob)
	reports.GET("/jobs/:id", routes.Reports.JobStatus)
}
