package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"timetracker/internal/handler"
	"timetracker/internal/middleware"
	"timetracker/internal/model"
	"timetracker/internal/service"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Tracker *handler.TrackerHandler
	Admin   *handler.AdminHandler
}

func New(
	authService *service.AuthService,
	handlers Handlers,
	corsOrigins []string,
	log zerolog.Logger,
) *gin.Engine {
	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.CORS(corsOrigins),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", handlers.Auth.Register)
	auth.POST("/login", handlers.Auth.Login)
	auth.GET("/me", middleware.Auth(authService), handlers.Auth.Me)

	tracker := api.Group("/tracker")
	tracker.Use(middleware.Auth(authService))
	tracker.GET("/state", handlers.Tracker.GetState)
	tracker.POST("/clock-in", handlers.Tracker.ClockIn)
	tracker.POST("/clock-out", handlers.Tracker.ClockOut)
	tracker.POST("/breaks", handlers.Tracker.StartBreak)
	tracker.POST("/breaks/end", handlers.Tracker.EndBreak)
	tracker.GET("/history", handlers.Tracker.GetHistory)
	tracker.PUT("/settings/eye-care", handlers.Tracker.SetEyeCare)
	tracker.PUT("/settings/eye-care/interval", handlers.Tracker.SetEyeCareInterval)
	tracker.POST("/reminders/eye-care/skip", handlers.Tracker.SkipEyeCare)
	tracker.POST("/reminders/eye-care/complete", handlers.Tracker.CompleteEyeCare)
	tracker.POST("/notifications/permission", handlers.Tracker.RefreshPermission)
	tracker.GET("/events", handlers.Tracker.Events)

	admin := api.Group("/admin")
	admin.Use(middleware.Auth(authService), middleware.RequireRoles(model.RoleAdmin))
	admin.GET("/sessions", handlers.Admin.ListSessions)

	return engine
}
