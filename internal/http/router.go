package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/config"
	"github.com/bigkaiyoh/TGF-Scholar/internal/http/handler"
	httpmiddleware "github.com/bigkaiyoh/TGF-Scholar/internal/http/middleware"
	"github.com/bigkaiyoh/TGF-Scholar/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Accounts    *handler.AccountHandler
	Submissions *handler.SubmissionHandler
	Dashboard   *handler.DashboardHandler
}

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, h Handlers, auth *httpmiddleware.Auth, logger *zap.Logger) *gin.Engine {
	if err := handler.RegisterValidators(); err != nil {
		logger.Warn("custom validators not registered", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.NewRateLimiter(cfg.RateLimitRPM, middleware.ClientIP).Handler())
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	loginLimit := middleware.NewRateLimiter(cfg.LoginRateLimitRPM, middleware.ClientIP).Handler()

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", loginLimit, h.Accounts.Register)
		authGroup.POST("/login", loginLimit, h.Accounts.Login)
		authGroup.POST("/organizations/login", loginLimit, h.Accounts.LoginOrganization)
		authGroup.POST("/password/reset", loginLimit, h.Accounts.ResetPassword)
		authGroup.POST("/logout", auth.RequireAny, h.Accounts.Logout)
	}

	r.GET("/organizations/:code/catalog", h.Accounts.Catalog)

	me := r.Group("/me", auth.RequireUser)
	{
		me.GET("", h.Accounts.Me)
		me.PATCH("/settings", h.Accounts.UpdateSettings)
	}

	submissions := r.Group("/submissions", auth.RequireUser)
	{
		submissions.POST("", h.Submissions.Evaluate)
		submissions.GET("", h.Submissions.History)
		submissions.POST("/transcribe", h.Submissions.Transcribe)
	}

	r.POST("/assistant/ask", auth.RequireUser, h.Submissions.Ask)

	dashboard := r.Group("/dashboard", auth.RequireOrganization)
	{
		dashboard.GET("", h.Dashboard.Dashboard)
		dashboard.GET("/users/:id/submissions", h.Dashboard.UserSubmissions)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Unknown route."})
	})

	return r
}
