package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/diehardfans/raffle-api/internal/handlers"
	"github.com/diehardfans/raffle-api/internal/metrics"
	"github.com/diehardfans/raffle-api/internal/middleware"
	"github.com/diehardfans/raffle-api/internal/services"
	"github.com/diehardfans/raffle-api/pkg/idempotency"
	"github.com/diehardfans/raffle-api/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds everything the router wires into handlers
type Dependencies struct {
	AllowedHosts []string
	// MaxUploadBytes bounds multipart bodies held in memory
	MaxUploadBytes int64

	Raffles  services.RaffleService
	Ledger   services.CoinLedger
	Auth     services.AuthService
	Settings services.SystemSettingsService

	Tokens      *jwt.TokenService
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	// HealthCheck reports whether the database is reachable
	HealthCheck func(ctx context.Context) error
}

// SetupRouter sets up the router
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	if deps.MaxUploadBytes > 0 {
		router.MaxMultipartMemory = deps.MaxUploadBytes
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.MetricsMiddleware(deps.Metrics))
	router.Use(middleware.CORSMiddleware(deps.AllowedHosts))

	authHandler := handlers.NewAuthHandler(deps.Auth)
	raffleHandler := handlers.NewRaffleHandler(deps.Raffles, deps.Ledger)
	adminHandler := handlers.NewRaffleAdminHandler(deps.Raffles)
	settingsHandler := handlers.NewSystemSettingsHandler(deps.Settings)

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Public routes
	public := router.Group("/api/v1")
	{
		public.GET("/health", healthHandler(deps.HealthCheck))

		auth := public.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		public.GET("/raffles", raffleHandler.ListRaffles)
		public.GET("/raffles/slug/:slug", raffleHandler.GetRaffleBySlug)
	}

	// Protected routes
	protected := router.Group("/api/v1")
	protected.Use(middleware.JWTAuthMiddleware(deps.Tokens))
	{
		protected.GET("/raffles/:id", raffleHandler.GetRaffle)
		protected.POST("/raffles/:id/purchase", middleware.Idempotency(deps.Idempotency), raffleHandler.PurchaseTickets)

		me := protected.Group("/me")
		{
			me.GET("/tickets", raffleHandler.MyTickets)
			me.GET("/balance", raffleHandler.MyBalance)
		}

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			raffles := admin.Group("/raffles")
			{
				raffles.GET("", adminHandler.ListRaffles)
				raffles.POST("", adminHandler.CreateRaffle)
				raffles.GET("/:id", adminHandler.GetRaffle)
				raffles.PUT("/:id", adminHandler.UpdateRaffle)
				raffles.DELETE("/:id", adminHandler.DeleteRaffle)
				raffles.POST("/:id/activate", adminHandler.ActivateRaffle)
				raffles.POST("/:id/draw", adminHandler.DrawWinner)
				raffles.POST("/:id/cancel", adminHandler.CancelRaffle)
				raffles.POST("/:id/images", adminHandler.UploadImage)
			}

			admin.GET("/settings", settingsHandler.GetSettings)
			admin.PUT("/settings", settingsHandler.UpdateSettings)
		}
	}

	return router
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
