package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	database "github.com/fibscan/fibscan-backend/internal"
	"github.com/fibscan/fibscan-backend/internal/api"
	"github.com/fibscan/fibscan-backend/internal/auth"
	"github.com/fibscan/fibscan-backend/internal/config"
	"github.com/fibscan/fibscan-backend/internal/ipallow"
	"github.com/fibscan/fibscan-backend/internal/mcp"
	"github.com/fibscan/fibscan-backend/internal/usage"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}
	database.Connect()

	// Construct the access-control components once and inject them; nothing
	// below reads ambient environment state.
	tokens := auth.NewTokenService(cfg.ServiceTokenSecret)
	allow := ipallow.New(cfg.ExtraAllowedIPs)

	pgStore := usage.NewPostgresStore(database.DB)
	var store usage.Store = pgStore
	if cfg.RedisAddr != "" {
		store = usage.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
	}
	limiter := usage.NewLimiter(store)
	server := api.NewServer(cfg, tokens, allow, limiter, mcp.NewClient(cfg.MCPBaseURL))

	log.Println("Starting fibscan backend server on :" + cfg.Port + "...")
	router := gin.Default()
	// OpenTelemetry tracing (optional)
	if shutdown, ok := api.SetupOTelFromEnv(); ok {
		defer shutdown(context.Background())
		router.Use(otelgin.Middleware("fibscan-backend"))
	}
	router.Use(api.MetricsMiddleware())
	router.Use(api.RequestIDMiddleware())

	corsCfg := cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowAllOrigins = false
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	router.Use(cors.New(corsCfg))
	if len(cfg.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Printf("warning: failed to set trusted proxies: %v", err)
		}
	}

	// Health and readiness
	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
		defer cancel()
		if err := database.DB.DB.PingContext(ctx); err != nil {
			c.JSON(503, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			rctx, rcancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
			defer rcancel()
			if err := rdb.Ping(rctx).Err(); err != nil {
				c.JSON(503, gin.H{"status": "not ready", "error": "redis ping failed"})
				_ = rdb.Close()
				return
			}
			_ = rdb.Close()
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// --- User-facing routes (session JWT auth) ---
	v1 := router.Group("/v1")
	v1.GET("/latest-runs", server.GetLatestRuns)
	userRoutes := v1.Group("")
	userRoutes.Use(server.UserAuth())
	{
		userRoutes.POST("/analyze", server.Analyze)
		userRoutes.POST("/scan", server.Scan)
		userRoutes.GET("/limits", server.GetLimits)
	}

	// --- Internal service-to-service routes ---
	internal := router.Group("/internal")
	internal.Use(server.RateLimit())
	{
		// Token issuance is protected by the allowlist alone; everything
		// else requires BOTH a scoped token and an allowlisted IP.
		internal.POST("/token/issue", server.IPAllow(), server.IssueServiceToken)
		internal.POST("/cache/latest-runs",
			server.ServiceAuth(auth.ScopeWriteLatestRuns), server.IPAllow(), server.UpdateLatestRuns)
		internal.GET("/usage/:userId",
			server.ServiceAuth(auth.ScopeReadUsage), server.IPAllow(), server.GetUserUsage)
	}

	// Ops fallback for the usage view, behind the admin key and allowlist.
	router.GET("/admin/usage/:userId", server.AdminKey(), server.IPAllow(), server.GetUserUsage)

	// Daily usage retention purge (Postgres only; the Redis store expires
	// its own keys).
	if cfg.UsageRetentionDays > 0 && cfg.RedisAddr == "" {
		sched := usage.StartRetentionJob(pgStore, cfg.UsageRetentionDays)
		go func() {
			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			<-sigc
			log.Println("signal received, stopping retention job...")
			sched.Stop()
		}()
	}

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
