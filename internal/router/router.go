package router

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/config"
	"github.com/toncenter/examples/internal/handlers"
	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/middleware"
)

// Handlers everything the HTTP surface routes to
type Handlers struct {
	Health     *handlers.HealthHandler
	Withdrawal *handlers.WithdrawalHandler
	AdminAuth  *handlers.AdminAuthHandler
	WebSocket  *handlers.WebSocketHandler
}

// corsMiddleware CORS middleware; an empty allowed_origins list allows all origins
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "":
			allowed := false
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin":  origin,
					"allowed_origins": allowedOrigins,
					"path":            c.Request.URL.Path,
					"method":          c.Request.Method,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if cfg.AllowCredentials && !allowAll {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Next()
	}
}

// metricsMiddleware counts requests by route template
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// SetupRouter builds the gin engine
func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(corsMiddleware(cfg.CORS))
	r.Use(metricsMiddleware())

	logger := logrus.StandardLogger()
	if len(cfg.Admin.AllowedIPs) > 0 {
		logger.WithFields(logrus.Fields{
			"allowed_ips": cfg.Admin.AllowedIPs,
			"count":       len(cfg.Admin.AllowedIPs),
		}).Info("Internal API IP whitelist configured")
	} else {
		logger.Info("No admin.allowed_ips configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, cfg.Admin.AllowedIPs)
	adminAuth := middleware.NewAdminAuthMiddleware(logger, h.AdminAuth)

	// ============ Check ============
	r.GET("/ping", handlers.PingHandler)
	r.GET("/health", h.Health.HealthCheckHandler)

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ Caller API (internal network only) ============
	withdrawals := r.Group("/api/withdrawals", localhostOnly.Restrict())
	{
		withdrawals.POST("", h.Withdrawal.EnqueueHandler)
		withdrawals.GET("/:id", h.Withdrawal.StatusHandler)
	}

	// ============ Operator API ============
	admin := r.Group("/api/admin", localhostOnly.Restrict())
	{
		admin.POST("/login", h.AdminAuth.AdminLoginHandler)
		admin.POST("/totp/generate", h.AdminAuth.GenerateTOTPSecretHandler)

		secured := admin.Group("", adminAuth.RequireAdminAuth())
		secured.GET("/review", h.Withdrawal.ReviewQueueHandler)
		secured.POST("/batches/:id/release", h.Withdrawal.ReleaseBatchHandler)
		secured.POST("/batches/:id/ack", h.Withdrawal.AcknowledgeBatchHandler)
		secured.POST("/requests/:id/release", h.Withdrawal.ReleaseRequestHandler)
		secured.POST("/tasks/:name/trigger", h.Withdrawal.TriggerTaskHandler)
		secured.GET("/events", h.WebSocket.HandleEvents)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "API endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
