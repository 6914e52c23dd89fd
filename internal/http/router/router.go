package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apphttp "lettings_backend/internal/http"
	"lettings_backend/platform/httpkit"
)

const readinessTimeout = 2 * time.Second

// New builds the gin engine and mounts every module.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(cors.New(corsConfig(app.Config)))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", readiness(app))

	webhookLimiter := httpkit.NewWebhookRateLimiter(app.Logger)

	v1 := engine.Group("/api/v1")
	ctx := &apphttp.RouterContext{
		Engine:   engine,
		V1:       v1,
		Operator: v1.Group("", httpkit.AuthRequired(app.Config)),
		Webhooks: v1.Group("", webhookLimiter.RateLimit(), httpkit.WebhookSecret(app.Config, app.Logger)),
		Public:   v1.Group("", webhookLimiter.RateLimit()),
		Config:   app.Config,
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(ctx)
		app.Logger.Info("module registered", "module", module.Name())
	}

	return engine
}

func corsConfig(cfg apphttp.RouterConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", httpkit.HeaderWebhookSecret},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = cfg.GetCORSOrigins()
		if len(c.AllowOrigins) == 0 {
			c.AllowAllOrigins = true
			c.AllowCredentials = false
		}
	}
	return c
}

func readiness(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		for name, provider := range app.Stats {
			body[name] = provider.Stats()
		}

		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				app.Logger.Warn("readiness check failed", "error", err)
				body["status"] = "unavailable"
				c.JSON(http.StatusServiceUnavailable, body)
				return
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
