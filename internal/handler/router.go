package handler

import (
	"github.com/SergeiKhy/fairlink/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Links    *LinkHandler
	Redirect *RedirectHandler
	Health   *HealthHandler
}

// Limiters: API на всю группу /api/v1 по IP, Writes на изменение ссылок по владельцу.
// nil отключает соответствующий лимит.
type Limiters struct {
	API    *middleware.RateLimiter
	Writes *middleware.RateLimiter
}

func NewRouter(h Handlers, limits Limiters, logger *zap.Logger) *gin.Engine {
	registerValidators()

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Metrics(),
		middleware.Recovery(logger),
	)

	// API v.1, под rate limiting
	v1 := router.Group("/api/v1")
	if limits.API != nil {
		v1.Use(limits.API.Middleware())
	}
	write := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if limits.Writes == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{limits.Writes.Middleware(), handler}
	}
	{
		v1.GET("/health", h.Health.HealthCheck)

		v1.POST("/links", write(h.Links.CreateLink)...)
		v1.GET("/links", h.Links.ListLinks)
		v1.GET("/links/:id", h.Links.GetLink)
		v1.PUT("/links/:id", write(h.Links.UpdateLink)...)
		v1.DELETE("/links/:id", write(h.Links.DeleteLink)...)
		v1.GET("/links/:id/stats", h.Links.GetStats)
		v1.GET("/links/:id/stats/daily", h.Links.GetDailyStats)
		v1.GET("/links/:id/stats/destinations", h.Links.GetDestinationStats)
		v1.GET("/links/:id/distribution", h.Links.GetDistribution)
	}

	// Редирект без лимита: его нагрузку держит Redis
	router.GET("/r/:shortKey", h.Redirect.Redirect)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
