package handler

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/SergeiKhy/fairlink/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const loadTestHeader = "X-Load-Test"

type RedirectHandler struct {
	resolver *service.Resolver
	recorder service.VisitRecorder
	logger   *zap.Logger
}

func NewRedirectHandler(resolver *service.Resolver, recorder service.VisitRecorder, logger *zap.Logger) *RedirectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		resolver: resolver,
		recorder: recorder,
		logger:   logger,
	}
}

// Redirect handles GET /r/:shortKey.
func (h *RedirectHandler) Redirect(c *gin.Context) {
	shortKey := c.Param("shortKey")

	res, err := h.resolver.Resolve(c.Request.Context(), service.RedirectRequest{
		ShortKey:   shortKey,
		IPAddress:  clientIP(c.Request),
		UserAgent:  strings.ToValidUTF8(c.Request.UserAgent(), ""),
		Referer:    strings.ToValidUTF8(c.Request.Referer(), ""),
		IsLoadTest: strings.EqualFold(c.GetHeader(loadTestHeader), "true"),
	})
	if err != nil {
		h.logger.Error("Redirect lookup failed",
			zap.String("short_key", shortKey),
			zap.Bool("durable", errors.Is(err, service.ErrDurableLookup)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", "Internal server error"))
		return
	}

	switch res.Outcome {
	case service.OutcomeNotFound:
		c.JSON(http.StatusNotFound, errorBody("not_found", "Short link not found"))

	case service.OutcomeRestricted:
		// Обрываем соединение без статуса и тела
		c.Abort()
		panic(http.ErrAbortHandler)

	default:
		c.Header("Cache-Control", "no-store")
		c.Redirect(http.StatusFound, res.Location)
		// Запись после ответа, не дожидаясь её
		h.recorder.Record(res.Visit)
	}
}

// clientIP: первый адрес X-Forwarded-For, затем X-Real-IP, затем адрес соединения.
// Заголовки без корректного IP пропускаются.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
