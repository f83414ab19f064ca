package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SergeiKhy/fairlink/internal/middleware"
	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/SergeiKhy/fairlink/internal/repository"
	"github.com/SergeiKhy/fairlink/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LinkHandler struct {
	service  service.LinkService
	recorder service.VisitRecorder
	logger   *zap.Logger
}

func NewLinkHandler(service service.LinkService, recorder service.VisitRecorder, logger *zap.Logger) *LinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkHandler{
		service:  service,
		recorder: recorder,
		logger:   logger,
	}
}

type ListLinksResponse struct {
	Links  []*models.Link `json:"links"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// CreateLink handles POST /api/v1/links.
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var input models.CreateLinkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}
	if input.OwnerID == "" {
		input.OwnerID = c.GetHeader(middleware.OwnerHeader)
	}

	link, err := h.service.CreateLink(c.Request.Context(), &input, c.Request.Host)
	if err != nil {
		h.writeServiceError(c, "Failed to create link", err)
		return
	}

	c.JSON(http.StatusCreated, link)
}

// ListLinks handles GET /api/v1/links?owner_id=&limit=&offset=.
func (h *LinkHandler) ListLinks(c *gin.Context) {
	filter := models.LinkFilter{
		OwnerID: c.Query("owner_id"),
		Limit:   queryInt(c, "limit", 20, 1, 100),
		Offset:  queryInt(c, "offset", 0, 0, 1<<31-1),
	}

	links, total, err := h.service.ListLinks(c.Request.Context(), filter)
	if err != nil {
		h.writeServiceError(c, "Failed to list links", err)
		return
	}

	c.JSON(http.StatusOK, ListLinksResponse{
		Links:  links,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetLink handles GET /api/v1/links/:id.
func (h *LinkHandler) GetLink(c *gin.Context) {
	id, ok := h.linkID(c)
	if !ok {
		return
	}

	link, err := h.service.GetLink(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "Failed to get link", err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// UpdateLink handles PUT /api/v1/links/:id.
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	id, ok := h.linkID(c)
	if !ok {
		return
	}

	var input models.UpdateLinkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}

	link, err := h.service.UpdateLink(c.Request.Context(), id, &input)
	if err != nil {
		h.writeServiceError(c, "Failed to update link", err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// DeleteLink handles DELETE /api/v1/links/:id.
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	id, ok := h.linkID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteLink(c.Request.Context(), id); err != nil {
		h.writeServiceError(c, "Failed to delete link", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Link deleted successfully"})
}

// GetStats returns bot-excluded click totals.
func (h *LinkHandler) GetStats(c *gin.Context) {
	id, ok := h.existingLinkID(c)
	if !ok {
		return
	}

	stats, err := h.recorder.GetStats(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "Failed to get stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetDailyStats returns per-day clicks for the last ?days= (default 7).
func (h *LinkHandler) GetDailyStats(c *gin.Context) {
	id, ok := h.existingLinkID(c)
	if !ok {
		return
	}

	days := queryInt(c, "days", 7, 1, 90)

	stats, err := h.recorder.GetDailyStats(c.Request.Context(), id, days)
	if err != nil {
		h.writeServiceError(c, "Failed to get daily stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *LinkHandler) GetDestinationStats(c *gin.Context) {
	id, ok := h.existingLinkID(c)
	if !ok {
		return
	}

	stats, err := h.recorder.GetDestinationStats(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "Failed to get destination stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetDistribution returns the live round-robin counters from Redis.
func (h *LinkHandler) GetDistribution(c *gin.Context) {
	id, ok := h.linkID(c)
	if !ok {
		return
	}

	stats, err := h.service.GetDistributionStats(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "Failed to get distribution", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *LinkHandler) linkID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody("invalid_id", "Link id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// existingLinkID отвечает 404 для несуществующей ссылки, а не пустой статистикой
func (h *LinkHandler) existingLinkID(c *gin.Context) (int64, bool) {
	id, ok := h.linkID(c)
	if !ok {
		return 0, false
	}
	if _, err := h.service.GetLink(c.Request.Context(), id); err != nil {
		h.writeServiceError(c, "Failed to get link", err)
		return 0, false
	}
	return id, true
}

func (h *LinkHandler) writeServiceError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, errorBody("not_found", "Link not found"))
	case errors.Is(err, service.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, errorBody("invalid_url", "Destinations must be absolute http(s) URLs"))
	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, errorBody("invalid_code", "Custom key must be 4-12 characters of letters, digits, '-' or '_'"))
	case errors.Is(err, service.ErrKeyExists):
		c.JSON(http.StatusBadRequest, errorBody("key_exists", "Short key is already taken on this domain"))
	case errors.Is(err, service.ErrNoDestinations):
		c.JSON(http.StatusBadRequest, errorBody("no_destinations", "At least one destination is required"))
	case errors.Is(err, service.ErrTooManyDestinations):
		c.JSON(http.StatusBadRequest, errorBody("too_many_destinations", "Too many destinations"))
	case errors.Is(err, service.ErrRemarkTooLong):
		c.JSON(http.StatusBadRequest, errorBody("remark_too_long", "Remark must be at most 256 characters"))
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", msg))
	}
}

func queryInt(c *gin.Context, name string, def, lo, hi int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}
