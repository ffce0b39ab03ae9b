package stats

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medpraxis/admin-api/internal/handler"
	"github.com/medpraxis/admin-api/internal/service/directory"
)

type Handler struct {
	service directory.Servicer
}

func NewHandler(service directory.Servicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", h.SystemStats)
}

func (h *Handler) SystemStats(c *gin.Context) {
	stats, err := h.service.SystemStats(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
