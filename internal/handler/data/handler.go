package data

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medpraxis/admin-api/internal/handler"
	"github.com/medpraxis/admin-api/internal/service/export"
)

type Handler struct {
	service export.Servicer
}

func NewHandler(service export.Servicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	data := r.Group("/data")
	{
		data.POST("/export", h.ExportCollection)
		data.POST("/backup", h.Backup)
		data.POST("/restore", h.Restore)
	}
}

type exportRequest struct {
	Collection string `json:"collection" binding:"required"`
	Format     string `json:"format" binding:"required,oneof=csv json"`
}

func (h *Handler) ExportCollection(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	path, err := h.service.ExportCollection(c.Request.Context(), req.Collection, export.Format(req.Format))
	if errors.Is(err, export.ErrNoData) {
		c.JSON(http.StatusOK, handler.NewErrorResponse("No data found"))
		return
	}
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"path": path}))
}

func (h *Handler) Backup(c *gin.Context) {
	path, err := h.service.BackupAll(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"path": path}))
}

type restoreRequest struct {
	Archive string `json:"archive" binding:"required"`
}

func (h *Handler) Restore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	report, err := h.service.RestoreAll(c.Request.Context(), req.Archive)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}
