package doctor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medpraxis/admin-api/internal/email"
	"github.com/medpraxis/admin-api/internal/handler"
	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/internal/service/directory"
	"github.com/medpraxis/admin-api/pkg/logger"
)

type Handler struct {
	service directory.Servicer
	email   email.Servicer
	logger  *logger.Logger
}

func NewHandler(service directory.Servicer, email email.Servicer, logger *logger.Logger) *Handler {
	return &Handler{service: service, email: email, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doctors := r.Group("/doctors")
	{
		doctors.POST("", h.CreateDoctor)
		doctors.GET("", h.ListDoctors)
		doctors.GET("/:id", h.GetDoctor)
		doctors.PUT("/:id", h.UpdateDoctor)
		doctors.DELETE("/:id", h.DeleteDoctor)

		doctors.PUT("/:id/activate", h.SetActive)
		doctors.PUT("/:id/associates/:kind/activate", h.SetAssociateActive)
		doctors.POST("/:id/lab-account", h.AddLabAccount)
		doctors.PUT("/:id/subscription", h.ExtendSubscription)
		doctors.POST("/:id/deactivate-all", h.DeactivateAll)
		doctors.POST("/:id/reset-password", h.ResetPassword)
	}
}

func (h *Handler) CreateDoctor(c *gin.Context) {
	var req model.CreateDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	creds, err := h.service.CreateDoctor(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	// Notification is best-effort; credentials are already in the response.
	if err := h.email.SendDoctorWelcome(creds.Email, creds); err != nil {
		h.logger.Error(err, "failed to send welcome email", "doctor_id", creds.DoctorID.String())
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(creds))
}

func (h *Handler) ListDoctors(c *gin.Context) {
	doctors, err := h.service.ListAccounts(c.Request.Context(), model.KindDoctor)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(doctors))
}

func (h *Handler) GetDoctor(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(account))
}

func (h *Handler) UpdateDoctor(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var update model.DoctorUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	account, err := h.service.UpdateDoctor(c.Request.Context(), id, &update)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(account))
}

func (h *Handler) DeleteDoctor(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"deleted": true}))
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) SetActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	account, err := h.service.SetActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(account))
}

func (h *Handler) SetAssociateActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	kind := model.AssociateKind(c.Param("kind"))
	if kind != model.AssociatePharmacy && kind != model.AssociateLab {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("associate kind must be pharmacy or lab"))
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	outcome, err := h.service.SetAssociatedAccountActive(c.Request.Context(), id, kind, *req.Active)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"outcome": outcome}))
}

func (h *Handler) AddLabAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.service.AddLabAccount(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, handler.NewSuccessResponse(result))
}

type extendSubscriptionRequest struct {
	Days int `json:"days" binding:"required,gt=0"`
}

func (h *Handler) ExtendSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req extendSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	account, err := h.service.ExtendSubscription(c.Request.Context(), id, req.Days)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(account))
}

func (h *Handler) DeactivateAll(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	report, err := h.service.DeactivateAllForDoctor(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}

func (h *Handler) ResetPassword(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	password, err := h.service.ResetPassword(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"password": password}))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid account ID"))
		return uuid.Nil, false
	}
	return id, true
}
