package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/medpraxis/admin-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError maps service errors onto HTTP statuses and writes the
// standard error body.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsCode(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case apperrors.IsCode(err, apperrors.ErrBadRequest), apperrors.IsCode(err, apperrors.ErrInvalidKind):
		status = http.StatusBadRequest
	case apperrors.IsCode(err, apperrors.ErrUnauthorized):
		status = http.StatusUnauthorized
	case apperrors.IsCode(err, apperrors.ErrForbidden):
		status = http.StatusForbidden
	}
	c.JSON(status, NewErrorResponse(err.Error()))
}
