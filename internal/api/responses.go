package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aviatorstc/autopilot/pkg/errors"
)

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError carries the machine-readable error payload.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func requestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// SuccessResponse sends a 200 with the standard envelope.
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC(),
	})
}

// ErrorResponse maps an error to an HTTP status and sends the envelope.
func ErrorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	apiErr := &APIError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
	}

	if appErr, ok := err.(*errors.AppError); ok {
		apiErr.Code = appErr.Code
		apiErr.Message = appErr.Message
		if len(appErr.Details) > 0 {
			apiErr.Details = make(map[string]interface{}, len(appErr.Details))
			for k, v := range appErr.Details {
				apiErr.Details[k] = v
			}
		}
		status = statusFor(appErr)
	}

	c.JSON(status, APIResponse{
		Success:   false,
		Error:     apiErr,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC(),
	})
}

func statusFor(err *errors.AppError) int {
	if err.Code == "NOT_FOUND" {
		return http.StatusNotFound
	}

	switch err.Category {
	case errors.CategoryValidation, errors.CategoryUserInput:
		return http.StatusBadRequest
	case errors.CategoryAuthentication:
		return http.StatusUnauthorized
	case errors.CategoryAuthorization:
		return http.StatusForbidden
	case errors.CategoryNetwork, errors.CategoryExternalService:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// BadRequestResponse sends a 400 with a plain message.
func BadRequestResponse(c *gin.Context, message string) {
	ErrorResponse(c, errors.NewValidationError(message))
}
