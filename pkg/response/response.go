package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/itranswarp/backend/pkg/apperr"
)

// ErrorBody is the error envelope: error is the kind, data the offending field or entity.
type ErrorBody struct {
	Error   string `json:"error"`
	Data    string `json:"data"`
	Message string `json:"message"`
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidParameter, apperr.KindMaximumReached:
		return http.StatusBadRequest
	case apperr.KindAuthFailed:
		return http.StatusUnauthorized
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// RawJSON sends pre-encoded JSON as is.
func RawJSON(c *gin.Context, data []byte) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// Error sends err with the status of its kind. Unknown errors are reported as unavailable.
func Error(c *gin.Context, err error) {
	e := apperr.From(err)
	if e.Kind == apperr.KindUnavailable {
		// Do not leak infrastructure details to clients.
		c.JSON(StatusOf(e.Kind), ErrorBody{Error: string(e.Kind), Message: "service temporarily unavailable"})
		return
	}
	c.JSON(StatusOf(e.Kind), ErrorBody{Error: string(e.Kind), Data: e.Data, Message: e.Message})
}

// AbortError sends err and stops the handler chain.
func AbortError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// BadRequest sends 400 for an invalid field.
func BadRequest(c *gin.Context, field, message string) {
	Error(c, apperr.InvalidParam(field, message))
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, message string) {
	Error(c, apperr.AuthFailed(message))
}
