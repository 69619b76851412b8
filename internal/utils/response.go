package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope every relay endpoint answers with. The client
// core decodes Data on success and Error.Message otherwise.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents error details
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Meta describes a history page
type Meta struct {
	Limit int `json:"limit"`
	Count int `json:"count"`
}

var errorCodes = map[int]string{
	http.StatusBadRequest:            "BAD_REQUEST",
	http.StatusUnauthorized:          "UNAUTHORIZED",
	http.StatusForbidden:             "FORBIDDEN",
	http.StatusNotFound:              "NOT_FOUND",
	http.StatusConflict:              "CONFLICT",
	http.StatusGone:                  "GONE",
	http.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	http.StatusInternalServerError:   "INTERNAL_ERROR",
	http.StatusServiceUnavailable:    "SERVICE_UNAVAILABLE",
}

func write(c *gin.Context, status int, r APIResponse) {
	r.Timestamp = time.Now()
	c.JSON(status, r)
}

func SuccessResponse(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, APIResponse{Success: true, Data: data})
}

func SuccessResponseWithMessage(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

// SuccessResponseWithMeta answers a history read
func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	write(c, http.StatusOK, APIResponse{Success: true, Data: data, Meta: meta})
}

// CreatedResponse sends a 201 with the created resource
func CreatedResponse(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, APIResponse{Success: true, Data: data})
}

// ErrorResponse sends an error envelope with a code derived from statusCode
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	write(c, statusCode, APIResponse{Error: &APIError{Code: errorCode(statusCode), Message: message}})
}

// ValidationErrorResponse reports per-field validation failures
func ValidationErrorResponse(c *gin.Context, details map[string]string) {
	write(c, http.StatusBadRequest, APIResponse{Error: &APIError{
		Code:    "VALIDATION_ERROR",
		Message: "Validation failed",
		Details: details,
	}})
}

func UnauthorizedResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, orDefault(message, "Unauthorized access"))
}

func ForbiddenResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, orDefault(message, "Access forbidden"))
}

func NotFoundResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, orDefault(message, "Resource not found"))
}

func InternalErrorResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, orDefault(message, "Internal server error"))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func errorCode(statusCode int) string {
	if code, ok := errorCodes[statusCode]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}
