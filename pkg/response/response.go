package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ksred/ledger-api/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeDuplicateResource   = "DUPLICATE_RESOURCE"
	ErrCodeInsufficientCapital = "INSUFFICIENT_CAPITAL"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeRequestInProgress   = "REQUEST_IN_PROGRESS"
	ErrCodeReconciliationDrift = "RECONCILIATION_DRIFT"
	ErrCodeDependencyUnavail   = "DEPENDENCY_UNAVAILABLE"
	ErrCodeOrderUnconfirmed    = "CAPITAL_RESERVED_UNCONFIRMED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}

// fail sends an error response with an explicit status and code
func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// handleError maps domain error types onto HTTP statuses. Anything
// unrecognized is an internal error and the real message stays out of
// the response body.
func handleError(c *gin.Context, err error) {
	var (
		validationErr  *types.ValidationError
		capitalErr     *types.InsufficientCapitalError
		transitionErr  *types.InvalidTransitionError
		idempotencyErr *types.IdempotencyConflictError
		driftErr       *types.ReconciliationDriftError
		dependencyErr  *types.DependencyUnavailableError
		unconfirmedErr *types.OrderUnconfirmedError
	)

	switch {
	case errors.As(err, &validationErr):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, validationErr.Error())
	case errors.As(err, &capitalErr):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInsufficientCapital, capitalErr.Error())
	case errors.As(err, &transitionErr):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, transitionErr.Error())
	case errors.As(err, &idempotencyErr):
		fail(c, http.StatusConflict, ErrCodeRequestInProgress, idempotencyErr.Error())
	case errors.As(err, &driftErr):
		fail(c, http.StatusConflict, ErrCodeReconciliationDrift, driftErr.Error())
	case errors.As(err, &unconfirmedErr):
		// Partial success: capital is reserved but the order outcome is
		// unknown. The caller must not retry blindly.
		fail(c, http.StatusBadGateway, ErrCodeOrderUnconfirmed, unconfirmedErr.Error())
	case errors.As(err, &dependencyErr):
		fail(c, http.StatusServiceUnavailable, ErrCodeDependencyUnavail, "A required backend is unavailable")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}
