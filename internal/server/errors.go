package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	idempotencydomain "github.com/smallbiznis/fxquote/internal/idempotency/domain"
	quotedomain "github.com/smallbiznis/fxquote/internal/quote/domain"
	ratedomain "github.com/smallbiznis/fxquote/internal/rate/domain"
	resolverdomain "github.com/smallbiznis/fxquote/internal/resolver/domain"
	"github.com/smallbiznis/fxquote/internal/scheduler"
	transactiondomain "github.com/smallbiznis/fxquote/internal/transaction/domain"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, transactiondomain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "amount_mismatch",
			Message: "amount does not match the quoted amount",
		}
	case errors.Is(err, transactiondomain.ErrQuoteExpired):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "quote_expired",
			Message: "quote has expired",
		}
	case errors.Is(err, transactiondomain.ErrQuoteAlreadyConsumed):
		return http.StatusConflict, errorPayload{
			Type:    "quote_already_consumed",
			Message: "quote has already been used",
		}
	case errors.Is(err, idempotencydomain.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "idempotency_conflict",
			Message: "idempotency key was used with a different request",
		}
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "a refresh is already running",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, resolverdomain.ErrRateUnavailable),
		errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, idempotencydomain.ErrInvalidKey),
		errors.Is(err, currencydomain.ErrInvalidCode),
		errors.Is(err, currencydomain.ErrUnsupportedCurrency),
		errors.Is(err, resolverdomain.ErrInvalidCurrency),
		errors.Is(err, ratedomain.ErrInvalidCurrency),
		errors.Is(err, quotedomain.ErrInvalidAmount),
		errors.Is(err, quotedomain.ErrInvalidCurrency),
		errors.Is(err, quotedomain.ErrSameCurrency),
		errors.Is(err, transactiondomain.ErrInvalidAmount),
		errors.Is(err, transactiondomain.ErrInvalidQuote):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, quotedomain.ErrNotFound),
		errors.Is(err, transactiondomain.ErrNotFound),
		errors.Is(err, transactiondomain.ErrQuoteNotFound),
		errors.Is(err, currencydomain.ErrNotFound),
		errors.Is(err, ratedomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		// wrapped errors carry context after the sentinel
		code, _, _ := strings.Cut(err.Error(), ":")
		return code
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_idempotency_key":
		return "Idempotency-Key"
	case "unsupported_currency", "same_currency":
		return "currency"
	case "invalid_page_token":
		return "page_token"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unsupported_currency":
		return "currency is not supported"
	case "same_currency":
		return "from_currency and to_currency must differ"
	case "invalid_idempotency_key":
		return "Idempotency-Key header is required"
	default:
		return "invalid value"
	}
}
