// Package validation provides input validation helpers for the marketplace API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields.
const MaxStringLength = 10000

// entityIDRegex matches the IDs issued by idgen: an optional short prefix
// followed by hex, or the dashed UUID-like form.
var entityIDRegex = regexp.MustCompile(`^([a-z]{2,8}_)?[a-f0-9-]{8,40}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks whether a string looks like a platform entity ID.
func IsValidID(id string) bool {
	return entityIDRegex.MatchString(id)
}

// SanitizeString trims whitespace, caps length, and strips null bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required validates that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidID validates that a field carries a well-formed entity ID.
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must be a valid ID"}
		}
		return nil
	}
}

// PositiveAmount validates a decimal ZAR amount string.
func PositiveAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		amt, err := money.Parse(value)
		if err != nil {
			return &ValidationError{Field: field, Message: "must be a decimal amount"}
		}
		if !amt.IsPositive() {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// MinLength validates that a trimmed string is at least n characters.
func MinLength(field, value string, n int) func() *ValidationError {
	return func() *ValidationError {
		if len(strings.TrimSpace(value)) < n {
			return &ValidationError{Field: field, Message: "is too short"}
		}
		return nil
	}
}
