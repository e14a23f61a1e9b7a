package errors

import (
	"fmt"
	"time"
)

// Category classifies the root cause of an automation error.
type Category string

const (
	CategoryNetwork         Category = "network"
	CategoryValidation      Category = "validation"
	CategoryAuthentication  Category = "authentication"
	CategoryAuthorization   Category = "authorization"
	CategoryDataCorruption  Category = "data_corruption"
	CategorySystemResource  Category = "system_resource"
	CategoryExternalService Category = "external_service"
	CategoryConfiguration   Category = "configuration"
	CategoryUserInput       Category = "user_input"
	CategoryUnknown         Category = "unknown"
)

// Severity is the operator-assigned urgency tier, distinct from Category.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the relative ordering of a severity, higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AppError represents an application error with classification context
type AppError struct {
	Category  Category          `json:"category"`
	Severity  Severity          `json:"severity"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new application error
func New(category Category, code, message string) *AppError {
	return &AppError{
		Category:  category,
		Severity:  SeverityMedium,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSeverity overrides the default medium severity
func (e *AppError) WithSeverity(severity Severity) *AppError {
	e.Severity = severity
	return e
}

// Common error constructors
func NewNetworkError(message string) *AppError {
	return New(CategoryNetwork, "NETWORK_ERROR", message)
}

func NewValidationError(message string) *AppError {
	return New(CategoryValidation, "VALIDATION_ERROR", message).WithSeverity(SeverityLow)
}

func NewAuthenticationError(message string) *AppError {
	return New(CategoryAuthentication, "AUTHENTICATION_ERROR", message)
}

func NewAuthorizationError(message string) *AppError {
	return New(CategoryAuthorization, "AUTHORIZATION_ERROR", message)
}

func NewDataCorruptionError(message string) *AppError {
	return New(CategoryDataCorruption, "DATA_CORRUPTION", message).WithSeverity(SeverityCritical)
}

func NewSystemResourceError(message string) *AppError {
	return New(CategorySystemResource, "SYSTEM_RESOURCE_ERROR", message).WithSeverity(SeverityHigh)
}

func NewExternalServiceError(service, message string) *AppError {
	return New(CategoryExternalService, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewConfigurationError(message string) *AppError {
	return New(CategoryConfiguration, "CONFIGURATION_ERROR", message).WithSeverity(SeverityHigh)
}

func NewUserInputError(message string) *AppError {
	return New(CategoryUserInput, "USER_INPUT_ERROR", message).WithSeverity(SeverityLow)
}

func NewInternalError(message string) *AppError {
	return New(CategoryUnknown, "INTERNAL_ERROR", message).WithSeverity(SeverityHigh)
}

func NewNotFoundError(resource string) *AppError {
	return New(CategoryValidation, "NOT_FOUND", fmt.Sprintf("%s not found", resource)).
		WithSeverity(SeverityLow)
}

// IsCategory checks if the error belongs to a specific category
func IsCategory(err error, category Category) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Category == category
	}
	return false
}

// IsNotFound reports whether the error carries the NOT_FOUND code
func IsNotFound(err error) bool {
	return GetCode(err) == "NOT_FOUND"
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetCategory returns the error category if it's an AppError
func GetCategory(err error) Category {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Category
	}
	return CategoryUnknown
}

// GetSeverity returns the error severity if it's an AppError
func GetSeverity(err error) Severity {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Severity
	}
	return SeverityMedium
}
