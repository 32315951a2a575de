// Package errors provides centralized error handling with category metadata
// used for diagnostics reporting and retry decisions.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryCapture         ErrorCategory = "capture"
	CategoryImageHash       ErrorCategory = "image-hash"
	CategoryDetectorStage   ErrorCategory = "detector-stage"
	CategoryIdentifierStage ErrorCategory = "identifier-stage"
	CategoryCloudStage      ErrorCategory = "cloud-stage"
	CategoryPlayback        ErrorCategory = "playback"
	CategoryDatabase        ErrorCategory = "database"
	CategoryScheduler       ErrorCategory = "scheduler"
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryMQTT            ErrorCategory = "mqtt"
	CategoryValidation      ErrorCategory = "validation"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryGeneric         ErrorCategory = "generic"
)

// Severity classifies how a provider error should be handled by the pipeline.
type Severity string

const (
	// SeverityTransient marks errors worth a single retry, network timeouts and
	// the like. A timeout is treated identically to a provider failure.
	SeverityTransient Severity = "transient"
	// SeverityPermanent marks errors that must never be retried, such as
	// missing credentials or an empty sound registry.
	SeverityPermanent Severity = "permanent"
)

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	Component string         // Component where error occurred
	Category  ErrorCategory  // Error category for better grouping
	Severity  Severity       // Retry classification
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap returns the original error for errors.Is/As chains
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// GetCategory returns the error category as a string
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	severity  Severity
	context   map[string]any
}

// New creates a new error with enhanced context
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Transient marks the error as retryable
func (eb *ErrorBuilder) Transient() *ErrorBuilder {
	eb.severity = SeverityTransient
	return eb
}

// Permanent marks the error as not retryable
func (eb *ErrorBuilder) Permanent() *ErrorBuilder {
	eb.severity = SeverityPermanent
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing adds performance timing context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context["operation"] = operation
	eb.context["duration_ms"] = duration.Milliseconds()
	return eb
}

// Build creates the EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	severity := eb.severity
	if severity == "" {
		severity = SeverityPermanent
	}
	return &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  category,
		Severity:  severity,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// IsTransient reports whether err (or any error it wraps) is marked transient.
// Plain errors without severity metadata are treated as permanent.
func IsTransient(err error) bool {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Severity == SeverityTransient
	}
	return false
}

// CategoryOf returns the category of err, or CategoryGeneric for plain errors.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// NewStd creates a standard error without enhancement, replacement for errors.New
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
