// Package errors provides categorized, context-carrying errors built with a
// fluent builder, plus re-exports of the standard library helpers so callers
// only import one errors package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Category classifies an error for handling and reporting decisions.
type Category string

// Error categories.
const (
	CategoryGeneric       Category = "generic"
	CategoryNetwork       Category = "network"
	CategoryHTTP          Category = "http"
	CategoryValidation    Category = "validation"
	CategoryStorage       Category = "storage"
	CategoryRejected      Category = "rejected"
	CategoryConfiguration Category = "configuration"
	CategoryNotFound      Category = "not-found"
)

// EnhancedError wraps an error with component, category and context data.
type EnhancedError struct {
	Err       error
	Timestamp time.Time

	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string { return e.Err.Error() }

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (e *EnhancedError) Unwrap() error { return e.Err }

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category { return e.category }

// GetContext returns a copy of the attached context data.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder wrapping an existing error.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder from a formatted message. %w verbs wrap as usual.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component.
func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.component = name
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(c Category) *ErrorBuilder {
	b.category = c
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error and hands it to the registered reporter, if any.
func (b *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       b.err,
		Timestamp: time.Now(),
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
	if r := currentReporter(); r != nil {
		r(ee)
	}
	return ee
}

// Reporter receives every built error.
type Reporter func(*EnhancedError)

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs the reporter invoked by Build. Pass nil to disable.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func currentReporter() Reporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return reporter
}

// IsCategory reports whether any EnhancedError in err's chain has category c.
func IsCategory(err error, c Category) bool {
	var ee *EnhancedError
	for err != nil {
		if !stderrors.As(err, &ee) {
			return false
		}
		if ee.category == c {
			return true
		}
		err = ee.Err
	}
	return false
}

// NewStd creates a plain error, mirroring the standard library's errors.New.
func NewStd(text string) error { return stderrors.New(text) }

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }
