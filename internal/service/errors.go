package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/phrazzld/imagery-api/internal/tiling"
)

// Sentinel errors returned by the task service.
var (
	// ErrInvalidRequest wraps validation failures of a request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelInactive indicates the requested model is disabled.
	ErrModelInactive = errors.New("model is not active")

	// ErrInsufficientPoints indicates the user cannot pay for the request.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrTaskNotFound indicates the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotOwned indicates a task belongs to a different user than the requester.
	ErrNotOwned = errors.New("resource is owned by another user")

	// ErrParentNotCompleted indicates a split was requested for a task without a finished image.
	ErrParentNotCompleted = errors.New("parent task has no completed image")

	// ErrBatchNotFound indicates no tasks exist for a batch group.
	ErrBatchNotFound = errors.New("batch group not found")

	// ErrEnqueueFailed indicates a task was stored but could not be queued.
	// The task stays pending and is picked up again on the next start.
	ErrEnqueueFailed = errors.New("task stored but not queued")
)

// ServiceError wraps unexpected errors from the task service with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "split")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError. Store and tiling errors with a
// service-level meaning are returned as the matching sentinel instead.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, store.ErrModelNotFound):
		return ErrModelNotFound
	case errors.Is(err, store.ErrInsufficientPoints):
		return ErrInsufficientPoints
	case errors.Is(err, tiling.ErrInvalidGrid),
		errors.Is(err, tiling.ErrInvalidMode),
		errors.Is(err, tiling.ErrInvalidInset),
		errors.Is(err, tiling.ErrInvalidIndex),
		errors.Is(err, tiling.ErrDuplicateIndex):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
