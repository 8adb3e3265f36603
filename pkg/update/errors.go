package update

import (
	"errors"
	"fmt"
)

// ErrorClass categorizes update errors for handling and metrics.
type ErrorClass string

const (
	// ClassMalformed indicates input the engine cannot interpret, such as an
	// entity id whose path does not match its entity type.
	ClassMalformed ErrorClass = "malformed"

	// ClassConflict indicates an optimistic-concurrency failure: a node
	// instance was modified by another writer mid-reconciliation.
	ClassConflict ErrorClass = "conflict"

	// ClassDangling indicates a dependency edge referencing a deployment
	// that is no longer resolvable.
	ClassDangling ErrorClass = "dangling"

	// ClassInternal indicates a storage or invariant failure.
	ClassInternal ErrorClass = "internal"
)

// Error codes used across the engine.
const (
	ErrCodeMalformedEntityID         = "MALFORMED_ENTITY_ID"
	ErrCodeUnsupportedStep           = "UNSUPPORTED_STEP"
	ErrCodeConcurrentModification    = "CONCURRENT_MODIFICATION"
	ErrCodeMissingResumableOperation = "MISSING_RESUMABLE_OPERATION"
	ErrCodeDanglingDependency        = "DANGLING_DEPENDENCY"
	ErrCodeStorageFailure            = "STORAGE_FAILURE"
)

// UpdateError is a classified engine error carrying structured context.
type UpdateError struct {
	Class   ErrorClass
	Code    string
	Message string
	Err     error
	Fields  map[string]any
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is / errors.As chains.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// WithField attaches a context field to the error and returns it.
func (e *UpdateError) WithField(key string, value any) *UpdateError {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *UpdateError) WithCause(err error) *UpdateError {
	e.Err = err
	return e
}

func newError(class ErrorClass, code, format string, args ...any) *UpdateError {
	return &UpdateError{
		Class:   class,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewMalformedEntityID reports an entity id that does not match the shape
// expected for its entity type.
func NewMalformedEntityID(entityType EntityType, entityID string) *UpdateError {
	return newError(ClassMalformed, ErrCodeMalformedEntityID,
		"entity id %q does not match the expected shape for entity type %q",
		entityID, entityType).
		WithField("entity_type", string(entityType)).
		WithField("entity_id", entityID)
}

// NewUnsupportedStep reports a (entity type, action) pair with no handler.
func NewUnsupportedStep(entityType EntityType, action Action) *UpdateError {
	return newError(ClassMalformed, ErrCodeUnsupportedStep,
		"no handler registered for entity type %q action %q", entityType, action).
		WithField("entity_type", string(entityType)).
		WithField("action", string(action))
}

// NewConcurrentModification reports an instance version conflict.
func NewConcurrentModification(instanceID string, err error) *UpdateError {
	return newError(ClassConflict, ErrCodeConcurrentModification,
		"node instance %q was modified concurrently", instanceID).
		WithField("instance_id", instanceID).
		WithCause(err)
}

// NewDanglingDependency reports dependency edges whose target deployment
// cannot be resolved from the plan.
func NewDanglingDependency(sourceDeployment string, creators []string) *UpdateError {
	return newError(ClassDangling, ErrCodeDanglingDependency,
		"deployment %q declares dependencies with unresolvable targets: %v",
		sourceDeployment, creators).
		WithField("source_deployment", sourceDeployment).
		WithField("dependency_creators", creators)
}

// NewStorageFailure wraps a storage-layer error.
func NewStorageFailure(op string, err error) *UpdateError {
	return newError(ClassInternal, ErrCodeStorageFailure, "storage operation %s failed", op).
		WithField("operation", op).
		WithCause(err)
}

// ClassOf extracts the error class, defaulting to internal.
func ClassOf(err error) ErrorClass {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Class
	}
	return ClassInternal
}

// IsMalformed reports whether err is a malformed-input error.
func IsMalformed(err error) bool { return ClassOf(err) == ClassMalformed }

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool { return ClassOf(err) == ClassConflict }

// IsDangling reports whether err is a dangling-dependency error.
func IsDangling(err error) bool { return ClassOf(err) == ClassDangling }
