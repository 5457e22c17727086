package nodetree

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReference indicates a literal string was handed to the resolver.
	ErrNotReference = errors.New("nodetree: string is not a reference")
	// ErrReferenceCycle indicates a reference chain that leads back to itself.
	ErrReferenceCycle = errors.New("nodetree: reference cycle")

	// ErrUnknownAttribute indicates a name that the node schema does not declare.
	ErrUnknownAttribute = errors.New("nodetree: unknown attribute")
	// ErrMissingValue indicates an attribute that is unset and has no default.
	ErrMissingValue = errors.New("nodetree: missing value")
	// ErrTypeMismatch indicates a value that does not fit the declared slot.
	ErrTypeMismatch = errors.New("nodetree: type mismatch")
	// ErrUnknownType indicates a type tag or slot type missing from the registry.
	ErrUnknownType = errors.New("nodetree: unknown type")
	// ErrAlreadyAttached indicates a node instance that already has (or had) a parent.
	ErrAlreadyAttached = errors.New("nodetree: node already attached")
	// ErrAttachCycle indicates an attempt to attach a node below itself.
	ErrAttachCycle = errors.New("nodetree: attach would create a cycle")
	// ErrTreeBusy indicates a mutation attempted while the tree is being traversed.
	ErrTreeBusy = errors.New("nodetree: tree is being traversed")
	// ErrCheckFailed indicates a field check expression that did not hold.
	ErrCheckFailed = errors.New("nodetree: check failed")
	// ErrUnbound indicates a Base used without going through NewNode or a registry.
	ErrUnbound = errors.New("nodetree: node not initialised")

	// ErrConflict indicates two contributions disagreeing on one accumulator key.
	ErrConflict = errors.New("nodetree: conflicting contribution")

	// ErrStorage indicates a read, write or parse failure of a document.
	ErrStorage = errors.New("nodetree: storage failure")
)

// ReferenceError reports a reference string that could not be resolved.
type ReferenceError struct {
	Reference string
	Err       error
}

func (e *ReferenceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("nodetree: reference %q: %v", e.Reference, e.Err)
}

func (e *ReferenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError reports a structural problem with a node or document.
type ValidationError struct {
	Node  string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	location := e.Node
	if location == "" {
		location = "<root>"
	}
	if e.Field != "" {
		return fmt.Sprintf("nodetree: %s field %q: %v", location, e.Field, e.Err)
	}
	return fmt.Sprintf("nodetree: %s: %v", location, e.Err)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConflictError reports two contributions writing different values to one key.
type ConflictError struct {
	Path     string
	Existing any
	Incoming any
}

func (e *ConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("nodetree: conflicting values for %q: existing=%v incoming=%v", e.Path, e.Existing, e.Incoming)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// StorageError reports a failed document read, write or parse.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("nodetree: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both ErrStorage and the underlying cause.
func (e *StorageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrStorage, e.Err}
}

func validationError(n Node, field string, err error) error {
	return &ValidationError{Node: Path(n), Field: field, Err: err}
}
