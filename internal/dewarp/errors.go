package dewarp

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of a dewarp run.
type Kind int

const (
	// OK means the page was flattened.
	OK Kind = iota
	// StructureNotFound means no usable text spans were found; the original
	// image is returned unchanged.
	StructureNotFound
	// NumericalDegenerate means a solver produced non-finite or negative
	// values and a fallback estimate was substituted.
	NumericalDegenerate
	// PoseEstimationFailed means the page corners could not determine an
	// initial pose.
	PoseEstimationFailed
	// ConfigValidationError means the configuration was rejected before any
	// image processing.
	ConfigValidationError
	// ResourceExhausted means a host-imposed time or concurrency limit was hit.
	ResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case StructureNotFound:
		return "structure_not_found"
	case NumericalDegenerate:
		return "numerical_degenerate"
	case PoseEstimationFailed:
		return "pose_estimation_failed"
	case ConfigValidationError:
		return "config_validation_error"
	case ResourceExhausted:
		return "resource_exhausted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrStructureNotFound    = errors.New("no text structure found")
	ErrNumericalDegenerate  = errors.New("numerically degenerate solution")
	ErrPoseEstimationFailed = errors.New("pose estimation failed")
	ErrConfigValidation     = errors.New("invalid configuration")
	ErrResourceExhausted    = errors.New("resource limit exceeded")
)

func (k Kind) sentinel() error {
	switch k {
	case StructureNotFound:
		return ErrStructureNotFound
	case NumericalDegenerate:
		return ErrNumericalDegenerate
	case PoseEstimationFailed:
		return ErrPoseEstimationFailed
	case ConfigValidationError:
		return ErrConfigValidation
	case ResourceExhausted:
		return ErrResourceExhausted
	}
	return nil
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel()
	if msg == nil {
		msg = errors.New(e.Kind.String())
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, msg)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind carried by err, OK for nil, and -1 when err is
// not classified.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return -1
}

// Exhausted wraps a host-side limit failure.
func Exhausted(op string, err error) error {
	return &Error{Kind: ResourceExhausted, Op: op, Err: err}
}
