// Package errs defines the typed error kinds that flow between the reel
// playback engine's components: container, decoder, block allocation,
// lifecycle state, and cooperative cancellation.
package errs

import "fmt"

// Kind classifies an EngineError the way a worker's cycle-boundary handler
// needs to: does it get logged, does it flip the pipeline to EOF-like
// state, or is it silent because an interrupt was observed.
type Kind string

const (
	KindContainer  Kind = "container"  // demux/open/read failure in the native codec library
	KindDecoder    Kind = "decoder"    // codec send/receive, resampler, or filter-graph failure
	KindAllocation Kind = "allocation" // block buffer slot allocation/lock failure
	KindState      Kind = "state"      // operation invoked in the wrong lifecycle state
	KindCancelled  Kind = "cancelled"  // interrupt observed mid-operation
)

// EngineError carries a Kind, the operation name, an optional wrapped
// cause, and free-form fields for structured logging.
type EngineError struct {
	Kind   Kind
	Op     string
	Err    error
	Fields map[string]any
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reel: %s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("reel: %s: %s", e.Kind, e.Op)
}

func (e *EngineError) Unwrap() error { return e.Err }

// WithFields attaches structured context, returning a new EngineError.
func (e *EngineError) WithFields(fields map[string]any) *EngineError {
	n := *e
	n.Fields = fields
	return &n
}

func newErr(kind Kind, op string, err error) *EngineError {
	return &EngineError{Kind: kind, Op: op, Err: err}
}

// NewContainerError builds a KindContainer error for demux/open/read failures.
func NewContainerError(op string, err error) *EngineError { return newErr(KindContainer, op, err) }

// NewDecoderError builds a KindDecoder error for codec/resampler/filter failures.
func NewDecoderError(op string, err error) *EngineError { return newErr(KindDecoder, op, err) }

// NewAllocationError builds a KindAllocation error for block buffer allocation failures.
func NewAllocationError(op string, err error) *EngineError { return newErr(KindAllocation, op, err) }

// NewStateError builds a KindState error for operations invoked in the wrong lifecycle state.
func NewStateError(op string, err error) *EngineError { return newErr(KindState, op, err) }

// Cancelled is the sentinel returned when a long-running operation observed
// an interrupt before completing. It carries no wrapped cause.
func Cancelled(op string) *EngineError { return newErr(KindCancelled, op, nil) }

// IsCancelled reports whether err is (or wraps) a KindCancelled EngineError.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// KindOf unwraps err looking for an EngineError and returns its Kind, or
// the empty Kind if err is nil or carries none.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*EngineError); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}
