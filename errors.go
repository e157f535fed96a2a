package amqp

import (
	"errors"
	"fmt"

	"github.com/nchaourar/amqp10/internal/encoding"
)

// ErrCond is an AMQP defined error condition.
// See http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#type-amqp-error
type ErrCond = encoding.ErrCond

// Error conditions re-exported for callers that don't want to import the
// internal encoding package directly.
const (
	ErrCondInternalError         ErrCond = encoding.ErrCondInternalError
	ErrCondNotFound              ErrCond = encoding.ErrCondNotFound
	ErrCondUnauthorizedAccess    ErrCond = encoding.ErrCondUnauthorizedAccess
	ErrCondDecodeError           ErrCond = encoding.ErrCondDecodeError
	ErrCondResourceLimitExceeded ErrCond = encoding.ErrCondResourceLimitExceeded
	ErrCondNotAllowed            ErrCond = encoding.ErrCondNotAllowed
	ErrCondInvalidField          ErrCond = encoding.ErrCondInvalidField
	ErrCondNotImplemented        ErrCond = encoding.ErrCondNotImplemented
	ErrCondResourceLocked        ErrCond = encoding.ErrCondResourceLocked
	ErrCondPreconditionFailed    ErrCond = encoding.ErrCondPreconditionFailed
	ErrCondResourceDeleted       ErrCond = encoding.ErrCondResourceDeleted
	ErrCondIllegalState          ErrCond = encoding.ErrCondIllegalState
	ErrCondFrameSizeTooSmall     ErrCond = encoding.ErrCondFrameSizeTooSmall

	ErrCondConnectionForced   ErrCond = encoding.ErrCondConnectionForced
	ErrCondFramingError       ErrCond = encoding.ErrCondFramingError
	ErrCondConnectionRedirect ErrCond = encoding.ErrCondConnectionRedirect

	ErrCondWindowViolation  ErrCond = encoding.ErrCondWindowViolation
	ErrCondErrantLink       ErrCond = encoding.ErrCondErrantLink
	ErrCondHandleInUse      ErrCond = encoding.ErrCondHandleInUse
	ErrCondUnattachedHandle ErrCond = encoding.ErrCondUnattachedHandle

	ErrCondDetachForced          ErrCond = encoding.ErrCondDetachForced
	ErrCondTransferLimitExceeded ErrCond = encoding.ErrCondTransferLimitExceeded
	ErrCondMessageSizeExceeded   ErrCond = encoding.ErrCondMessageSizeExceeded
	ErrCondLinkRedirect          ErrCond = encoding.ErrCondLinkRedirect
	ErrCondStolen                ErrCond = encoding.ErrCondStolen
)

// Error is the AMQP error composite, carried on Close/End/Detach.
type Error = encoding.Error

// DetachError is returned by a Sender/Receiver when its link's Detach
// frame is observed. RemoteError is nil for a graceful detach.
type DetachError struct {
	RemoteError *Error
}

func (e *DetachError) Error() string {
	return fmt.Sprintf("link detached, reason: %+v", e.RemoteError)
}

var (
	// ErrSessionClosed is returned by Session operations once Close has
	// been called or an End has been observed.
	ErrSessionClosed = errors.New("amqp10: session closed")

	// ErrLinkClosed is returned by Send/Receive/Accept/Reject/Release
	// once the owning link has been detached with closed=true.
	ErrLinkClosed = errors.New("amqp10: link closed")

	// ErrConnClosed is returned by Connection and Session operations
	// once the owning connection is no longer functional.
	ErrConnClosed = errors.New("amqp10: connection closed")
)

// ConnectionError is propagated to every live Session and link when the
// connection closes or becomes unusable, wrapping the remote Close error
// if one was received.
type ConnectionError struct {
	inner error
}

func (c *ConnectionError) Error() string {
	if c.inner == nil {
		return "amqp10: connection closed"
	}
	return c.inner.Error()
}

func (c *ConnectionError) Unwrap() error { return c.inner }
