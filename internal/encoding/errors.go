package encoding

import (
	"fmt"

	"github.com/nchaourar/amqp10/internal/buffer"
)

// ErrCond is an AMQP-defined error condition symbol.
// See http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#type-amqp-error
type ErrCond string

// Error conditions used throughout the codec, frame, and endpoint layers.
const (
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented        ErrCond = "amqp:not-implemented"
	ErrCondResourceLocked        ErrCond = "amqp:resource-locked"
	ErrCondPreconditionFailed    ErrCond = "amqp:precondition-failed"
	ErrCondResourceDeleted       ErrCond = "amqp:resource-deleted"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"

	ErrCondConnectionForced   ErrCond = "amqp:connection:forced"
	ErrCondFramingError       ErrCond = "amqp:connection:framing-error"
	ErrCondConnectionRedirect ErrCond = "amqp:connection:redirect"

	ErrCondWindowViolation  ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink       ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse      ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle ErrCond = "amqp:session:unattached-handle"

	ErrCondDetachForced          ErrCond = "amqp:link:detach-forced"
	ErrCondTransferLimitExceeded ErrCond = "amqp:link:transfer-limit-exceeded"
	ErrCondMessageSizeExceeded   ErrCond = "amqp:link:message-size-exceeded"
	ErrCondLinkRedirect          ErrCond = "amqp:link:redirect"
	ErrCondStolen                ErrCond = "amqp:link:stolen"
)

// Error is the AMQP "error" composite, carried on Close/End/Detach and as
// the basis for Rejected delivery outcomes.
type Error struct {
	Condition   ErrCond
	Description string
	Info        map[string]any
}

// NewError builds an *Error with no extra info.
func NewError(cond ErrCond, description string) *Error {
	return &Error{Condition: cond, Description: description}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Description == "" {
		return string(e.Condition)
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Description)
}

func (e *Error) deliveryState() {}

// Marshal encodes the error composite, descriptor 0x1d.
//
//	<descriptor name="amqp:error:list" code="0x00000000:0x0000001d"/>
func (e *Error) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeError, []Field{
		{Value: string(e.Condition)},
		{Value: e.Description, Omit: e.Description == ""},
		{Value: e.Info, Omit: len(e.Info) == 0},
	})
}

func (e *Error) Unmarshal(r *buffer.Buffer) error {
	var cond string
	var info map[string]any
	if err := UnmarshalComposite(r, TypeCodeError,
		UnmarshalField{Field: &cond, HandleNull: func() error { return NewError(ErrCondInternalError, "Error.Condition is required") }},
		UnmarshalField{Field: &e.Description},
		UnmarshalField{Field: &info},
	); err != nil {
		return err
	}
	e.Condition = ErrCond(cond)
	e.Info = info
	return nil
}

// DecodeError reports a malformed byte sequence encountered while decoding.
// It is the concrete error behind ErrCondDecodeError outside of a peer
// exchange (i.e. before any Error composite can be formed).
type DecodeError struct {
	Cond ErrCond
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Cond, e.Msg)
}

// FormatError builds a *DecodeError with condition ErrCondDecodeError.
func FormatError(format string, args ...any) error {
	return &DecodeError{Cond: ErrCondDecodeError, Msg: fmt.Sprintf(format, args...)}
}

// SizeError reports that a declared size/count exceeds what the buffer
// actually holds, or that an element overruns a compound's declared size.
func SizeError(format string, args ...any) error {
	return &DecodeError{Cond: ErrCondDecodeError, Msg: "size mismatch: " + fmt.Sprintf(format, args...)}
}
