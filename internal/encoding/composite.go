package encoding

import (
	"github.com/nchaourar/amqp10/internal/buffer"
)

// UnmarshalField binds a target for one positional slot of a described
// list. HandleNull runs when the wire omitted the field (ran off the end
// of the encoded list) or encoded it as null; a nil HandleNull leaves the
// target at its zero value, matching a field with no mandatory/default
// semantics.
type UnmarshalField struct {
	Field      any
	HandleNull func() error
}

// UnmarshalComposite decodes a described-list composite with descriptor
// code, reading at most len(fields) positional values and silently
// discarding any additional trailing fields an extended peer might send.
func UnmarshalComposite(r *buffer.Buffer, code TypeCode, fields ...UnmarshalField) error {
	descriptor, err := readCompositeHeader(r)
	if err != nil {
		return err
	}
	if descriptor != uint64(code) {
		return &DecodeError{Cond: ErrCondDecodeError, Msg: "descriptor mismatch"}
	}

	count, err := readListHeader(r)
	if err != nil {
		return err
	}

	for i := uint32(0); i < count; i++ {
		if int(i) >= len(fields) {
			if _, err := ReadAny(r); err != nil { // discard unknown trailing field
				return err
			}
			continue
		}
		f := fields[i]
		if tryReadNull(r) {
			if f.HandleNull != nil {
				if err := f.HandleNull(); err != nil {
					return err
				}
			}
			continue
		}
		if err := Unmarshal(r, f.Field); err != nil {
			return err
		}
	}

	for i := int(count); i < len(fields); i++ {
		if fields[i].HandleNull != nil {
			if err := fields[i].HandleNull(); err != nil {
				return err
			}
		}
	}
	return nil
}

// readCompositeHeader consumes the 0x00 <descriptor> prefix and returns
// the descriptor as a ulong; a symbolic descriptor is resolved to its
// numeric code through symbolDescriptors.
func readCompositeHeader(r *buffer.Buffer) (uint64, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	if cp != 0x00 {
		return 0, FormatError("invalid composite prefix %#02x", cp)
	}
	descriptor, err := ReadAny(r)
	if err != nil {
		return 0, err
	}
	switch d := descriptor.(type) {
	case uint64:
		return d, nil
	case Symbol:
		code, ok := symbolDescriptors[d]
		if !ok {
			return 0, FormatError("unknown symbolic descriptor %q", d)
		}
		return code, nil
	default:
		return 0, FormatError("unsupported descriptor type %T", descriptor)
	}
}

// symbolDescriptors maps the well-known symbolic forms of descriptors to
// their numeric code, for peers that encode descriptors symbolically.
var symbolDescriptors = map[Symbol]uint64{
	"amqp:open:list":        uint64(TypeCodeOpen),
	"amqp:begin:list":       uint64(TypeCodeBegin),
	"amqp:attach:list":      uint64(TypeCodeAttach),
	"amqp:flow:list":        uint64(TypeCodeFlow),
	"amqp:transfer:list":    uint64(TypeCodeTransfer),
	"amqp:disposition:list": uint64(TypeCodeDisposition),
	"amqp:detach:list":      uint64(TypeCodeDetach),
	"amqp:end:list":         uint64(TypeCodeEnd),
	"amqp:close:list":       uint64(TypeCodeClose),
	"amqp:error:list":       uint64(TypeCodeError),
	"amqp:source:list":      uint64(TypeCodeSource),
	"amqp:target:list":      uint64(TypeCodeTarget),
	"amqp:coordinator:list": uint64(TypeCodeCoordinator),
	"amqp:declare:list":     uint64(TypeCodeDeclare),
	"amqp:discharge:list":   uint64(TypeCodeDischarge),
	"amqp:declared:list":    uint64(TypeCodeDeclared),
	"amqp:transactional-state:list": uint64(TypeCodeTransactionalState),
	"amqp:accepted:list":    uint64(TypeCodeStateAccepted),
	"amqp:rejected:list":    uint64(TypeCodeStateRejected),
	"amqp:released:list":    uint64(TypeCodeStateReleased),
	"amqp:modified:list":    uint64(TypeCodeStateModified),
	"amqp:received:list":    uint64(TypeCodeStateReceived),
}

// PeekCompositeType returns the numeric descriptor code of the next
// value if it is a described composite, without consuming input. It is
// used to dispatch performative and message-section decoding.
func PeekCompositeType(r *buffer.Buffer) (code uint64, ok bool) {
	save := *r
	defer func() { *r = save }()

	cp, err := readType(r)
	if err != nil || cp != 0x00 {
		return 0, false
	}
	descriptor, err := ReadAny(r)
	if err != nil {
		return 0, false
	}
	switch d := descriptor.(type) {
	case uint64:
		return d, true
	case Symbol:
		code, ok := symbolDescriptors[d]
		return code, ok
	default:
		return 0, false
	}
}
