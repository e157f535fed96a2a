// Package frames implements the AMQP 1.0 protocol header and frame
// codec: the eight-byte version handshake, the frame header, and every
// performative (Open, Begin, Attach, Flow, Transfer, Disposition,
// Detach, End, Close) plus the terminus and delivery-state composites
// they carry.
package frames

import (
	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

// ProtoID identifies which protocol a connection's initial header negotiates.
type ProtoID uint8

const (
	ProtoAMQP ProtoID = 0x0
	ProtoTLS  ProtoID = 0x2
	ProtoSASL ProtoID = 0x3
)

// ProtoHeader is the 8-byte "AMQP" + version literal exchanged before any
// framing begins.
type ProtoHeader struct {
	ProtoID  ProtoID
	Major    uint8
	Minor    uint8
	Revision uint8
}

const protoHeaderSize = 8

// AppendProtoHeader encodes the literal header for id into b.
func AppendProtoHeader(id ProtoID) []byte {
	return []byte{'A', 'M', 'Q', 'P', byte(id), 1, 0, 0}
}

// ParseProtoHeader decodes the fixed 8-byte header from b.
func ParseProtoHeader(b []byte) (ProtoHeader, error) {
	if len(b) < protoHeaderSize {
		return ProtoHeader{}, encoding.FormatError("short protocol header: %d bytes", len(b))
	}
	if b[0] != 'A' || b[1] != 'M' || b[2] != 'Q' || b[3] != 'P' {
		return ProtoHeader{}, encoding.NewError(encoding.ErrCondFramingError, "invalid protocol header literal")
	}
	return ProtoHeader{
		ProtoID:  ProtoID(b[4]),
		Major:    b[5],
		Minor:    b[6],
		Revision: b[7],
	}, nil
}

// Matches reports whether two headers negotiate the same protocol and version.
func (h ProtoHeader) Matches(other ProtoHeader) bool {
	return h == other
}

// Frame types carried in the frame header's TYPE octet.
const (
	TypeAMQP uint8 = 0x00
	TypeSASL uint8 = 0x01
)

// HeaderSize is the fixed 8-byte frame header length.
const HeaderSize = 8

// MinFrameSize is the smallest legal frame: header only, no body.
const MinFrameSize = HeaderSize

// MinMaxFrameSize is the minimum value a peer may negotiate for its
// max-frame-size.
const MinMaxFrameSize = 512

// Header is the 8-byte preamble of every frame.
type Header struct {
	// Size is the total frame size including this header.
	Size uint32
	// DataOffset is the position of the frame body, as a count of 4-byte
	// words from the start of the frame. Must be >= 2.
	DataOffset uint8
	FrameType  uint8
	Channel    uint16
}

// Marshal writes h to wr.
func (h Header) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint32(h.Size)
	wr.AppendByte(h.DataOffset)
	wr.AppendByte(h.FrameType)
	wr.AppendUint16(h.Channel)
	return nil
}

// ParseHeader reads and validates a frame header from r.
func ParseHeader(r *buffer.Buffer) (Header, error) {
	size, err := r.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	doff, err := r.ReadByte()
	if err != nil {
		return Header{}, err
	}
	typ, err := r.ReadByte()
	if err != nil {
		return Header{}, err
	}
	channel, err := r.ReadUint16()
	if err != nil {
		return Header{}, err
	}
	h := Header{Size: size, DataOffset: doff, FrameType: typ, Channel: channel}
	if h.Size < MinFrameSize {
		return h, encoding.NewError(encoding.ErrCondFrameSizeTooSmall, "frame size below minimum")
	}
	if h.DataOffset < 2 {
		return h, encoding.NewError(encoding.ErrCondFramingError, "data offset below minimum")
	}
	return h, nil
}

// FrameBody is implemented by every performative and SASL frame body.
type FrameBody interface {
	isFrameBody()
}

// Frame is the fully decoded representation of one AMQP or SASL frame.
type Frame struct {
	Type    uint8
	Channel uint16
	Body    FrameBody
	// Payload holds the bytes following the performative within a
	// Transfer frame; nil for every other performative. When it is nil,
	// Encode uses a *PerformTransfer body's own Payload.
	Payload []byte
}

// Encode marshals fr, including the frame header with a correct size,
// into a freshly allocated byte slice.
func Encode(fr Frame) ([]byte, error) {
	body := buffer.New(nil)
	if err := encoding.Marshal(body, fr.Body); err != nil {
		return nil, err
	}
	payload := fr.Payload
	if tr, ok := fr.Body.(*PerformTransfer); ok && payload == nil {
		payload = tr.Payload
	}
	if payload != nil {
		body.AppendBytes(payload)
	}

	head := Header{
		Size:       uint32(HeaderSize + body.Size()),
		DataOffset: HeaderSize / 4,
		FrameType:  fr.Type,
		Channel:    fr.Channel,
	}
	out := buffer.New(nil)
	if err := head.Marshal(out); err != nil {
		return nil, err
	}
	out.AppendBytes(body.Detach())
	return out.Detach(), nil
}

// EncodeEmpty encodes a body-less frame, used as the idle-timeout heartbeat.
func EncodeEmpty(channel uint16) []byte {
	out := buffer.New(nil)
	head := Header{Size: HeaderSize, DataOffset: HeaderSize / 4, FrameType: TypeAMQP, Channel: channel}
	_ = head.Marshal(out)
	return out.Detach()
}

// ParseBody decodes an AMQP frame's performative body; for Transfer, the
// bytes that follow the performative are stored in the returned
// PerformTransfer's Payload.
func ParseBody(r *buffer.Buffer) (FrameBody, error) {
	code, ok := encoding.PeekCompositeType(r)
	if !ok {
		return nil, encoding.FormatError("frame body is not a described composite")
	}
	switch encoding.TypeCode(code) {
	case encoding.TypeCodeOpen:
		v := new(PerformOpen)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeBegin:
		v := new(PerformBegin)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeAttach:
		v := new(PerformAttach)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeFlow:
		v := new(PerformFlow)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeTransfer:
		v := new(PerformTransfer)
		if err := v.Unmarshal(r); err != nil {
			return v, err
		}
		if r.Len() > 0 {
			payload, _ := r.Next(int64(r.Len()))
			v.Payload = append([]byte(nil), payload...)
		}
		return v, nil
	case encoding.TypeCodeDisposition:
		v := new(PerformDisposition)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeDetach:
		v := new(PerformDetach)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeEnd:
		v := new(PerformEnd)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeClose:
		v := new(PerformClose)
		return v, v.Unmarshal(r)
	default:
		return nil, encoding.FormatError("unrecognized performative descriptor %#x", code)
	}
}
