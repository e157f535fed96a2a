package frames

import (
	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

// SASLMechanisms announces the mechanisms the server is willing to
// accept; it is always the first frame sent on a SASL-negotiated
// connection.
//
//	<descriptor name="amqp:sasl-mechanisms:list" code="0x00000000:0x00000040"/>
type SASLMechanisms struct {
	Mechanisms encoding.MultiSymbol
}

func (*SASLMechanisms) isFrameBody() {}

func (m *SASLMechanisms) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLMechanisms, []encoding.Field{
		{Value: m.Mechanisms},
	})
}

func (m *SASLMechanisms) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLMechanisms,
		encoding.UnmarshalField{Field: &m.Mechanisms},
	)
}

// SASLInit is the client's choice of mechanism and (mechanism-specific)
// initial response.
//
//	<descriptor name="amqp:sasl-init:list" code="0x00000000:0x00000041"/>
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (*SASLInit) isFrameBody() {}

func (i *SASLInit) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLInit, []encoding.Field{
		{Value: i.Mechanism},
		{Value: i.InitialResponse, Omit: i.InitialResponse == nil},
		{Value: i.Hostname, Omit: i.Hostname == ""},
	})
}

func (i *SASLInit) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLInit,
		encoding.UnmarshalField{Field: &i.Mechanism},
		encoding.UnmarshalField{Field: &i.InitialResponse},
		encoding.UnmarshalField{Field: &i.Hostname},
	)
}

// SASLChallenge carries a server challenge as an opaque byte sequence
// whose interpretation is mechanism-specific.
//
//	<descriptor name="amqp:sasl-challenge:list" code="0x00000000:0x00000042"/>
type SASLChallenge struct {
	Challenge []byte
}

func (*SASLChallenge) isFrameBody() {}

func (c *SASLChallenge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLChallenge, []encoding.Field{
		{Value: c.Challenge},
	})
}

func (c *SASLChallenge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLChallenge,
		encoding.UnmarshalField{Field: &c.Challenge},
	)
}

// SASLResponse answers a SASLChallenge.
//
//	<descriptor name="amqp:sasl-response:list" code="0x00000000:0x00000043"/>
type SASLResponse struct {
	Response []byte
}

func (*SASLResponse) isFrameBody() {}

func (r *SASLResponse) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLResponse, []encoding.Field{
		{Value: r.Response},
	})
}

func (rs *SASLResponse) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLResponse,
		encoding.UnmarshalField{Field: &rs.Response},
	)
}

// SASLCode is the outcome of a SASL negotiation.
type SASLCode uint8

const (
	SASLCodeOK SASLCode = iota
	SASLCodeAuth
	SASLCodeSys
	SASLCodeSysPerm
	SASLCodeSysTemp
)

// SASLOutcome is the last frame of a SASL negotiation, reporting success
// or the reason for failure.
//
//	<descriptor name="amqp:sasl-outcome:list" code="0x00000000:0x00000044"/>
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (*SASLOutcome) isFrameBody() {}

func (o *SASLOutcome) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLOutcome, []encoding.Field{
		{Value: uint8(o.Code)},
		{Value: o.AdditionalData, Omit: o.AdditionalData == nil},
	})
}

func (o *SASLOutcome) Unmarshal(r *buffer.Buffer) error {
	var code uint8
	if err := encoding.UnmarshalComposite(r, encoding.TypeCodeSASLOutcome,
		encoding.UnmarshalField{Field: &code},
		encoding.UnmarshalField{Field: &o.AdditionalData},
	); err != nil {
		return err
	}
	o.Code = SASLCode(code)
	return nil
}

// ParseSASLBody decodes one of the five SASL frame bodies, mirroring
// ParseBody's dispatch for the AMQP performatives.
func ParseSASLBody(r *buffer.Buffer) (FrameBody, error) {
	code, ok := encoding.PeekCompositeType(r)
	if !ok {
		return nil, encoding.FormatError("SASL frame body is not a described composite")
	}
	switch encoding.TypeCode(code) {
	case encoding.TypeCodeSASLMechanisms:
		v := new(SASLMechanisms)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeSASLInit:
		v := new(SASLInit)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeSASLChallenge:
		v := new(SASLChallenge)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeSASLResponse:
		v := new(SASLResponse)
		return v, v.Unmarshal(r)
	case encoding.TypeCodeSASLOutcome:
		v := new(SASLOutcome)
		return v, v.Unmarshal(r)
	default:
		return nil, encoding.FormatError("unrecognized SASL frame descriptor %#x", code)
	}
}
