package amqp

import (
	"time"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

// MessageHeader carries transport hints: durability, priority, TTL, and
// delivery-count bookkeeping for a message.
//
//	<descriptor name="amqp:header:list" code="0x00000000:0x00000070"/>
type MessageHeader struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration
	FirstAcquirer bool
	DeliveryCount uint32
}

func (h *MessageHeader) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageHeader, []encoding.Field{
		{Value: h.Durable, Omit: !h.Durable},
		{Value: h.Priority, Omit: h.Priority == 4},
		{Value: encoding.Milliseconds(h.TTL), Omit: h.TTL == 0},
		{Value: h.FirstAcquirer, Omit: !h.FirstAcquirer},
		{Value: h.DeliveryCount, Omit: h.DeliveryCount == 0},
	})
}

func (h *MessageHeader) Unmarshal(r *buffer.Buffer) error {
	h.Priority = 4
	return encoding.UnmarshalComposite(r, encoding.TypeCodeMessageHeader,
		encoding.UnmarshalField{Field: &h.Durable},
		encoding.UnmarshalField{Field: &h.Priority},
		encoding.UnmarshalField{Field: (*encoding.Milliseconds)(&h.TTL)},
		encoding.UnmarshalField{Field: &h.FirstAcquirer},
		encoding.UnmarshalField{Field: &h.DeliveryCount},
	)
}

// MessageProperties carries the immutable, application-addressed
// envelope fields of a message.
//
//	<descriptor name="amqp:properties:list" code="0x00000000:0x00000073"/>
type MessageProperties struct {
	MessageID     any
	UserID        []byte
	To            string
	Subject       string
	ReplyTo       string
	CorrelationID any
	ContentType   encoding.Symbol
	ContentEncoding encoding.Symbol
	AbsoluteExpiryTime time.Time
	CreationTime  time.Time
	GroupID       string
	GroupSequence uint32
	ReplyToGroupID string
}

func (p *MessageProperties) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageProperties, []encoding.Field{
		{Value: p.MessageID, Omit: p.MessageID == nil},
		{Value: p.UserID, Omit: len(p.UserID) == 0},
		{Value: p.To, Omit: p.To == ""},
		{Value: p.Subject, Omit: p.Subject == ""},
		{Value: p.ReplyTo, Omit: p.ReplyTo == ""},
		{Value: p.CorrelationID, Omit: p.CorrelationID == nil},
		{Value: p.ContentType, Omit: p.ContentType == ""},
		{Value: p.ContentEncoding, Omit: p.ContentEncoding == ""},
		{Value: p.AbsoluteExpiryTime, Omit: p.AbsoluteExpiryTime.IsZero()},
		{Value: p.CreationTime, Omit: p.CreationTime.IsZero()},
		{Value: p.GroupID, Omit: p.GroupID == ""},
		{Value: p.GroupSequence, Omit: p.GroupSequence == 0},
		{Value: p.ReplyToGroupID, Omit: p.ReplyToGroupID == ""},
	})
}

func (p *MessageProperties) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeMessageProperties,
		encoding.UnmarshalField{Field: &p.MessageID},
		encoding.UnmarshalField{Field: &p.UserID},
		encoding.UnmarshalField{Field: &p.To},
		encoding.UnmarshalField{Field: &p.Subject},
		encoding.UnmarshalField{Field: &p.ReplyTo},
		encoding.UnmarshalField{Field: &p.CorrelationID},
		encoding.UnmarshalField{Field: &p.ContentType},
		encoding.UnmarshalField{Field: &p.ContentEncoding},
		encoding.UnmarshalField{Field: &p.AbsoluteExpiryTime},
		encoding.UnmarshalField{Field: &p.CreationTime},
		encoding.UnmarshalField{Field: &p.GroupID},
		encoding.UnmarshalField{Field: &p.GroupSequence},
		encoding.UnmarshalField{Field: &p.ReplyToGroupID},
	)
}

// Message is the decoded form of a delivery's payload: the concatenation
// of bare-message and annotation sections carried across one or more
// Transfer frames for a single delivery-tag.
type Message struct {
	Header                 *MessageHeader
	DeliveryAnnotations    encoding.Annotations
	MessageAnnotations     encoding.Annotations
	Properties             *MessageProperties
	ApplicationProperties  map[string]any
	// exactly one of Data, Sequence, Value is populated, matching the
	// polymorphic amqp-value/amqp-sequence/data body.
	Data     [][]byte
	Sequence []encoding.List
	Value    any
	Footer   encoding.Annotations

	// DeliveryTag and Format are populated by the receiving link from the
	// Transfer performative(s) that carried this message, not from the
	// encoded sections themselves.
	DeliveryTag []byte
	Format      uint32

	// deliveryID is the delivery-id of the first Transfer frame carrying
	// this message, used by the receiving link to address Disposition
	// frames when the message is settled.
	deliveryID uint32
}

// Marshal encodes m's sections in wire order, omitting absent ones.
func (m *Message) Marshal(wr *buffer.Buffer) error {
	if m.Header != nil {
		if err := m.Header.Marshal(wr); err != nil {
			return err
		}
	}
	if len(m.DeliveryAnnotations) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeDeliveryAnnotations)
		if err := encoding.Marshal(wr, map[any]any(m.DeliveryAnnotations)); err != nil {
			return err
		}
	}
	if len(m.MessageAnnotations) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeMessageAnnotations)
		if err := encoding.Marshal(wr, map[any]any(m.MessageAnnotations)); err != nil {
			return err
		}
	}
	if m.Properties != nil {
		if err := m.Properties.Marshal(wr); err != nil {
			return err
		}
	}
	if len(m.ApplicationProperties) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationProperties)
		if err := encoding.Marshal(wr, m.ApplicationProperties); err != nil {
			return err
		}
	}
	switch {
	case m.Data != nil:
		for _, d := range m.Data {
			encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationData)
			if err := encoding.WriteBinary(wr, d); err != nil {
				return err
			}
		}
	case m.Sequence != nil:
		for _, s := range m.Sequence {
			encoding.WriteDescriptor(wr, encoding.TypeCodeAMQPSequence)
			if err := s.Marshal(wr); err != nil {
				return err
			}
		}
	case m.Value != nil:
		encoding.WriteDescriptor(wr, encoding.TypeCodeAMQPValue)
		if err := encoding.Marshal(wr, m.Value); err != nil {
			return err
		}
	}
	if len(m.Footer) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeFooter)
		if err := encoding.Marshal(wr, map[any]any(m.Footer)); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal decodes the section stream held in r (typically the
// concatenated Transfer payload for one delivery) into m.
func (m *Message) Unmarshal(r *buffer.Buffer) error {
	for r.Len() > 0 {
		code, ok := encoding.PeekCompositeType(r)
		if !ok {
			return encoding.FormatError("message section is not a described composite")
		}
		switch encoding.TypeCode(code) {
		case encoding.TypeCodeMessageHeader:
			m.Header = new(MessageHeader)
			if err := m.Header.Unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeDeliveryAnnotations:
			var a encoding.Annotations
			if err := unmarshalSection(r, encoding.TypeCodeDeliveryAnnotations, &a); err != nil {
				return err
			}
			m.DeliveryAnnotations = a
		case encoding.TypeCodeMessageAnnotations:
			var a encoding.Annotations
			if err := unmarshalSection(r, encoding.TypeCodeMessageAnnotations, &a); err != nil {
				return err
			}
			m.MessageAnnotations = a
		case encoding.TypeCodeMessageProperties:
			m.Properties = new(MessageProperties)
			if err := m.Properties.Unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationProperties:
			var p map[string]any
			if err := unmarshalSection(r, encoding.TypeCodeApplicationProperties, &p); err != nil {
				return err
			}
			m.ApplicationProperties = p
		case encoding.TypeCodeApplicationData:
			var d []byte
			if err := unmarshalSection(r, encoding.TypeCodeApplicationData, &d); err != nil {
				return err
			}
			m.Data = append(m.Data, d)
		case encoding.TypeCodeAMQPSequence:
			consumeDescriptor(r)
			var l encoding.List
			if err := l.Unmarshal(r); err != nil {
				return err
			}
			m.Sequence = append(m.Sequence, l)
		case encoding.TypeCodeAMQPValue:
			consumeDescriptor(r)
			v, err := encoding.ReadAny(r)
			if err != nil {
				return err
			}
			m.Value = v
		case encoding.TypeCodeFooter:
			var a encoding.Annotations
			if err := unmarshalSection(r, encoding.TypeCodeFooter, &a); err != nil {
				return err
			}
			m.Footer = a
		default:
			return encoding.FormatError("unrecognized message section descriptor %#x", code)
		}
	}
	return nil
}

// consumeDescriptor skips the 0x00 <descriptor> prefix already peeked by
// the caller via PeekCompositeType.
func consumeDescriptor(r *buffer.Buffer) {
	r.Skip(1)
	_, _ = encoding.ReadAny(r)
}

// unmarshalSection decodes a basic-encoded section: descriptor prefix
// followed directly by the inner value, with no described-list wrapper.
func unmarshalSection(r *buffer.Buffer, code encoding.TypeCode, dest any) error {
	consumeDescriptor(r)
	return encoding.Unmarshal(r, dest)
}
