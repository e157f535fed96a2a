package encoding

import (
	"github.com/nchaourar/amqp10/internal/buffer"
)

// Received records the boundary up to which a receiver has processed a
// delivery, used for resuming partially-transferred deliveries.
//
//	<descriptor name="amqp:received:list" code="0x00000000:0x00000023"/>
type Received struct {
	SectionNumber uint32
	SectionOffset uint64
}

func (r *Received) deliveryState() {}

func (r *Received) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateReceived, []Field{
		{Value: r.SectionNumber},
		{Value: r.SectionOffset},
	})
}

func (r *Received) Unmarshal(rd *buffer.Buffer) error {
	return UnmarshalComposite(rd, TypeCodeStateReceived,
		UnmarshalField{Field: &r.SectionNumber, HandleNull: requiredStateField("Received.SectionNumber")},
		UnmarshalField{Field: &r.SectionOffset, HandleNull: requiredStateField("Received.SectionOffset")},
	)
}

// Accepted indicates the outcome of a delivery was successfully processed.
//
//	<descriptor name="amqp:accepted:list" code="0x00000000:0x00000024"/>
type Accepted struct{}

func (a *Accepted) deliveryState() {}

func (a *Accepted) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateAccepted, nil)
}

func (a *Accepted) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateAccepted)
}

// Rejected indicates a delivery was unprocessable, optionally carrying
// the reason as an Error.
//
//	<descriptor name="amqp:rejected:list" code="0x00000000:0x00000025"/>
type Rejected struct {
	Error *Error
}

func (r *Rejected) deliveryState() {}

func (r *Rejected) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateRejected, []Field{
		{Value: r.Error, Omit: r.Error == nil},
	})
}

func (r *Rejected) Unmarshal(rd *buffer.Buffer) error {
	return UnmarshalComposite(rd, TypeCodeStateRejected,
		UnmarshalField{Field: &r.Error},
	)
}

// Released indicates a delivery was returned to the sender without being
// processed, leaving it eligible for redelivery elsewhere.
//
//	<descriptor name="amqp:released:list" code="0x00000000:0x00000026"/>
type Released struct{}

func (r *Released) deliveryState() {}

func (r *Released) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateReleased, nil)
}

func (r *Released) Unmarshal(rd *buffer.Buffer) error {
	return UnmarshalComposite(rd, TypeCodeStateReleased)
}

// Modified indicates a delivery could not be processed but should not be
// simply redelivered unchanged; it may carry updated annotations.
//
//	<descriptor name="amqp:modified:list" code="0x00000000:0x00000027"/>
type Modified struct {
	DeliveryFailed    bool
	UndeliverableHere bool
	MessageAnnotations Annotations
}

func (m *Modified) deliveryState() {}

func (m *Modified) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateModified, []Field{
		{Value: m.DeliveryFailed, Omit: !m.DeliveryFailed},
		{Value: m.UndeliverableHere, Omit: !m.UndeliverableHere},
		{Value: map[any]any(m.MessageAnnotations), Omit: len(m.MessageAnnotations) == 0},
	})
}

func (m *Modified) Unmarshal(r *buffer.Buffer) error {
	var annotations Annotations
	if err := UnmarshalComposite(r, TypeCodeStateModified,
		UnmarshalField{Field: &m.DeliveryFailed},
		UnmarshalField{Field: &m.UndeliverableHere},
		UnmarshalField{Field: &annotations},
	); err != nil {
		return err
	}
	m.MessageAnnotations = annotations
	return nil
}

func requiredStateField(name string) func() error {
	return func() error {
		return NewError(ErrCondDecodeError, name+" is required")
	}
}
