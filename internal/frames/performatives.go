package frames

import (
	"fmt"
	"time"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

// PerformOpen is the first performative each peer sends once protocol
// headers are exchanged.
//
//	<type name="open" class="composite" source="list" provides="frame">
//	    <descriptor name="amqp:open:list" code="0x00000000:0x00000010"/>
type PerformOpen struct {
	ContainerID         string // required
	Hostname            string
	MaxFrameSize        uint32 // default: 4294967295
	ChannelMax          uint16 // default: 65535
	IdleTimeout         time.Duration
	OutgoingLocales     encoding.MultiSymbol
	IncomingLocales     encoding.MultiSymbol
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          encoding.Fields
}

func (*PerformOpen) isFrameBody() {}

func (o *PerformOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeOpen, []encoding.Field{
		{Value: o.ContainerID},
		{Value: o.Hostname, Omit: o.Hostname == ""},
		{Value: o.MaxFrameSize, Omit: o.MaxFrameSize == 0 || o.MaxFrameSize == 4294967295},
		{Value: o.ChannelMax, Omit: o.ChannelMax == 0 || o.ChannelMax == 65535},
		{Value: encoding.Milliseconds(o.IdleTimeout), Omit: o.IdleTimeout == 0},
		{Value: o.OutgoingLocales, Omit: len(o.OutgoingLocales) == 0},
		{Value: o.IncomingLocales, Omit: len(o.IncomingLocales) == 0},
		{Value: o.OfferedCapabilities, Omit: len(o.OfferedCapabilities) == 0},
		{Value: o.DesiredCapabilities, Omit: len(o.DesiredCapabilities) == 0},
		{Value: o.Properties, Omit: len(o.Properties) == 0},
	})
}

func (o *PerformOpen) Unmarshal(r *buffer.Buffer) error {
	o.MaxFrameSize = 4294967295
	o.ChannelMax = 65535
	return encoding.UnmarshalComposite(r, encoding.TypeCodeOpen,
		encoding.UnmarshalField{Field: &o.ContainerID, HandleNull: requiredField("Open.ContainerID")},
		encoding.UnmarshalField{Field: &o.Hostname},
		encoding.UnmarshalField{Field: &o.MaxFrameSize},
		encoding.UnmarshalField{Field: &o.ChannelMax},
		encoding.UnmarshalField{Field: (*encoding.Milliseconds)(&o.IdleTimeout)},
		encoding.UnmarshalField{Field: &o.OutgoingLocales},
		encoding.UnmarshalField{Field: &o.IncomingLocales},
		encoding.UnmarshalField{Field: &o.OfferedCapabilities},
		encoding.UnmarshalField{Field: &o.DesiredCapabilities},
		encoding.UnmarshalField{Field: &o.Properties},
	)
}

func (o *PerformOpen) String() string {
	return fmt.Sprintf("Open{ContainerID: %q, Hostname: %q, MaxFrameSize: %d, ChannelMax: %d, IdleTimeout: %v}",
		o.ContainerID, o.Hostname, o.MaxFrameSize, o.ChannelMax, o.IdleTimeout)
}

// PerformBegin establishes a session on a channel.
//
//	<descriptor name="amqp:begin:list" code="0x00000000:0x00000011"/>
type PerformBegin struct {
	// RemoteChannel is set only when responding to a remotely-initiated session.
	RemoteChannel       *uint16
	NextOutgoingID      uint32 // required
	IncomingWindow      uint32 // required
	OutgoingWindow      uint32 // required
	HandleMax           uint32 // default 4294967295
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          encoding.Fields
}

func (*PerformBegin) isFrameBody() {}

func (b *PerformBegin) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeBegin, []encoding.Field{
		{Value: b.RemoteChannel, Omit: b.RemoteChannel == nil},
		{Value: b.NextOutgoingID},
		{Value: b.IncomingWindow},
		{Value: b.OutgoingWindow},
		{Value: b.HandleMax, Omit: b.HandleMax == 4294967295},
		{Value: b.OfferedCapabilities, Omit: len(b.OfferedCapabilities) == 0},
		{Value: b.DesiredCapabilities, Omit: len(b.DesiredCapabilities) == 0},
		{Value: b.Properties, Omit: len(b.Properties) == 0},
	})
}

func (b *PerformBegin) Unmarshal(r *buffer.Buffer) error {
	b.HandleMax = 4294967295
	return encoding.UnmarshalComposite(r, encoding.TypeCodeBegin,
		encoding.UnmarshalField{Field: &b.RemoteChannel},
		encoding.UnmarshalField{Field: &b.NextOutgoingID, HandleNull: requiredField("Begin.NextOutgoingID")},
		encoding.UnmarshalField{Field: &b.IncomingWindow, HandleNull: requiredField("Begin.IncomingWindow")},
		encoding.UnmarshalField{Field: &b.OutgoingWindow, HandleNull: requiredField("Begin.OutgoingWindow")},
		encoding.UnmarshalField{Field: &b.HandleMax},
		encoding.UnmarshalField{Field: &b.OfferedCapabilities},
		encoding.UnmarshalField{Field: &b.DesiredCapabilities},
		encoding.UnmarshalField{Field: &b.Properties},
	)
}

func (b *PerformBegin) String() string {
	return fmt.Sprintf("Begin{NextOutgoingID: %d, IncomingWindow: %d, OutgoingWindow: %d}",
		b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow)
}

// PerformAttach negotiates a link between two endpoints.
//
//	<descriptor name="amqp:attach:list" code="0x00000000:0x00000012"/>
type PerformAttach struct {
	Name               string // required
	Handle             uint32 // required
	Role               encoding.Role
	SenderSettleMode   *encoding.SenderSettleMode
	ReceiverSettleMode *encoding.ReceiverSettleMode
	Source             *Source
	Target             *Target
	Coordinator        *Coordinator
	Unsettled          map[string]encoding.DeliveryState
	IncompleteUnsettled bool
	InitialDeliveryCount uint32 // sender only, required for sender
	MaxMessageSize     uint64
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties         encoding.Fields
}

func (*PerformAttach) isFrameBody() {}

// targetValue returns whichever of Target/Coordinator is set, for
// positional encoding in the "target" slot.
func (a *PerformAttach) targetValue() any {
	if a.Coordinator != nil {
		return a.Coordinator
	}
	if a.Target != nil {
		return a.Target
	}
	return nil
}

func (a *PerformAttach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeAttach, []encoding.Field{
		{Value: a.Name},
		{Value: a.Handle},
		{Value: a.Role},
		{Value: a.SenderSettleMode, Omit: a.SenderSettleMode == nil},
		{Value: a.ReceiverSettleMode, Omit: a.ReceiverSettleMode == nil},
		{Value: a.Source, Omit: a.Source == nil},
		{Value: a.targetValue(), Omit: a.targetValue() == nil},
		{Value: unsettledMap(a.Unsettled), Omit: len(a.Unsettled) == 0},
		{Value: a.IncompleteUnsettled, Omit: !a.IncompleteUnsettled},
		{Value: a.InitialDeliveryCount, Omit: a.Role == encoding.RoleReceiver},
		{Value: a.MaxMessageSize, Omit: a.MaxMessageSize == 0},
		{Value: a.OfferedCapabilities, Omit: len(a.OfferedCapabilities) == 0},
		{Value: a.DesiredCapabilities, Omit: len(a.DesiredCapabilities) == 0},
		{Value: a.Properties, Omit: len(a.Properties) == 0},
	})
}

func (a *PerformAttach) Unmarshal(r *buffer.Buffer) error {
	var unsettled encoding.Fields
	var source, target any
	err := encoding.UnmarshalComposite(r, encoding.TypeCodeAttach,
		encoding.UnmarshalField{Field: &a.Name, HandleNull: requiredField("Attach.Name")},
		encoding.UnmarshalField{Field: &a.Handle, HandleNull: requiredField("Attach.Handle")},
		encoding.UnmarshalField{Field: &a.Role},
		encoding.UnmarshalField{Field: &a.SenderSettleMode},
		encoding.UnmarshalField{Field: &a.ReceiverSettleMode},
		encoding.UnmarshalField{Field: &terminusSlot{&source}},
		encoding.UnmarshalField{Field: &terminusSlot{&target}},
		encoding.UnmarshalField{Field: &unsettled},
		encoding.UnmarshalField{Field: &a.IncompleteUnsettled},
		encoding.UnmarshalField{Field: &a.InitialDeliveryCount},
		encoding.UnmarshalField{Field: &a.MaxMessageSize},
		encoding.UnmarshalField{Field: &a.OfferedCapabilities},
		encoding.UnmarshalField{Field: &a.DesiredCapabilities},
		encoding.UnmarshalField{Field: &a.Properties},
	)
	if err != nil {
		return err
	}
	if s, ok := source.(*Source); ok {
		a.Source = s
	}
	switch t := target.(type) {
	case *Target:
		a.Target = t
	case *Coordinator:
		a.Coordinator = t
	}
	a.Unsettled = fieldsToUnsettled(unsettled)
	return nil
}

func (a *PerformAttach) String() string {
	return fmt.Sprintf("Attach{Name: %q, Handle: %d, Role: %s}", a.Name, a.Handle, a.Role)
}

func unsettledMap(u map[string]encoding.DeliveryState) encoding.Fields {
	if len(u) == 0 {
		return nil
	}
	f := make(encoding.Fields, len(u))
	for k, v := range u {
		f[encoding.Symbol(k)] = v
	}
	return f
}

func fieldsToUnsettled(f encoding.Fields) map[string]encoding.DeliveryState {
	if len(f) == 0 {
		return nil
	}
	m := make(map[string]encoding.DeliveryState, len(f))
	for k, v := range f {
		if ds, ok := v.(encoding.DeliveryState); ok {
			m[string(k)] = ds
		}
	}
	return m
}

// PerformFlow updates session and link flow-control windows.
//
//	<descriptor name="amqp:flow:list" code="0x00000000:0x00000013"/>
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32 // required
	NextOutgoingID uint32 // required
	OutgoingWindow uint32 // required
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     encoding.Fields
}

func (*PerformFlow) isFrameBody() {}

func (f *PerformFlow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeFlow, []encoding.Field{
		{Value: f.NextIncomingID, Omit: f.NextIncomingID == nil},
		{Value: f.IncomingWindow},
		{Value: f.NextOutgoingID},
		{Value: f.OutgoingWindow},
		{Value: f.Handle, Omit: f.Handle == nil},
		{Value: f.DeliveryCount, Omit: f.DeliveryCount == nil},
		{Value: f.LinkCredit, Omit: f.LinkCredit == nil},
		{Value: f.Available, Omit: f.Available == nil},
		{Value: f.Drain, Omit: !f.Drain},
		{Value: f.Echo, Omit: !f.Echo},
		{Value: f.Properties, Omit: len(f.Properties) == 0},
	})
}

func (f *PerformFlow) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeFlow,
		encoding.UnmarshalField{Field: &f.NextIncomingID},
		encoding.UnmarshalField{Field: &f.IncomingWindow, HandleNull: requiredField("Flow.IncomingWindow")},
		encoding.UnmarshalField{Field: &f.NextOutgoingID, HandleNull: requiredField("Flow.NextOutgoingID")},
		encoding.UnmarshalField{Field: &f.OutgoingWindow, HandleNull: requiredField("Flow.OutgoingWindow")},
		encoding.UnmarshalField{Field: &f.Handle},
		encoding.UnmarshalField{Field: &f.DeliveryCount},
		encoding.UnmarshalField{Field: &f.LinkCredit},
		encoding.UnmarshalField{Field: &f.Available},
		encoding.UnmarshalField{Field: &f.Drain},
		encoding.UnmarshalField{Field: &f.Echo},
		encoding.UnmarshalField{Field: &f.Properties},
	)
}

func (f *PerformFlow) String() string {
	return fmt.Sprintf("Flow{Handle: %v, DeliveryCount: %v, LinkCredit: %v, Drain: %v}",
		formatUint32Ptr(f.Handle), formatUint32Ptr(f.DeliveryCount), formatUint32Ptr(f.LinkCredit), f.Drain)
}

// PerformTransfer carries one message delivery, possibly split across
// several frames.
//
//	<descriptor name="amqp:transfer:list" code="0x00000000:0x00000014"/>
type PerformTransfer struct {
	Handle          uint32 // required
	DeliveryID      *uint32
	DeliveryTag     []byte
	MessageFormat   *uint32
	Settled         bool
	More            bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State           encoding.DeliveryState
	Resume          bool
	Aborted         bool
	Batchable       bool
	// Payload is the bytes following the performative within the frame;
	// it is not part of the wire composite's field list.
	Payload []byte
	// Done, if non-nil, receives the delivery's terminal state and is then
	// closed by the session when the peer's Disposition for it arrives.
	Done chan encoding.DeliveryState
}

func (*PerformTransfer) isFrameBody() {}

func (t *PerformTransfer) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeTransfer, []encoding.Field{
		{Value: t.Handle},
		{Value: t.DeliveryID, Omit: t.DeliveryID == nil},
		{Value: t.DeliveryTag, Omit: len(t.DeliveryTag) == 0},
		{Value: t.MessageFormat, Omit: t.MessageFormat == nil},
		{Value: t.Settled, Omit: !t.Settled},
		{Value: t.More, Omit: !t.More},
		{Value: t.ReceiverSettleMode, Omit: t.ReceiverSettleMode == nil},
		{Value: t.State, Omit: t.State == nil},
		{Value: t.Resume, Omit: !t.Resume},
		{Value: t.Aborted, Omit: !t.Aborted},
		{Value: t.Batchable, Omit: !t.Batchable},
	})
}

func (t *PerformTransfer) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeTransfer,
		encoding.UnmarshalField{Field: &t.Handle, HandleNull: requiredField("Transfer.Handle")},
		encoding.UnmarshalField{Field: &t.DeliveryID},
		encoding.UnmarshalField{Field: &t.DeliveryTag},
		encoding.UnmarshalField{Field: &t.MessageFormat},
		encoding.UnmarshalField{Field: &t.Settled},
		encoding.UnmarshalField{Field: &t.More},
		encoding.UnmarshalField{Field: &t.ReceiverSettleMode},
		encoding.UnmarshalField{Field: &deliveryStateSlot{&t.State}},
		encoding.UnmarshalField{Field: &t.Resume},
		encoding.UnmarshalField{Field: &t.Aborted},
		encoding.UnmarshalField{Field: &t.Batchable},
	)
}

func (t *PerformTransfer) String() string {
	return fmt.Sprintf("Transfer{Handle: %d, DeliveryID: %v, DeliveryTag: %x, More: %v, Settled: %v}",
		t.Handle, formatUint32Ptr(t.DeliveryID), t.DeliveryTag, t.More, t.Settled)
}

// PerformDisposition updates the delivery state of a contiguous range
// of deliveries on a session.
//
//	<descriptor name="amqp:disposition:list" code="0x00000000:0x00000015"/>
type PerformDisposition struct {
	Role    encoding.Role
	First   uint32 // required
	Last    *uint32
	Settled bool
	State   encoding.DeliveryState
	Batchable bool
}

func (*PerformDisposition) isFrameBody() {}

func (d *PerformDisposition) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDisposition, []encoding.Field{
		{Value: d.Role},
		{Value: d.First},
		{Value: d.Last, Omit: d.Last == nil},
		{Value: d.Settled, Omit: !d.Settled},
		{Value: d.State, Omit: d.State == nil},
		{Value: d.Batchable, Omit: !d.Batchable},
	})
}

func (d *PerformDisposition) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDisposition,
		encoding.UnmarshalField{Field: &d.Role},
		encoding.UnmarshalField{Field: &d.First, HandleNull: requiredField("Disposition.First")},
		encoding.UnmarshalField{Field: &d.Last},
		encoding.UnmarshalField{Field: &d.Settled},
		encoding.UnmarshalField{Field: &deliveryStateSlot{&d.State}},
		encoding.UnmarshalField{Field: &d.Batchable},
	)
}

func (d *PerformDisposition) String() string {
	return fmt.Sprintf("Disposition{Role: %s, First: %d, Last: %v, Settled: %v, State: %v}",
		d.Role, d.First, formatUint32Ptr(d.Last), d.Settled, d.State)
}

// PerformDetach removes a link, optionally destroying it permanently.
//
//	<descriptor name="amqp:detach:list" code="0x00000000:0x00000016"/>
type PerformDetach struct {
	Handle uint32 // required
	Closed bool
	Error  *Error
}

func (*PerformDetach) isFrameBody() {}

func (d *PerformDetach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDetach, []encoding.Field{
		{Value: d.Handle},
		{Value: d.Closed, Omit: !d.Closed},
		{Value: d.Error, Omit: d.Error == nil},
	})
}

func (d *PerformDetach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDetach,
		encoding.UnmarshalField{Field: &d.Handle, HandleNull: requiredField("Detach.Handle")},
		encoding.UnmarshalField{Field: &d.Closed},
		encoding.UnmarshalField{Field: &d.Error},
	)
}

func (d *PerformDetach) String() string {
	return fmt.Sprintf("Detach{Handle: %d, Closed: %v, Error: %v}", d.Handle, d.Closed, d.Error)
}

// PerformEnd terminates a session.
//
//	<descriptor name="amqp:end:list" code="0x00000000:0x00000017"/>
type PerformEnd struct {
	Error *Error
}

func (*PerformEnd) isFrameBody() {}

func (e *PerformEnd) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeEnd, []encoding.Field{
		{Value: e.Error, Omit: e.Error == nil},
	})
}

func (e *PerformEnd) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeEnd,
		encoding.UnmarshalField{Field: &e.Error},
	)
}

func (e *PerformEnd) String() string { return fmt.Sprintf("End{Error: %v}", e.Error) }

// PerformClose terminates a connection.
//
//	<descriptor name="amqp:close:list" code="0x00000000:0x00000018"/>
type PerformClose struct {
	Error *Error
}

func (*PerformClose) isFrameBody() {}

func (c *PerformClose) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeClose, []encoding.Field{
		{Value: c.Error, Omit: c.Error == nil},
	})
}

func (c *PerformClose) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeClose,
		encoding.UnmarshalField{Field: &c.Error},
	)
}

func (c *PerformClose) String() string { return fmt.Sprintf("Close{Error: %v}", c.Error) }

func requiredField(name string) func() error {
	return func() error {
		return encoding.NewError(encoding.ErrCondDecodeError, name+" is required")
	}
}

func formatUint32Ptr(p *uint32) string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d", *p)
}
