package frames

import (
	"fmt"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

// Source is the originating terminus of a link; the sending end is
// authoritative over its final field values.
//
//	<descriptor name="amqp:source:list" code="0x00000000:0x00000028"/>
type Source struct {
	Address           string
	Durable           encoding.Durability
	ExpiryPolicy      encoding.ExpiryPolicy
	Timeout           uint32
	Dynamic           bool
	DynamicNodeProperties encoding.Fields
	DistributionMode  encoding.Symbol
	Filter            map[encoding.Symbol]*encoding.DescribedType
	DefaultOutcome    any
	Outcomes          encoding.MultiSymbol
	Capabilities      encoding.MultiSymbol
}

func (s *Source) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSource, []encoding.Field{
		{Value: s.Address, Omit: s.Address == ""},
		{Value: s.Durable, Omit: s.Durable == encoding.DurabilityNone},
		{Value: s.ExpiryPolicy, Omit: s.ExpiryPolicy == "" || s.ExpiryPolicy == encoding.ExpirySessionEnd},
		{Value: s.Timeout, Omit: s.Timeout == 0},
		{Value: s.Dynamic, Omit: !s.Dynamic},
		{Value: s.DynamicNodeProperties, Omit: len(s.DynamicNodeProperties) == 0},
		{Value: s.DistributionMode, Omit: s.DistributionMode == ""},
		{Value: filterMap(s.Filter), Omit: len(s.Filter) == 0},
		{Value: s.DefaultOutcome, Omit: s.DefaultOutcome == nil},
		{Value: s.Outcomes, Omit: len(s.Outcomes) == 0},
		{Value: s.Capabilities, Omit: len(s.Capabilities) == 0},
	})
}

func (s *Source) Unmarshal(r *buffer.Buffer) error {
	var filter encoding.Fields
	err := encoding.UnmarshalComposite(r, encoding.TypeCodeSource,
		encoding.UnmarshalField{Field: &s.Address},
		encoding.UnmarshalField{Field: &s.Durable},
		encoding.UnmarshalField{Field: &s.ExpiryPolicy, HandleNull: func() error { s.ExpiryPolicy = encoding.ExpirySessionEnd; return nil }},
		encoding.UnmarshalField{Field: &s.Timeout},
		encoding.UnmarshalField{Field: &s.Dynamic},
		encoding.UnmarshalField{Field: &s.DynamicNodeProperties},
		encoding.UnmarshalField{Field: &s.DistributionMode},
		encoding.UnmarshalField{Field: &filter},
		encoding.UnmarshalField{Field: &s.DefaultOutcome},
		encoding.UnmarshalField{Field: &s.Outcomes},
		encoding.UnmarshalField{Field: &s.Capabilities},
	)
	if err != nil {
		return err
	}
	s.Filter = fieldsToFilter(filter)
	return nil
}

func (s *Source) String() string {
	return fmt.Sprintf("Source{Address: %q, Dynamic: %v}", s.Address, s.Dynamic)
}

// Target is the destination terminus of a link; the receiving end is
// authoritative over its final field values.
//
//	<descriptor name="amqp:target:list" code="0x00000000:0x00000029"/>
type Target struct {
	Address               string
	Durable               encoding.Durability
	ExpiryPolicy          encoding.ExpiryPolicy
	Timeout               uint32
	Dynamic               bool
	DynamicNodeProperties encoding.Fields
	Capabilities          encoding.MultiSymbol
}

func (t *Target) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeTarget, []encoding.Field{
		{Value: t.Address, Omit: t.Address == ""},
		{Value: t.Durable, Omit: t.Durable == encoding.DurabilityNone},
		{Value: t.ExpiryPolicy, Omit: t.ExpiryPolicy == "" || t.ExpiryPolicy == encoding.ExpirySessionEnd},
		{Value: t.Timeout, Omit: t.Timeout == 0},
		{Value: t.Dynamic, Omit: !t.Dynamic},
		{Value: t.DynamicNodeProperties, Omit: len(t.DynamicNodeProperties) == 0},
		{Value: t.Capabilities, Omit: len(t.Capabilities) == 0},
	})
}

func (t *Target) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeTarget,
		encoding.UnmarshalField{Field: &t.Address},
		encoding.UnmarshalField{Field: &t.Durable},
		encoding.UnmarshalField{Field: &t.ExpiryPolicy, HandleNull: func() error { t.ExpiryPolicy = encoding.ExpirySessionEnd; return nil }},
		encoding.UnmarshalField{Field: &t.Timeout},
		encoding.UnmarshalField{Field: &t.Dynamic},
		encoding.UnmarshalField{Field: &t.DynamicNodeProperties},
		encoding.UnmarshalField{Field: &t.Capabilities},
	)
}

func (t *Target) String() string {
	return fmt.Sprintf("Target{Address: %q, Dynamic: %v}", t.Address, t.Dynamic)
}

// Coordinator is the well-known target type that marks a link as the
// transactional coordinator: a receiver whose message bodies are
// Declare/Discharge composites rather than application data.
//
//	<descriptor name="amqp:coordinator:list" code="0x00000000:0x00000030"/>
type Coordinator struct {
	Capabilities encoding.MultiSymbol
}

func (c *Coordinator) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeCoordinator, []encoding.Field{
		{Value: c.Capabilities, Omit: len(c.Capabilities) == 0},
	})
}

func (c *Coordinator) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeCoordinator,
		encoding.UnmarshalField{Field: &c.Capabilities},
	)
}

func (c *Coordinator) String() string { return "Coordinator{}" }

// terminusSlot decodes whichever of Source/Target/Coordinator the next
// composite's descriptor names into *dest, leaving *dest nil if the
// field was absent.
type terminusSlot struct {
	dest *any
}

func (t *terminusSlot) Unmarshal(r *buffer.Buffer) error {
	code, ok := encoding.PeekCompositeType(r)
	if !ok {
		return encoding.FormatError("expected a described terminus")
	}
	switch encoding.TypeCode(code) {
	case encoding.TypeCodeSource:
		v := new(Source)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*t.dest = v
	case encoding.TypeCodeTarget:
		v := new(Target)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*t.dest = v
	case encoding.TypeCodeCoordinator:
		v := new(Coordinator)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*t.dest = v
	default:
		return encoding.FormatError("unrecognized terminus descriptor %#x", code)
	}
	return nil
}

func filterMap(f map[encoding.Symbol]*encoding.DescribedType) encoding.Fields {
	if len(f) == 0 {
		return nil
	}
	out := make(encoding.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func fieldsToFilter(f encoding.Fields) map[encoding.Symbol]*encoding.DescribedType {
	if len(f) == 0 {
		return nil
	}
	out := make(map[encoding.Symbol]*encoding.DescribedType, len(f))
	for k, v := range f {
		if d, ok := v.(*encoding.DescribedType); ok {
			out[k] = d
		}
	}
	return out
}
