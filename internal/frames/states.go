package frames

import (
	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

// Error is the AMQP error composite carried by Detach, End, and Close.
type Error = encoding.Error

// deliveryStateSlot decodes whichever delivery-state composite the next
// value's descriptor names into *dest, leaving *dest nil if the field
// was absent.
type deliveryStateSlot struct {
	dest *encoding.DeliveryState
}

func (s *deliveryStateSlot) Unmarshal(r *buffer.Buffer) error {
	code, ok := encoding.PeekCompositeType(r)
	if !ok {
		return encoding.FormatError("expected a described delivery state")
	}
	switch encoding.TypeCode(code) {
	case encoding.TypeCodeStateReceived:
		v := new(encoding.Received)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*s.dest = v
	case encoding.TypeCodeStateAccepted:
		v := new(encoding.Accepted)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*s.dest = v
	case encoding.TypeCodeStateRejected:
		v := new(encoding.Rejected)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*s.dest = v
	case encoding.TypeCodeStateReleased:
		v := new(encoding.Released)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*s.dest = v
	case encoding.TypeCodeStateModified:
		v := new(encoding.Modified)
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*s.dest = v
	default:
		return encoding.FormatError("unrecognized delivery state descriptor %#x", code)
	}
	return nil
}
