package amqp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/debug"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
	"github.com/nchaourar/amqp10/internal/queue"
)

const defaultLinkCredit = 1000

// ReceiverOptions configures a link opened with Session.NewReceiver.
type ReceiverOptions struct {
	Name                      string
	Capabilities              []string
	Credit                    uint32
	ManualCredits             bool
	Durability                encoding.Durability
	DynamicAddress            bool
	ExpiryPolicy              encoding.ExpiryPolicy
	ExpiryTimeout             uint32
	Filters                   map[encoding.Symbol]*encoding.DescribedType
	Properties                map[string]any
	RequestedSenderSettleMode *encoding.SenderSettleMode
	SettlementMode            *encoding.ReceiverSettleMode
	TargetAddress             string
}

// Receiver receives messages on a single incoming AMQP link.
type Receiver struct {
	l        link
	messages *queue.Holder[Message]

	settlementMu sync.Mutex

	creditor      *manualCreditor
	manualCredits bool
	credit        uint32
}

// LinkName is the negotiated name of this Receiver's link.
func (r *Receiver) LinkName() string { return r.l.key.name }

// Address returns the link's source address.
func (r *Receiver) Address() string {
	if r.l.source == nil {
		return ""
	}
	return r.l.source.Address
}

// Receive blocks until a message arrives, ctx completes, or the link
// terminates.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	item, err := r.messages.Wait(ctx)
	if err != nil {
		select {
		case <-r.l.done:
			return nil, r.l.doneErr
		default:
			return nil, err
		}
	}
	return item, nil
}

// IssueCredit adds credits credits to the link, for use when ManualCredits
// was requested; otherwise the Receiver replenishes credit automatically
// as messages are consumed.
func (r *Receiver) IssueCredit(credits uint32) error {
	if r.creditor == nil {
		return errors.New("amqp10: IssueCredit requires ManualCredits")
	}
	if err := r.creditor.IssueCredit(credits, r); err != nil {
		return err
	}
	// nudge the mux to recompute flow bits
	select {
	case r.l.rx <- &frames.PerformFlow{}:
		return nil
	case <-r.l.done:
		return r.l.doneErr
	}
}

// Drain requests the peer stop sending and blocks until it acknowledges
// with a Flow reflecting zero link-credit, for use with ManualCredits.
func (r *Receiver) Drain(ctx context.Context) error {
	if r.creditor == nil {
		return errors.New("amqp10: Drain requires ManualCredits")
	}
	return r.creditor.Drain(ctx, r)
}

// AcceptMessage settles msg with the Accepted outcome.
func (r *Receiver) AcceptMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.Accepted{})
}

// RejectMessage settles msg with the Rejected outcome.
func (r *Receiver) RejectMessage(ctx context.Context, msg *Message, e *Error) error {
	return r.settle(ctx, msg, &encoding.Rejected{Error: e})
}

// ReleaseMessage settles msg with the Released outcome, returning it to
// the sender's queue for redelivery.
func (r *Receiver) ReleaseMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.Released{})
}

// ModifyMessage settles msg with the Modified outcome.
func (r *Receiver) ModifyMessage(ctx context.Context, msg *Message, deliveryFailed, undeliverableHere bool, annotations map[string]any) error {
	a := make(encoding.Annotations, len(annotations))
	for k, v := range annotations {
		a[encoding.Symbol(k)] = v
	}
	return r.settle(ctx, msg, &encoding.Modified{
		DeliveryFailed:     deliveryFailed,
		UndeliverableHere:  undeliverableHere,
		MessageAnnotations: a,
	})
}

func (r *Receiver) settle(ctx context.Context, msg *Message, state encoding.DeliveryState) error {
	disp := &frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   msg.deliveryID,
		Settled: true,
		State:   state,
	}
	select {
	case r.l.session.tx <- disp:
		return nil
	case <-r.l.done:
		return r.l.doneErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches the link, waiting for the peer's ack or ctx to expire.
func (r *Receiver) Close(ctx context.Context) error {
	return r.l.closeLink(ctx)
}

func newReceiver(source string, session *Session, opts *ReceiverOptions) (*Receiver, error) {
	r := &Receiver{
		l:        newLink(session, encoding.RoleReceiver),
		messages: queue.NewHolder(queue.New[Message](int(session.incomingWindow))),
		credit:   defaultLinkCredit,
	}
	r.l.source = &frames.Source{Address: source}
	r.l.target = new(frames.Target)

	if opts == nil {
		return r, nil
	}

	for _, v := range opts.Capabilities {
		r.l.source.Capabilities = append(r.l.source.Capabilities, encoding.Symbol(v))
	}
	if opts.Credit != 0 {
		r.credit = opts.Credit
	}
	r.manualCredits = opts.ManualCredits
	if r.manualCredits {
		r.creditor = &manualCreditor{}
	}
	r.l.source.Durable = opts.Durability
	if opts.DynamicAddress {
		r.l.source.Address = ""
		r.l.dynamicAddr = true
	}
	r.l.source.ExpiryPolicy = opts.ExpiryPolicy
	r.l.source.Timeout = opts.ExpiryTimeout
	r.l.source.Filter = opts.Filters
	if opts.Name != "" {
		r.l.key.name = opts.Name
	}
	if opts.Properties != nil {
		r.l.properties = make(map[encoding.Symbol]any, len(opts.Properties))
		for k, v := range opts.Properties {
			r.l.properties[encoding.Symbol(k)] = v
		}
	}
	r.l.senderSettleMode = opts.RequestedSenderSettleMode
	r.l.receiverSettleMode = opts.SettlementMode
	r.l.target.Address = opts.TargetAddress
	return r, nil
}

func (r *Receiver) attach(ctx context.Context) error {
	if err := r.l.attach(ctx, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleReceiver
		if pa.Source == nil {
			pa.Source = new(frames.Source)
		}
		pa.Source.Dynamic = r.l.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if r.l.source == nil {
			r.l.source = new(frames.Source)
		}
		if r.l.dynamicAddr && pa.Source != nil {
			r.l.source.Address = pa.Source.Address
		}
		r.l.deliveryCount = pa.InitialDeliveryCount
	}); err != nil {
		return err
	}

	go r.mux()
	return nil
}

// mux reassembles incoming Transfer frames into Messages and keeps the
// link-credit window topped up.
func (r *Receiver) mux() {
	defer r.l.muxClose(context.Background(), nil, nil, nil)

	r.sendFlow(r.credit)

	var assembling buffer.Buffer
	var tag []byte
	var format uint32
	var firstID uint32

	for {
		select {
		case fr := <-r.l.rx:
			switch fr := fr.(type) {
			case *frames.PerformTransfer:
				if len(assembling.Bytes()) == 0 && assembling.Size() == 0 {
					tag = fr.DeliveryTag
					if fr.MessageFormat != nil {
						format = *fr.MessageFormat
					}
					if fr.DeliveryID != nil {
						firstID = *fr.DeliveryID
					}
				} else if len(fr.DeliveryTag) > 0 && !bytes.Equal(fr.DeliveryTag, tag) {
					r.l.doneErr = encoding.NewError(encoding.ErrCondIllegalState, "delivery-tag mismatch in transfer continuation")
					return
				}
				assembling.AppendBytes(fr.Payload)
				if fr.More {
					continue
				}

				var msg Message
				body := buffer.New(assembling.Detach())
				if err := msg.Unmarshal(body); err != nil {
					debug.Log(context.Background(), slog.LevelDebug, fmt.Sprintf("RX (Receiver): failed to decode message: %v", err))
				} else {
					msg.DeliveryTag = tag
					msg.Format = format
					msg.deliveryID = firstID
					r.messages.Enqueue(msg)
				}
				r.l.deliveryCount++

				if !r.manualCredits {
					r.credit--
					if r.credit == 0 {
						r.credit = defaultLinkCredit
						r.sendFlow(r.credit)
					}
				}

			case *frames.PerformFlow:
				if fr.Echo {
					r.sendFlow(0)
				}
				if r.creditor != nil {
					if drain, credits := r.creditor.FlowBits(); drain || credits > 0 {
						r.l.linkCredit += credits
						r.sendFlowWithDrain(r.l.linkCredit, drain)
						if drain {
							r.creditor.EndDrain()
						}
					}
				}

			default:
				if err := r.l.muxHandleFrame(fr); err != nil {
					r.l.doneErr = err
					return
				}
			}

		case <-r.l.close:
			r.l.doneErr = &DetachError{}
			return

		case <-r.l.session.done:
			r.l.doneErr = r.l.session.doneErr
			return
		}
	}
}

func (r *Receiver) sendFlow(linkCredit uint32) {
	r.sendFlowWithDrain(linkCredit, false)
}

func (r *Receiver) sendFlowWithDrain(linkCredit uint32, drain bool) {
	deliveryCount := r.l.deliveryCount
	_ = r.l.session.txFrame(&frames.PerformFlow{
		Handle:        &r.l.handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    &linkCredit,
		Drain:         drain,
	}, nil)
}
