package amqp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/debug"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
)

const maxDeliveryTagLength = 32

// SenderOptions configures a link opened with Session.NewSender.
type SenderOptions struct {
	Name                        string
	Capabilities                []string
	Durability                  encoding.Durability
	DynamicAddress              bool
	ExpiryPolicy                encoding.ExpiryPolicy
	ExpiryTimeout               uint32
	IgnoreDispositionErrors     bool
	Properties                  map[string]any
	RequestedReceiverSettleMode *encoding.ReceiverSettleMode
	SettlementMode              *encoding.SenderSettleMode
	SourceAddress               string
	TargetCapabilities          []string
	TargetDurability            encoding.Durability
	TargetExpiryPolicy          encoding.ExpiryPolicy
	TargetExpiryTimeout         uint32
}

// Sender sends messages on a single outgoing AMQP link.
type Sender struct {
	l         link
	transfers chan frames.PerformTransfer

	closeOnDispositionError bool

	mu              sync.Mutex
	buf             buffer.Buffer
	nextDeliveryTag uint64

	availableCredit uint32
}

// LinkName is the negotiated name of this Sender's link.
func (s *Sender) LinkName() string { return s.l.key.name }

// MaxMessageSize is the maximum encoded size of a single message,
// negotiated during Attach.
func (s *Sender) MaxMessageSize() uint64 { return s.l.maxMessageSize }

// Address returns the link's target address.
func (s *Sender) Address() string {
	if s.l.target == nil {
		return ""
	}
	return s.l.target.Address
}

// SendOptions reserves room for future per-send options.
type SendOptions struct{}

// Send transmits msg, splitting it across as many Transfer frames as the
// peer's max-frame-size requires, and blocks until the delivery is
// settled (or immediately, if the sender settle mode is Settled).
func (s *Sender) Send(ctx context.Context, msg *Message, _ *SendOptions) error {
	select {
	case <-s.l.done:
		return s.l.doneErr
	default:
	}

	done, err := s.send(ctx, msg)
	if err != nil {
		return err
	}
	if done == nil {
		return nil
	}

	select {
	case state := <-done:
		if rej, ok := state.(*encoding.Rejected); ok {
			if s.detachOnRejectDisp() {
				return &DetachError{RemoteError: rej.Error}
			}
			if rej.Error != nil {
				return rej.Error
			}
		}
		return nil
	case <-s.l.done:
		return s.l.doneErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendRaw behaves like Send but returns the peer's terminal delivery
// state directly instead of translating a Rejected outcome into an
// error, for callers (the transaction coordinator) that need to inspect
// non-standard outcomes such as Declared.
func (s *Sender) sendRaw(ctx context.Context, msg *Message, _ *SendOptions) (encoding.DeliveryState, error) {
	select {
	case <-s.l.done:
		return nil, s.l.doneErr
	default:
	}

	done, err := s.send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if done == nil {
		return nil, nil
	}

	select {
	case state := <-done:
		return state, nil
	case <-s.l.done:
		return nil, s.l.doneErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sender) send(ctx context.Context, msg *Message) (chan encoding.DeliveryState, error) {
	if len(msg.DeliveryTag) > maxDeliveryTagLength {
		return nil, fmt.Errorf("amqp10: delivery tag is over %d bytes", maxDeliveryTagLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if err := msg.Marshal(&s.buf); err != nil {
		return nil, err
	}
	if s.l.maxMessageSize != 0 && uint64(s.buf.Len()) > s.l.maxMessageSize {
		return nil, fmt.Errorf("amqp10: encoded message size exceeds max of %d", s.l.maxMessageSize)
	}

	const maxTransferFrameHeader = 66
	maxPayloadSize := int64(s.l.session.conn.peerMaxFrameSize) - maxTransferFrameHeader

	sndSettleMode := s.l.senderSettleMode
	settled := sndSettleMode != nil && *sndSettleMode == encoding.SenderSettleModeSettled

	deliveryTag := msg.DeliveryTag
	if len(deliveryTag) == 0 {
		deliveryTag = make([]byte, 8)
		binary.BigEndian.PutUint64(deliveryTag, s.nextDeliveryTag)
		s.nextDeliveryTag++
	}

	fr := frames.PerformTransfer{
		Handle:        s.l.handle,
		DeliveryTag:   deliveryTag,
		MessageFormat: &msg.Format,
		More:          s.buf.Len() > 0,
	}

	for {
		n := int64(s.buf.Len())
		if n > maxPayloadSize {
			n = maxPayloadSize
		}
		buf, _ := s.buf.Next(n)
		fr.Payload = append([]byte(nil), buf...)
		fr.More = s.buf.Len() > 0
		if !fr.More {
			fr.Settled = settled
			if !settled {
				fr.Done = make(chan encoding.DeliveryState, 1)
			}
		}

		select {
		case s.transfers <- fr:
		case <-s.l.done:
			return nil, s.l.doneErr
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		fr.DeliveryTag = nil
		fr.MessageFormat = nil

		if !fr.More {
			return fr.Done, nil
		}
	}
}

// Close detaches the link, waiting for the peer's ack or ctx to expire.
func (s *Sender) Close(ctx context.Context) error {
	return s.l.closeLink(ctx)
}

func newSender(target string, session *Session, opts *SenderOptions) (*Sender, error) {
	s := &Sender{
		l:                       newLink(session, encoding.RoleSender),
		closeOnDispositionError: true,
	}
	s.l.target = &frames.Target{Address: target}
	s.l.source = new(frames.Source)
	if opts == nil {
		return s, nil
	}

	for _, v := range opts.Capabilities {
		s.l.source.Capabilities = append(s.l.source.Capabilities, encoding.Symbol(v))
	}
	s.l.source.Durable = opts.Durability
	if opts.DynamicAddress {
		s.l.target.Address = ""
		s.l.dynamicAddr = true
	}
	s.l.source.ExpiryPolicy = opts.ExpiryPolicy
	s.l.source.Timeout = opts.ExpiryTimeout
	s.closeOnDispositionError = !opts.IgnoreDispositionErrors
	if opts.Name != "" {
		s.l.key.name = opts.Name
	}
	if opts.Properties != nil {
		s.l.properties = make(map[encoding.Symbol]any, len(opts.Properties))
		for k, v := range opts.Properties {
			if k == "" {
				return nil, errors.New("amqp10: link property key must not be empty")
			}
			s.l.properties[encoding.Symbol(k)] = v
		}
	}
	s.l.receiverSettleMode = opts.RequestedReceiverSettleMode
	s.l.senderSettleMode = opts.SettlementMode
	s.l.source.Address = opts.SourceAddress
	for _, v := range opts.TargetCapabilities {
		s.l.target.Capabilities = append(s.l.target.Capabilities, encoding.Symbol(v))
	}
	s.l.target.Durable = opts.TargetDurability
	s.l.target.ExpiryPolicy = opts.TargetExpiryPolicy
	s.l.target.Timeout = opts.TargetExpiryTimeout
	return s, nil
}

func (s *Sender) attach(ctx context.Context) error {
	if err := s.l.attach(ctx, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleSender
		pa.InitialDeliveryCount = s.l.deliveryCount
		if pa.Target == nil {
			pa.Target = new(frames.Target)
		}
		pa.Target.Dynamic = s.l.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if s.l.target == nil {
			s.l.target = new(frames.Target)
		}
		if s.l.dynamicAddr && pa.Target != nil {
			s.l.target.Address = pa.Target.Address
		}
	}); err != nil {
		return err
	}

	s.transfers = make(chan frames.PerformTransfer)
	go s.mux()
	return nil
}

func (s *Sender) mux() {
	defer s.l.muxClose(context.Background(), nil, nil, nil)

	outgoingDisp := make(chan *frames.PerformDisposition, 1)
	var pendingDisps []*frames.PerformDisposition

Loop:
	for {
		var outgoingTransfers chan frames.PerformTransfer
		if s.availableCredit > 0 {
			outgoingTransfers = s.transfers
		}

		if len(pendingDisps) > 0 && len(outgoingDisp) == 0 {
			outgoingDisp <- pendingDisps[0]
			pendingDisps = pendingDisps[1:]
		}

		handleFrame := func(fr frames.FrameBody) bool {
			disp, err := s.muxHandleFrame(fr)
			if err != nil {
				s.l.doneErr = err
				return false
			}
			if disp != nil {
				pendingDisps = append(pendingDisps, disp)
			}
			return true
		}

		select {
		case dr := <-outgoingDisp:
			for {
				select {
				case s.l.session.tx <- dr:
					continue Loop
				case fr := <-s.l.rx:
					if !handleFrame(fr) {
						return
					}
				case <-s.l.close:
					continue Loop
				case <-s.l.session.done:
					continue Loop
				}
			}

		case fr := <-s.l.rx:
			if !handleFrame(fr) {
				return
			}

		case tr := <-outgoingTransfers:
			for {
				select {
				case s.l.session.txTransfer <- &tr:
					if !tr.More {
						s.l.deliveryCount++
						s.availableCredit--
					}
					continue Loop
				case fr := <-s.l.rx:
					if !handleFrame(fr) {
						return
					}
				case <-s.l.close:
					continue Loop
				case <-s.l.session.done:
					continue Loop
				}
			}

		case <-s.l.close:
			s.l.doneErr = &DetachError{}
			return

		case <-s.l.session.done:
			s.l.doneErr = s.l.session.doneErr
			return
		}
	}
}

func (s *Sender) muxHandleFrame(fr frames.FrameBody) (*frames.PerformDisposition, error) {
	debug.Log(context.Background(), slog.LevelDebug, fmt.Sprintf("RX (Sender): %v", fr))
	switch fr := fr.(type) {
	case *frames.PerformFlow:
		linkCredit := valueOrZero(fr.LinkCredit) - s.l.deliveryCount
		if fr.DeliveryCount != nil {
			linkCredit += *fr.DeliveryCount
		}
		s.availableCredit = linkCredit

		if !fr.Echo {
			return nil, nil
		}
		deliveryCount := s.l.deliveryCount
		resp := &frames.PerformFlow{
			Handle:        &s.l.handle,
			DeliveryCount: &deliveryCount,
			LinkCredit:    &linkCredit,
		}
		_ = s.l.session.txFrame(resp, nil)

	case *frames.PerformDisposition:
		if rej, ok := fr.State.(*encoding.Rejected); ok && s.detachOnRejectDisp() {
			return nil, &DetachError{RemoteError: rej.Error}
		}
		if fr.Settled {
			return nil, nil
		}
		return &frames.PerformDisposition{
			Role:    encoding.RoleSender,
			First:   fr.First,
			Last:    fr.Last,
			Settled: true,
		}, nil

	default:
		return nil, s.l.muxHandleFrame(fr)
	}
	return nil, nil
}

func (s *Sender) detachOnRejectDisp() bool {
	return s.closeOnDispositionError && (s.l.receiverSettleMode == nil || *s.l.receiverSettleMode == encoding.ReceiverSettleModeFirst)
}

func valueOrZero(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p
}
