package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nchaourar/amqp10/internal/debug"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
	"github.com/nchaourar/amqp10/internal/shared"
)

// linkKey uniquely identifies a link on a connection by name and direction.
//
// A link can be identified uniquely by the ordered tuple
//
//	(source-container-id, target-container-id, name)
//
// On a single connection the container ID pairs can be abbreviated to a
// boolean flag indicating the direction of the link.
type linkKey struct {
	name string
	role encoding.Role
}

// link holds the state and mux helpers common to Sender and Receiver.
type link struct {
	key          linkKey
	handle       uint32
	remoteHandle uint32
	dynamicAddr  bool

	// rx carries frames routed to this link by the parent session's mux.
	rx chan frames.FrameBody

	close     chan struct{}
	closeOnce sync.Once

	done    chan struct{}
	doneErr error

	session     *Session
	source      *frames.Source
	target      *frames.Target
	coordinator *frames.Coordinator
	properties  map[encoding.Symbol]any

	deliveryCount   uint32
	linkCredit      uint32
	availableCredit uint32

	senderSettleMode   *encoding.SenderSettleMode
	receiverSettleMode *encoding.ReceiverSettleMode
	maxMessageSize     uint64
	detachReceived     bool
}

func newLink(s *Session, r encoding.Role) link {
	return link{
		key:     linkKey{shared.RandString(40), r},
		session: s,
		rx:      make(chan frames.FrameBody, 1),
		close:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// waitForFrame blocks for the link's next routed frame, ctx expiring, or
// the parent session terminating.
func (l *link) waitForFrame(ctx context.Context) (frames.FrameBody, error) {
	select {
	case fr := <-l.rx:
		return fr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.session.done:
		return nil, l.session.doneErr
	}
}

// attach sends the Attach performative and waits for the peer's response.
// beforeAttach lets the caller fill in role-specific fields; afterAttach
// runs once a non-error response is received, before settle modes are
// reconciled.
func (l *link) attach(ctx context.Context, beforeAttach func(*frames.PerformAttach), afterAttach func(*frames.PerformAttach)) error {
	if err := l.session.allocateHandle(l); err != nil {
		return err
	}

	attach := &frames.PerformAttach{
		Name:               l.key.name,
		Handle:             l.handle,
		ReceiverSettleMode: l.receiverSettleMode,
		SenderSettleMode:   l.senderSettleMode,
		MaxMessageSize:     l.maxMessageSize,
		Source:             l.source,
		Target:             l.target,
		Coordinator:        l.coordinator,
		Properties:         l.properties,
	}
	beforeAttach(attach)

	if err := l.session.txFrame(attach, nil); err != nil {
		return err
	}

	fr, err := l.waitForFrame(ctx)
	if isContextErr(err) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			l.muxClose(ctx, nil, nil, nil)
		}()
		return err
	} else if err != nil {
		return err
	}

	resp, ok := fr.(*frames.PerformAttach)
	if !ok {
		return fmt.Errorf("amqp10: unexpected attach response: %#v", fr)
	}

	// A peer that refuses the requested terminus responds with an Attach
	// carrying no Source or Target, immediately followed by a Detach.
	if resp.Source == nil && resp.Target == nil {
		fr, err := l.waitForFrame(ctx)
		if isContextErr(err) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				l.muxClose(ctx, nil, nil, nil)
			}()
			return err
		} else if err != nil {
			return err
		}

		detach, ok := fr.(*frames.PerformDetach)
		if !ok {
			return fmt.Errorf("amqp10: unexpected frame while waiting for detach: %#v", fr)
		}

		_ = l.session.txFrame(&frames.PerformDetach{Handle: l.handle, Closed: true}, nil)

		if detach.Error == nil {
			return errors.New("amqp10: peer refused attach with no error specified")
		}
		return detach.Error
	}

	if l.maxMessageSize == 0 || resp.MaxMessageSize < l.maxMessageSize {
		l.maxMessageSize = resp.MaxMessageSize
	}

	afterAttach(resp)

	if err := l.setSettleModes(resp); err != nil {
		l.muxClose(ctx, nil, nil, nil)
		return err
	}
	return nil
}

// setSettleModes pins the negotiated settle modes from the peer's Attach
// response, failing if a mode explicitly requested locally was not honored.
func (l *link) setSettleModes(resp *frames.PerformAttach) error {
	respRecv := receiverSettleModeValue(resp.ReceiverSettleMode)
	if l.receiverSettleMode != nil && *l.receiverSettleMode != respRecv {
		return fmt.Errorf("amqp10: receiver settlement mode %v requested, received %v from peer", *l.receiverSettleMode, respRecv)
	}
	l.receiverSettleMode = &respRecv

	respSend := senderSettleModeValue(resp.SenderSettleMode)
	if l.senderSettleMode != nil && *l.senderSettleMode != respSend {
		return fmt.Errorf("amqp10: sender settlement mode %v requested, received %v from peer", *l.senderSettleMode, respSend)
	}
	l.senderSettleMode = &respSend
	return nil
}

func receiverSettleModeValue(m *encoding.ReceiverSettleMode) encoding.ReceiverSettleMode {
	if m == nil {
		return encoding.ReceiverSettleModeFirst
	}
	return *m
}

func senderSettleModeValue(m *encoding.SenderSettleMode) encoding.SenderSettleMode {
	if m == nil {
		return encoding.SenderSettleModeMixed
	}
	return *m
}

// muxHandleFrame processes a frame not otherwise claimed by the caller's
// mux loop.
func (l *link) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformDetach:
		if !fr.Closed {
			return fmt.Errorf("amqp10: non-closing detach not supported: %+v", fr)
		}
		l.detachReceived = true
		if fr.Error != nil {
			return &DetachError{RemoteError: fr.Error}
		}
		return &DetachError{}
	default:
		debug.Log(context.Background(), slog.LevelDebug, fmt.Sprintf("RX (link): unexpected frame: %v", fr))
	}
	return nil
}

// closeLink signals the link's mux to shut down and waits for it to exit.
func (l *link) closeLink(ctx context.Context) error {
	l.closeOnce.Do(func() { close(l.close) })

	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var detachErr *DetachError
	if errors.As(l.doneErr, &detachErr) && detachErr.RemoteError == nil {
		return nil
	}
	return l.doneErr
}

// muxClose sends a closing Detach, waits for the peer's ack unless it
// already initiated the close, and releases the link's handle.
func (l *link) muxClose(ctx context.Context, sendErr *Error, deferred func(), onRXTransfer func(frames.PerformTransfer)) {
	defer func() {
		if ctx.Err() == nil {
			l.session.deallocateHandle(l)
		}
		if deferred != nil {
			deferred()
		}
		close(l.done)
	}()

	fr := &frames.PerformDetach{Handle: l.handle, Closed: true, Error: sendErr}

	select {
	case <-ctx.Done():
		return
	case l.session.tx <- fr:
	case <-l.session.done:
		if l.doneErr == nil {
			l.doneErr = l.session.doneErr
		}
		return
	}

	if l.detachReceived {
		return
	}

	for {
		fr, err := l.waitForFrame(ctx)
		if isContextErr(err) {
			return
		} else if err != nil {
			if l.doneErr == nil {
				l.doneErr = err
			}
			return
		}

		switch fr := fr.(type) {
		case *frames.PerformDetach:
			if fr.Closed {
				return
			}
		case *frames.PerformTransfer:
			if onRXTransfer != nil {
				onRXTransfer(*fr)
			}
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
