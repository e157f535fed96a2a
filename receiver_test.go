package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
	"github.com/nchaourar/amqp10/internal/queue"
)

// newTestReceiver wires a Receiver to a bare Session with no real Conn,
// draining everything the receiver's mux sends and echoing a closing
// Detach back so a subsequent muxClose (triggered by any return from
// mux) unwinds cleanly instead of blocking forever on a peer reply that
// will never come.
func newTestReceiver(t *testing.T) (*Receiver, *Session) {
	t.Helper()
	s := newSession(nil, 0, nil)
	r := &Receiver{
		l:        newLink(s, encoding.RoleReceiver),
		messages: queue.NewHolder(queue.New[Message](8)),
		credit:   defaultLinkCredit,
	}

	go func() {
		for {
			select {
			case fr := <-s.tx:
				if d, ok := fr.(*frames.PerformDetach); ok && d.Closed {
					select {
					case r.l.rx <- &frames.PerformDetach{Handle: d.Handle, Closed: true}:
					case <-s.done:
					}
				}
			case <-s.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(s.done) })

	return r, s
}

func TestReceiverFailsOnDeliveryTagMismatch(t *testing.T) {
	defer leaktest.Check(t)()

	r, _ := newTestReceiver(t)
	go r.mux()

	format := uint32(0)
	firstID := uint32(1)
	r.l.rx <- &frames.PerformTransfer{
		Handle: 0, DeliveryID: &firstID, DeliveryTag: []byte("tag-a"),
		MessageFormat: &format, More: true, Payload: []byte("partial-"),
	}
	r.l.rx <- &frames.PerformTransfer{
		Handle: 0, DeliveryTag: []byte("tag-b"), More: false, Payload: []byte("rest"),
	}

	select {
	case <-r.l.done:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver mux should have exited on delivery-tag mismatch")
	}

	var amqpErr *encoding.Error
	require.ErrorAs(t, r.l.doneErr, &amqpErr)
	require.Equal(t, encoding.ErrCondIllegalState, amqpErr.Condition)
}

func TestReceiverAcceptsContinuationOmittingDeliveryTag(t *testing.T) {
	defer leaktest.Check(t)()

	r, _ := newTestReceiver(t)
	go r.mux()

	msg := &Message{Value: "hello from two frames"}
	buf := buffer.New(nil)
	require.NoError(t, msg.Marshal(buf))
	payload := buf.Detach()
	split := len(payload) / 2

	format := uint32(0)
	firstID := uint32(9)
	r.l.rx <- &frames.PerformTransfer{
		Handle: 0, DeliveryID: &firstID, DeliveryTag: []byte("tag-ok"),
		MessageFormat: &format, More: true, Payload: payload[:split],
	}
	// a real continuation frame omits delivery-tag; this must not be
	// treated as a mismatch.
	r.l.rx <- &frames.PerformTransfer{Handle: 0, More: false, Payload: payload[split:]}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := r.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello from two frames", got.Value)
	require.Equal(t, []byte("tag-ok"), got.DeliveryTag)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, r.l.closeLink(closeCtx))
}
