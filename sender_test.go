package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
	"github.com/nchaourar/amqp10/internal/mocks"
)

// senderTestHarness wires a full Conn+Session+Sender over a mocked net.Conn,
// answering Open/Begin/Attach so the sender's mux is actually running, and
// forwards every outgoing Transfer to onTransfer for inspection.
type senderTestHarness struct {
	conn *Conn
	mc   *mocks.MockConnection
	sess *Session
	snd  *Sender
}

func newSenderHarness(t *testing.T, linkCredit uint32, onTransfer func(*frames.PerformTransfer), onDisposition func(*frames.PerformDisposition)) *senderTestHarness {
	t.Helper()

	mc := mocks.NewConnection(func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(frames.ProtoAMQP)
		case *frames.PerformOpen:
			return frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: &frames.PerformOpen{ContainerID: "peer"}})
		case *frames.PerformBegin:
			remote := uint16(0)
			return frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: &frames.PerformBegin{
				RemoteChannel: &remote, NextOutgoingID: 0, IncomingWindow: 1000, OutgoingWindow: 1000,
			}})
		case *frames.PerformAttach:
			resp := &frames.PerformAttach{
				Name:   fr.Name,
				Handle: fr.Handle,
				Role:   encoding.RoleReceiver,
				Source: &frames.Source{Address: "a-source"},
				Target: &frames.Target{Address: "a-target"},
			}
			b, err := frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: resp})
			if err != nil {
				return nil, err
			}
			credit := linkCredit
			flow := &frames.PerformFlow{
				Handle: &fr.Handle, DeliveryCount: new(uint32), LinkCredit: &credit,
				NextOutgoingID: 0, OutgoingWindow: 1000, IncomingWindow: 1000,
			}
			fb, err := frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: flow})
			if err != nil {
				return nil, err
			}
			return append(b, fb...), nil
		case *frames.PerformTransfer:
			if onTransfer != nil {
				onTransfer(fr)
			}
			return nil, nil
		case *frames.PerformDisposition:
			if onDisposition != nil {
				onDisposition(fr)
			}
			return nil, nil
		case *frames.PerformDetach:
			return frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: &frames.PerformDetach{Handle: fr.Handle, Closed: true}})
		default:
			return nil, nil
		}
	})
	require.NoError(t, mc.SetReadDeadline(time.Now().Add(10*time.Second)))

	conn, err := Dial(context.Background(), mc, nil)
	require.NoError(t, err)

	sess, err := conn.NewSession(context.Background(), nil)
	require.NoError(t, err)

	snd, err := sess.NewSender(context.Background(), "queue-a", nil)
	require.NoError(t, err)

	return &senderTestHarness{conn: conn, mc: mc, sess: sess, snd: snd}
}

func (h *senderTestHarness) close(t *testing.T) {
	t.Helper()
	require.NoError(t, h.conn.Close(context.Background()))
	require.NoError(t, h.mc.Close())
}

func TestSenderSendSettledRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	transfers := make(chan *frames.PerformTransfer, 8)
	h := newSenderHarness(t, 10, func(tr *frames.PerformTransfer) { transfers <- tr }, nil)

	settled := encoding.SenderSettleModeSettled
	h.snd.l.senderSettleMode = &settled

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.snd.Send(ctx, &Message{Value: "hi"}, nil))

	select {
	case tr := <-transfers:
		require.True(t, tr.Settled)
		require.False(t, tr.More)
	case <-time.After(time.Second):
		t.Fatal("expected a Transfer frame on the wire")
	}

	h.close(t)
}

func TestSenderBlocksWithoutCreditThenSendsOnFlow(t *testing.T) {
	defer leaktest.Check(t)()

	transfers := make(chan *frames.PerformTransfer, 8)
	h := newSenderHarness(t, 0, func(tr *frames.PerformTransfer) { transfers <- tr }, nil)

	settled := encoding.SenderSettleModeSettled
	h.snd.l.senderSettleMode = &settled

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := h.snd.Send(ctx, &Message{Value: "no credit yet"}, nil)
	require.Error(t, err)

	select {
	case <-transfers:
		t.Fatal("should not have sent a transfer with zero credit")
	default:
	}

	credit := uint32(5)
	count := uint32(0)
	h.sess.rx.Enqueue(&frames.PerformFlow{
		Handle: &h.snd.l.handle, DeliveryCount: &count, LinkCredit: &credit,
		NextOutgoingID: 0, OutgoingWindow: 1000, IncomingWindow: 1000,
	})

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, h.snd.Send(ctx2, &Message{Value: "now it fits"}, nil))

	select {
	case tr := <-transfers:
		require.True(t, tr.Settled)
	case <-time.After(time.Second):
		t.Fatal("expected the second send to go out once credit arrived")
	}

	h.close(t)
}

func TestSenderDetachesOnRejectedDisposition(t *testing.T) {
	defer leaktest.Check(t)()

	var h *senderTestHarness
	h = newSenderHarness(t, 10, func(tr *frames.PerformTransfer) {
		disp := &frames.PerformDisposition{
			Role: encoding.RoleReceiver, First: 0, Settled: true,
			State: &encoding.Rejected{Error: encoding.NewError(encoding.ErrCondDecodeError, "bad body")},
		}
		h.sess.rx.Enqueue(disp)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.snd.Send(ctx, &Message{Value: "will be rejected"}, nil)
	require.Error(t, err)

	var detachErr *DetachError
	require.ErrorAs(t, err, &detachErr)

	h.close(t)
}
