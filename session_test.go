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

func TestAllocateHandleRejectsDuplicateLinkName(t *testing.T) {
	s := newSession(nil, 0, nil)

	l1 := newLink(s, encoding.RoleSender)
	l1.key.name = "worker"
	require.NoError(t, s.allocateHandle(&l1))

	l2 := newLink(s, encoding.RoleSender)
	l2.key.name = "worker"
	err := s.allocateHandle(&l2)
	require.Error(t, err)

	var amqpErr *encoding.Error
	require.ErrorAs(t, err, &amqpErr)
	require.Equal(t, encoding.ErrCondHandleInUse, amqpErr.Condition)
}

func TestAllocateHandleAllowsSameNameDifferentRole(t *testing.T) {
	s := newSession(nil, 0, nil)

	snd := newLink(s, encoding.RoleSender)
	snd.key.name = "both-directions"
	require.NoError(t, s.allocateHandle(&snd))

	rcv := newLink(s, encoding.RoleReceiver)
	rcv.key.name = "both-directions"
	require.NoError(t, s.allocateHandle(&rcv))
}

func TestDeallocateHandleFreesTheName(t *testing.T) {
	s := newSession(nil, 0, nil)

	l := newLink(s, encoding.RoleSender)
	l.key.name = "reusable"
	require.NoError(t, s.allocateHandle(&l))
	s.deallocateHandle(&l)

	l2 := newLink(s, encoding.RoleSender)
	l2.key.name = "reusable"
	require.NoError(t, s.allocateHandle(&l2))
}

// sessionResponder answers the Open/Begin exchange a Dial+NewSession pair
// sends, replying with the given incoming-window so the test can drive
// the session's outgoing-window gating deterministically. Everything
// else is swallowed.
func sessionResponder(incomingWindow uint32) func(frames.FrameBody) ([]byte, error) {
	return func(fr frames.FrameBody) ([]byte, error) {
		switch fr.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(frames.ProtoAMQP)
		case *frames.PerformOpen:
			return frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: &frames.PerformOpen{ContainerID: "peer"}})
		case *frames.PerformBegin:
			remote := uint16(0)
			return frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: &frames.PerformBegin{
				RemoteChannel:  &remote,
				NextOutgoingID: 0,
				IncomingWindow: incomingWindow,
				OutgoingWindow: 1000,
			}})
		default:
			return nil, nil
		}
	}
}

func TestSessionBeginAdoptsPeerIncomingWindowAsOutgoingWindow(t *testing.T) {
	defer leaktest.Check(t)()

	mc := mocks.NewConnection(sessionResponder(7))
	require.NoError(t, mc.SetReadDeadline(time.Now().Add(10*time.Second)))
	conn, err := Dial(context.Background(), mc, nil)
	require.NoError(t, err)

	s, err := conn.NewSession(context.Background(), nil)
	require.NoError(t, err)
	require.EqualValues(t, 7, s.outgoingWindow)

	require.NoError(t, conn.Close(context.Background()))
	require.NoError(t, mc.Close())
}

func TestSessionBlocksSendWhenOutgoingWindowExhausted(t *testing.T) {
	defer leaktest.Check(t)()

	mc := mocks.NewConnection(sessionResponder(1))
	require.NoError(t, mc.SetReadDeadline(time.Now().Add(10*time.Second)))
	conn, err := Dial(context.Background(), mc, nil)
	require.NoError(t, err)

	s, err := conn.NewSession(context.Background(), nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, s.outgoingWindow)

	tr1 := &frames.PerformTransfer{Handle: 0}
	select {
	case s.txTransfer <- tr1:
	case <-time.After(time.Second):
		t.Fatal("first transfer should have been accepted immediately")
	}

	// outgoing-window is now exhausted; a second transfer must block.
	tr2 := &frames.PerformTransfer{Handle: 0}
	select {
	case s.txTransfer <- tr2:
		t.Fatal("second transfer should have blocked with outgoing-window at zero")
	case <-time.After(100 * time.Millisecond):
	}

	// a Flow replenishing the window unblocks it.
	nextIn := uint32(2)
	s.rx.Enqueue(&frames.PerformFlow{
		NextIncomingID: &nextIn,
		IncomingWindow: 5,
		NextOutgoingID: 0,
		OutgoingWindow: 5,
	})

	select {
	case s.txTransfer <- tr2:
	case <-time.After(time.Second):
		t.Fatal("transfer should unblock once the window is replenished")
	}

	require.NoError(t, conn.Close(context.Background()))
	require.NoError(t, mc.Close())
}

func TestSessionTracksIncomingWindowAndReplenishes(t *testing.T) {
	defer leaktest.Check(t)()

	var sawFlow bool
	flowSeen := make(chan struct{})
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
		case *frames.PerformFlow:
			if !sawFlow {
				sawFlow = true
				close(flowSeen)
			}
			return nil, nil
		default:
			return nil, nil
		}
	})
	require.NoError(t, mc.SetReadDeadline(time.Now().Add(10*time.Second)))
	conn, err := Dial(context.Background(), mc, nil)
	require.NoError(t, err)

	s, err := conn.NewSession(context.Background(), &SessionOptions{IncomingWindow: 1})
	require.NoError(t, err)

	format := uint32(0)
	s.rx.Enqueue(&frames.PerformTransfer{Handle: 0, DeliveryTag: []byte("t"), MessageFormat: &format})

	select {
	case <-flowSeen:
	case <-time.After(time.Second):
		t.Fatal("expected a replenishing Flow once incoming-window hit zero")
	}

	require.NoError(t, conn.Close(context.Background()))
	require.NoError(t, mc.Close())
}
