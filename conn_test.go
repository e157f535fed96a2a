package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/frames"
	"github.com/nchaourar/amqp10/internal/mocks"
)

// openResponder replies to the protocol header and Open performative a
// Dial exchange sends, ignoring everything else.
func openResponder(t *testing.T) func(frames.FrameBody) ([]byte, error) {
	t.Helper()
	return func(fr frames.FrameBody) ([]byte, error) {
		switch fr.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(frames.ProtoAMQP)
		case *frames.PerformOpen:
			return frames.Encode(frames.Frame{Type: frames.TypeAMQP, Body: &frames.PerformOpen{ContainerID: "peer"}})
		default:
			return nil, nil
		}
	}
}

func dialForTest(t *testing.T, opts *ConnOptions) (*Conn, *mocks.MockConnection) {
	t.Helper()
	mc := mocks.NewConnection(openResponder(t))
	// the mock's Read blocks on a deadline timer that is never
	// initialized; arm it once up front so Dial's blocking reads don't
	// dereference a nil timer.
	require.NoError(t, mc.SetReadDeadline(time.Now().Add(10*time.Second)))

	conn, err := Dial(context.Background(), mc, opts)
	require.NoError(t, err)
	return conn, mc
}

func closeForTest(t *testing.T, c *Conn, mc *mocks.MockConnection) {
	t.Helper()
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, mc.Close())
}

func TestDialAppliesLibraryDefaults(t *testing.T) {
	defer leaktest.Check(t)()

	c, mc := dialForTest(t, nil)
	require.EqualValues(t, minMaxFrameSize, c.maxFrameSize)
	require.EqualValues(t, defaultChannelMax, c.channelMax)
	require.EqualValues(t, defaultIdleTimeout, c.idleTimeout)
	closeForTest(t, c, mc)
}

func TestDialClampsMaxFrameSizeToFloor(t *testing.T) {
	defer leaktest.Check(t)()

	c, mc := dialForTest(t, &ConnOptions{MaxFrameSize: 100})
	require.EqualValues(t, minMaxFrameSize, c.maxFrameSize)
	closeForTest(t, c, mc)
}

func TestDialHonorsExplicitOptionsAboveFloor(t *testing.T) {
	defer leaktest.Check(t)()

	c, mc := dialForTest(t, &ConnOptions{MaxFrameSize: 4096, ChannelMax: 10, ContainerID: "me"})
	require.EqualValues(t, 4096, c.maxFrameSize)
	require.EqualValues(t, 10, c.channelMax)
	require.Equal(t, "me", c.containerID)
	closeForTest(t, c, mc)
}

func TestDialDoesNotHeartbeatByDefault(t *testing.T) {
	defer leaktest.Check(t)()

	c, mc := dialForTest(t, nil)
	require.Zero(t, c.peerIdleTimeout)
	closeForTest(t, c, mc)
}
