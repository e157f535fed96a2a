package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

func TestMessageRoundTripHeaderPropertiesData(t *testing.T) {
	in := &Message{
		Header: &MessageHeader{Durable: true, Priority: 9, DeliveryCount: 2},
		Properties: &MessageProperties{
			MessageID: "msg-1",
			To:        "queue-a",
			Subject:   "greeting",
		},
		ApplicationProperties: map[string]any{"x-custom": int32(42)},
		Data:                  [][]byte{[]byte("hello"), []byte("world")},
	}

	wr := buffer.New(nil)
	require.NoError(t, in.Marshal(wr))

	var out Message
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))

	require.NotNil(t, out.Header)
	require.True(t, out.Header.Durable)
	require.EqualValues(t, 9, out.Header.Priority)
	require.NotNil(t, out.Properties)
	require.Equal(t, "msg-1", out.Properties.MessageID)
	require.Equal(t, "queue-a", out.Properties.To)
	require.EqualValues(t, int32(42), out.ApplicationProperties["x-custom"])
	require.Equal(t, in.Data, out.Data)
}

func TestMessageRoundTripValueBody(t *testing.T) {
	in := &Message{Value: "just a string body"}

	wr := buffer.New(nil)
	require.NoError(t, in.Marshal(wr))

	var out Message
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))
	require.Equal(t, "just a string body", out.Value)
}

func TestMessageHeaderDefaultPriority(t *testing.T) {
	var h MessageHeader
	wr := buffer.New(nil)
	// a header list with every field omitted
	require.NoError(t, encoding.MarshalComposite(wr, encoding.TypeCodeMessageHeader, nil))
	require.NoError(t, h.Unmarshal(buffer.New(wr.Bytes())))
	require.EqualValues(t, 4, h.Priority)
}

func TestMessagePropertiesRoundTripTimes(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	in := &MessageProperties{CreationTime: now, GroupSequence: 3}

	wr := buffer.New(nil)
	require.NoError(t, in.Marshal(wr))

	var out MessageProperties
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))
	require.True(t, out.CreationTime.Equal(now))
	require.EqualValues(t, 3, out.GroupSequence)
}

func TestMessageUnmarshalRejectsUnknownSection(t *testing.T) {
	wr := buffer.New(nil)
	encoding.WriteDescriptor(wr, encoding.TypeCodeOpen) // not a message section
	require.NoError(t, encoding.Marshal(wr, "unused"))

	var out Message
	err := out.Unmarshal(buffer.New(wr.Bytes()))
	require.Error(t, err)
}
