package frames

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
)

func encodeDecode(t *testing.T, body FrameBody) FrameBody {
	t.Helper()
	b, err := Encode(Frame{Type: TypeAMQP, Channel: 3, Body: body})
	require.NoError(t, err)

	head, err := ParseHeader(buffer.New(b[:HeaderSize]))
	require.NoError(t, err)
	require.EqualValues(t, 3, head.Channel)
	require.EqualValues(t, len(b), head.Size)

	got, err := ParseBody(buffer.New(b[HeaderSize:]))
	require.NoError(t, err)
	return got
}

func TestOpenRoundTrip(t *testing.T) {
	in := &PerformOpen{ContainerID: "container-1", ChannelMax: 128, MaxFrameSize: 4096}
	got := encodeDecode(t, in)
	out, ok := got.(*PerformOpen)
	require.True(t, ok)
	require.Equal(t, "container-1", out.ContainerID)
	require.EqualValues(t, 128, out.ChannelMax)
	require.EqualValues(t, 4096, out.MaxFrameSize)
}

func TestOpenDefaultsWhenOmitted(t *testing.T) {
	in := &PerformOpen{ContainerID: "c"}
	got := encodeDecode(t, in)
	out := got.(*PerformOpen)
	require.EqualValues(t, 4294967295, out.MaxFrameSize)
	require.EqualValues(t, 65535, out.ChannelMax)
}

func TestBeginRoundTrip(t *testing.T) {
	remote := uint16(7)
	in := &PerformBegin{RemoteChannel: &remote, NextOutgoingID: 1, IncomingWindow: 100, OutgoingWindow: 50}
	got := encodeDecode(t, in)
	out := got.(*PerformBegin)
	require.NotNil(t, out.RemoteChannel)
	require.EqualValues(t, 7, *out.RemoteChannel)
	require.EqualValues(t, 100, out.IncomingWindow)
	require.EqualValues(t, 50, out.OutgoingWindow)
}

func TestAttachRoundTrip(t *testing.T) {
	in := &PerformAttach{
		Name:   "link-1",
		Handle: 4,
		Role:   encoding.RoleReceiver,
		Source: &Source{Address: "src"},
		Target: &Target{Address: "dst"},
	}
	got := encodeDecode(t, in)
	out := got.(*PerformAttach)
	require.Equal(t, "link-1", out.Name)
	require.EqualValues(t, 4, out.Handle)
	require.Equal(t, encoding.RoleReceiver, out.Role)
	require.Equal(t, "src", out.Source.Address)
	require.Equal(t, "dst", out.Target.Address)
}

func TestFlowRoundTrip(t *testing.T) {
	handle := uint32(2)
	credit := uint32(500)
	in := &PerformFlow{NextIncomingID: nil, IncomingWindow: 10, NextOutgoingID: 3, OutgoingWindow: 20, Handle: &handle, LinkCredit: &credit}
	got := encodeDecode(t, in)
	out := got.(*PerformFlow)
	require.EqualValues(t, 10, out.IncomingWindow)
	require.EqualValues(t, 3, out.NextOutgoingID)
	require.NotNil(t, out.Handle)
	require.EqualValues(t, 2, *out.Handle)
	require.NotNil(t, out.LinkCredit)
	require.EqualValues(t, 500, *out.LinkCredit)
}

func TestTransferRoundTripCarriesPayload(t *testing.T) {
	format := uint32(0)
	in := &PerformTransfer{Handle: 1, DeliveryTag: []byte("tag-1"), MessageFormat: &format, Payload: []byte("hello")}
	got := encodeDecode(t, in)
	out := got.(*PerformTransfer)
	require.Equal(t, []byte("tag-1"), out.DeliveryTag)
	require.Equal(t, []byte("hello"), out.Payload)
}

func TestDispositionRoundTrip(t *testing.T) {
	last := uint32(5)
	in := &PerformDisposition{Role: encoding.RoleReceiver, First: 1, Last: &last, Settled: true, State: &encoding.Accepted{}}
	got := encodeDecode(t, in)
	out := got.(*PerformDisposition)
	require.EqualValues(t, 1, out.First)
	require.NotNil(t, out.Last)
	require.EqualValues(t, 5, *out.Last)
	require.True(t, out.Settled)
	_, ok := out.State.(*encoding.Accepted)
	require.True(t, ok)
}

func TestDetachRoundTrip(t *testing.T) {
	in := &PerformDetach{Handle: 9, Closed: true, Error: encoding.NewError(encoding.ErrCondHandleInUse, "dup")}
	got := encodeDecode(t, in)
	out := got.(*PerformDetach)
	require.EqualValues(t, 9, out.Handle)
	require.True(t, out.Closed)
	require.Equal(t, encoding.ErrCondHandleInUse, out.Error.Condition)
}

func TestEndAndCloseRoundTrip(t *testing.T) {
	got := encodeDecode(t, &PerformEnd{})
	_, ok := got.(*PerformEnd)
	require.True(t, ok)

	got = encodeDecode(t, &PerformClose{})
	_, ok = got.(*PerformClose)
	require.True(t, ok)
}

func TestParseHeaderRejectsUndersizedFrame(t *testing.T) {
	h := Header{Size: 4, DataOffset: 2, FrameType: TypeAMQP}
	wr := buffer.New(nil)
	require.NoError(t, h.Marshal(wr))
	_, err := ParseHeader(buffer.New(wr.Bytes()))
	require.Error(t, err)
}

func TestParseHeaderRejectsShortDataOffset(t *testing.T) {
	h := Header{Size: 64, DataOffset: 1, FrameType: TypeAMQP}
	wr := buffer.New(nil)
	require.NoError(t, h.Marshal(wr))
	_, err := ParseHeader(buffer.New(wr.Bytes()))
	require.Error(t, err)
}

func TestEncodeEmptyIsAHeaderOnlyHeartbeat(t *testing.T) {
	b := EncodeEmpty(5)
	require.Len(t, b, HeaderSize)
	h, err := ParseHeader(buffer.New(b))
	require.NoError(t, err)
	require.EqualValues(t, HeaderSize, h.Size)
	require.EqualValues(t, 5, h.Channel)
}

func TestProtoHeaderRoundTrip(t *testing.T) {
	b := AppendProtoHeader(ProtoSASL)
	h, err := ParseProtoHeader(b)
	require.NoError(t, err)
	require.Equal(t, ProtoSASL, h.ProtoID)
	require.True(t, h.Matches(ProtoHeader{ProtoID: ProtoSASL, Major: 1}))
}

func TestSASLFrameRoundTrip(t *testing.T) {
	b, err := Encode(Frame{Type: TypeSASL, Body: &SASLInit{Mechanism: "PLAIN", InitialResponse: []byte{0, 'u', 0, 'p'}}})
	require.NoError(t, err)

	got, err := ParseSASLBody(buffer.New(b[HeaderSize:]))
	require.NoError(t, err)
	out, ok := got.(*SASLInit)
	require.True(t, ok)
	require.EqualValues(t, "PLAIN", out.Mechanism)
	require.Equal(t, []byte{0, 'u', 0, 'p'}, out.InitialResponse)
}

func TestSASLOutcomeRoundTrip(t *testing.T) {
	b, err := Encode(Frame{Type: TypeSASL, Body: &SASLOutcome{Code: SASLCodeAuth}})
	require.NoError(t, err)

	got, err := ParseSASLBody(buffer.New(b[HeaderSize:]))
	require.NoError(t, err)
	out := got.(*SASLOutcome)
	require.Equal(t, SASLCodeAuth, out.Code)
}
