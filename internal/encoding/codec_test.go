package encoding

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/buffer"
)

func roundTrip(t *testing.T, in any, out any) {
	t.Helper()
	wr := buffer.New(nil)
	require.NoError(t, Marshal(wr, in))
	require.NoError(t, Unmarshal(buffer.New(wr.Bytes()), out))
}

func TestMarshalUnmarshalPrimitives(t *testing.T) {
	var b bool
	roundTrip(t, true, &b)
	require.True(t, b)

	var i32 int32
	roundTrip(t, int32(-12345), &i32)
	require.EqualValues(t, -12345, i32)

	var u64 uint64
	roundTrip(t, uint64(1<<40), &u64)
	require.EqualValues(t, 1<<40, u64)

	var s string
	roundTrip(t, "hello amqp", &s)
	require.Equal(t, "hello amqp", s)

	var sym Symbol
	roundTrip(t, Symbol("urn:test"), &sym)
	require.Equal(t, Symbol("urn:test"), sym)
}

func TestMarshalUnmarshalBinary(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0xff}
	var out []byte
	roundTrip(t, in, &out)
	require.Equal(t, in, out)
}

func TestMarshalUnmarshalLargeBinary(t *testing.T) {
	in := make([]byte, 512)
	for i := range in {
		in[i] = byte(i)
	}
	var out []byte
	roundTrip(t, in, &out)
	require.Equal(t, in, out)
}

func TestMarshalUnmarshalStringMap(t *testing.T) {
	in := map[string]any{"a": int32(1), "b": "two"}
	var out map[string]any
	roundTrip(t, in, &out)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("map round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalUnmarshalAnnotations(t *testing.T) {
	in := Annotations{Symbol("x-opt-key"): "value", Symbol("x-opt-count"): int32(7)}
	var out Annotations
	roundTrip(t, map[any]any(in), &out)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("annotations round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalUnmarshalList(t *testing.T) {
	in := List{int32(1), "two", true}
	var out List
	roundTrip(t, in, &out)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("list round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalUnmarshalNull(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, Marshal(wr, nil))
	var out any
	require.NoError(t, Unmarshal(buffer.New(wr.Bytes()), &out))
	require.Nil(t, out)
}

// composites round trip through MarshalComposite/UnmarshalComposite, the
// path every performative and delivery-state shares.
func TestCompositeRoundTrip(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, (&Rejected{Error: &Error{Condition: ErrCondDecodeError, Description: "bad"}}).Marshal(wr))

	code, ok := PeekCompositeType(buffer.New(wr.Bytes()))
	require.True(t, ok)
	require.Equal(t, uint64(TypeCodeStateRejected), code)

	var out Rejected
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))
	require.Equal(t, ErrCondDecodeError, out.Error.Condition)
	require.Equal(t, "bad", out.Error.Description)
}

func TestCompositeRoundTripEmptyFields(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, (&Accepted{}).Marshal(wr))

	var out Accepted
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))
}

func TestUnmarshalCompositeWrongDescriptorFails(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, (&Accepted{}).Marshal(wr))

	var out Released
	err := out.Unmarshal(buffer.New(wr.Bytes()))
	require.Error(t, err)
}

func TestDurationRoundTripsAsMilliseconds(t *testing.T) {
	in := Milliseconds(1500000123) // nanoseconds, not a round number of ms
	var out Milliseconds
	roundTrip(t, in, &out)
	// milliseconds-resolution encoding loses sub-millisecond precision
	require.InDelta(t, float64(in), float64(out), float64(1e6))
}

func TestErrorsNewErrorAndUnwrap(t *testing.T) {
	err := NewError(ErrCondIllegalState, "out of order frame")
	require.Equal(t, ErrCondIllegalState, err.Condition)
	require.Contains(t, err.Error(), "out of order frame")
}
