package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/buffer"
)

func TestTransactionDeclareRoundTrip(t *testing.T) {
	in := &TransactionDeclare{}
	wr := buffer.New(nil)
	require.NoError(t, in.Marshal(wr))

	var out TransactionDeclare
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))
	require.Nil(t, out.GlobalID)
}

func TestTransactionDischargeRoundTrip(t *testing.T) {
	in := TransactionDischarge{TransactionID: []byte("txn-1"), Fail: true}
	wr := buffer.New(nil)
	require.NoError(t, in.Marshal(wr))

	var out TransactionDischarge
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))
	require.Equal(t, []byte("txn-1"), out.TransactionID)
	require.True(t, out.Fail)
}

func TestStateDeclaredRoundTrip(t *testing.T) {
	in := &StateDeclared{TransactionID: []byte("txn-2")}
	wr := buffer.New(nil)
	require.NoError(t, in.Marshal(wr))

	var out StateDeclared
	require.NoError(t, out.Unmarshal(buffer.New(wr.Bytes())))
	require.Equal(t, []byte("txn-2"), out.TransactionID)
}
