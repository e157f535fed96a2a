package amqp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
)

func TestPlainProfileInit(t *testing.T) {
	p := &PlainProfile{Username: "alice", Password: "secret"}
	require.Equal(t, "PLAIN", p.Mechanism())

	resp, err := p.Init()
	require.NoError(t, err)
	require.Equal(t, []byte("\x00alice\x00secret"), resp)

	_, err = p.Challenge(nil)
	require.Error(t, err)
}

func TestAnonymousProfileInit(t *testing.T) {
	a := &AnonymousProfile{Trace: "trace-id"}
	require.Equal(t, "ANONYMOUS", a.Mechanism())

	resp, err := a.Init()
	require.NoError(t, err)
	require.Equal(t, []byte("trace-id"), resp)
}

// TestNegotiateSASLPlainHappyPath drives negotiateSASL against a fake peer
// over an in-memory pipe, exercising the full init/outcome exchange.
func TestNegotiateSASLPlainHappyPath(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverErr := make(chan error, 1)
	go func() {
		hdr := make([]byte, 8)
		if _, err := readFull(server, hdr); err != nil {
			serverErr <- err
			return
		}
		if _, err := server.Write(frames.AppendProtoHeader(frames.ProtoSASL)); err != nil {
			serverErr <- err
			return
		}
		if err := writeSASLFrame(server, &frames.SASLMechanisms{Mechanisms: encoding.MultiSymbol{"PLAIN"}}); err != nil {
			serverErr <- err
			return
		}

		initHdr := make([]byte, frames.HeaderSize)
		if _, err := readFull(server, initHdr); err != nil {
			serverErr <- err
			return
		}
		h, err := frames.ParseHeader(buffer.New(initHdr))
		if err != nil {
			serverErr <- err
			return
		}
		body := make([]byte, int(h.Size)-frames.HeaderSize)
		if _, err := readFull(server, body); err != nil {
			serverErr <- err
			return
		}
		fb, err := frames.ParseSASLBody(buffer.New(body))
		if err != nil {
			serverErr <- err
			return
		}
		init, ok := fb.(*frames.SASLInit)
		if !ok || init.Mechanism != "PLAIN" {
			serverErr <- err
			return
		}

		serverErr <- writeSASLFrame(server, &frames.SASLOutcome{Code: frames.SASLCodeOK})
	}()

	err := negotiateSASL(client, &PlainProfile{Username: "bob", Password: "hunter2"})
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
}

func TestNegotiateSASLFailureCodeFails(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		hdr := make([]byte, 8)
		_, _ = readFull(server, hdr)
		_, _ = server.Write(frames.AppendProtoHeader(frames.ProtoSASL))
		_ = writeSASLFrame(server, &frames.SASLMechanisms{Mechanisms: encoding.MultiSymbol{"ANONYMOUS"}})

		initHdr := make([]byte, frames.HeaderSize)
		_, _ = readFull(server, initHdr)
		h, _ := frames.ParseHeader(buffer.New(initHdr))
		body := make([]byte, int(h.Size)-frames.HeaderSize)
		_, _ = readFull(server, body)

		_ = writeSASLFrame(server, &frames.SASLOutcome{Code: frames.SASLCodeAuth})
	}()

	err := negotiateSASL(client, &AnonymousProfile{})
	require.Error(t, err)
}
