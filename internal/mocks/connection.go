// Package mocks provides a net.Conn fake driven by a response callback,
// used to drive the connection/session/link state machines in tests
// without a real socket.
package mocks

import (
	"errors"
	"math"
	"net"
	"time"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
)

// NewConnection creates a new instance of MockConnection.
// Responder is invoked by Write when a frame is received.
// Return a nil slice/nil error to swallow the frame.
// Return a non-nil error to simulate a write error.
func NewConnection(resp func(frames.FrameBody) ([]byte, error)) *MockConnection {
	return &MockConnection{
		resp: resp,
		// during shutdown, the reader loop can close before the writer loop
		// as they both return on Done being closed; a buffered channel
		// keeps late writes from blocking shutdown.
		readData:  make(chan []byte, 10),
		readClose: make(chan struct{}),
	}
}

// MockConnection is a mock connection that satisfies the net.Conn interface.
type MockConnection struct {
	resp      func(frames.FrameBody) ([]byte, error)
	readDL    *time.Timer
	readData  chan []byte
	readClose chan struct{}
	closed    bool
}

// NOTE: Read, Write, and Close are all called by separate goroutines.

// Read is invoked by the connection's reader loop to receive frame data.
// It blocks until Write or Close are called, or the read deadline expires.
func (m *MockConnection) Read(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	case <-m.readDL.C:
		return 0, errors.New("mock connection read deadline exceeded")
	case rd := <-m.readData:
		return copy(b, rd), nil
	}
}

// Write is invoked by the connection's writer loop. Every call invokes
// the responder callback, which must reply with one of:
//  1. an encoded frame and nil error
//  2. a non-nil error to simulate a write failure
//  3. a nil slice and nil error indicating the frame should be ignored
func (m *MockConnection) Write(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	frame, err := decodeFrame(b)
	if err != nil {
		return 0, err
	}
	resp, err := m.resp(frame)
	if err != nil {
		return 0, err
	}
	if resp != nil {
		m.readData <- resp
	}
	return len(b), nil
}

// Close is called when the connection unwinds.
func (m *MockConnection) Close() error {
	if m.closed {
		return errors.New("double close")
	}
	m.closed = true
	close(m.readClose)
	return nil
}

func (m *MockConnection) LocalAddr() net.Addr {
	return &net.IPAddr{IP: net.IPv4(127, 0, 0, 2)}
}

func (m *MockConnection) RemoteAddr() net.Addr {
	return &net.IPAddr{IP: net.IPv4(127, 0, 0, 2)}
}

func (m *MockConnection) SetDeadline(t time.Time) error {
	return errors.New("not used")
}

func (m *MockConnection) SetReadDeadline(t time.Time) error {
	if m.readDL != nil && !m.readDL.Stop() {
		<-m.readDL.C
	}
	m.readDL = time.NewTimer(time.Until(t))
	return nil
}

func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	return nil
}

// ProtoHeader appends the initial handshake frame to the list of responses.
func ProtoHeader(id frames.ProtoID) ([]byte, error) {
	return frames.AppendProtoHeader(id), nil
}

// PerformOpen appends a PerformOpen frame with the specified container ID.
func PerformOpen(containerID string) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, &frames.PerformOpen{ContainerID: containerID})
}

// PerformBegin appends a PerformBegin frame with the specified remote channel ID.
func PerformBegin(remoteChannel uint16) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, &frames.PerformBegin{
		RemoteChannel:  &remoteChannel,
		NextOutgoingID: 1,
		IncomingWindow: 5000,
		OutgoingWindow: 1000,
		HandleMax:      math.MaxInt16,
	})
}

// ReceiverAttach appends a PerformAttach frame for a link whose remote
// role is sender (so the local side is the receiver).
func ReceiverAttach(linkName string, linkHandle uint32, mode encoding.ReceiverSettleMode) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, &frames.PerformAttach{
		Name:   linkName,
		Handle: linkHandle,
		Role:   encoding.RoleSender,
		Source: &frames.Source{
			Address:      "test",
			Durable:      encoding.DurabilityNone,
			ExpiryPolicy: encoding.ExpirySessionEnd,
		},
		ReceiverSettleMode: &mode,
		MaxMessageSize:     math.MaxUint32,
	})
}

// PerformTransfer appends a PerformTransfer frame carrying payload as a
// single AmqpValue-free binary application-data section.
func PerformTransfer(linkHandle, deliveryID uint32, payload []byte) ([]byte, error) {
	format := uint32(0)
	payloadBuf := buffer.New(nil)
	encoding.WriteDescriptor(payloadBuf, encoding.TypeCodeApplicationData)
	if err := encoding.WriteBinary(payloadBuf, payload); err != nil {
		return nil, err
	}
	return encodeFrame(frames.TypeAMQP, &frames.PerformTransfer{
		Handle:        linkHandle,
		DeliveryID:    &deliveryID,
		DeliveryTag:   []byte("tag"),
		MessageFormat: &format,
		Payload:       payloadBuf.Detach(),
	})
}

// PerformDisposition appends a PerformDisposition frame settling deliveryID.
func PerformDisposition(deliveryID uint32, state encoding.DeliveryState) ([]byte, error) {
	return encodeFrame(frames.TypeAMQP, &frames.PerformDisposition{
		Role:    encoding.RoleSender,
		First:   deliveryID,
		Settled: true,
		State:   state,
	})
}

// AMQPProto is the frame type passed to the responder for the initial
// protocol handshake.
type AMQPProto struct {
	frames.FrameBody
}

// KeepAlive is the frame type passed to the responder for heartbeat frames.
type KeepAlive struct {
	frames.FrameBody
}

func encodeFrame(t uint8, f frames.FrameBody) ([]byte, error) {
	return frames.Encode(frames.Frame{Type: t, Body: f})
}

func decodeFrame(b []byte) (frames.FrameBody, error) {
	if len(b) > 3 && b[0] == 'A' && b[1] == 'M' && b[2] == 'Q' && b[3] == 'P' {
		return &AMQPProto{}, nil
	}
	buf := buffer.New(b)
	header, err := frames.ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	bodySize := int64(header.Size - frames.HeaderSize)
	if bodySize == 0 {
		return &KeepAlive{}, nil
	}
	body, ok := buf.Next(bodySize)
	if !ok {
		return nil, errors.New("mocks: truncated frame body")
	}
	return frames.ParseBody(buffer.New(body))
}
