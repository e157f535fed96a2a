package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nchaourar/amqp10/internal/bitmap"
	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/debug"
	"github.com/nchaourar/amqp10/internal/frames"
)

const (
	// minMaxFrameSize is both the default and the floor for max-frame-size:
	// a peer advertising less is rejecting basic interoperability.
	minMaxFrameSize     = 512
	defaultMaxFrameSize = minMaxFrameSize
	defaultChannelMax   = 65535
	// defaultIdleTimeout of 0 means no heartbeat is sent or required unless
	// the caller opts in.
	defaultIdleTimeout = 0
)

// ConnOptions configures a Conn's Open exchange. Establishing the
// underlying net.Conn (TCP, TLS, WebSocket) is the caller's
// responsibility. When SASLProfile is set, Dial runs the SASL exchange on
// that stream before the AMQP protocol header handshake.
type ConnOptions struct {
	ContainerID  string
	HostName     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  time.Duration
	Properties   map[string]any

	// SASLProfile, if set, runs a SASL negotiation over netConn before
	// the AMQP protocol header handshake.
	SASLProfile SASLProfile
}

// Conn is one AMQP connection: the protocol header handshake, the Open/
// Close state machine, and the channel multiplexer shared by every
// Session begun on it.
type Conn struct {
	netConn net.Conn

	containerID  string
	maxFrameSize uint32
	channelMax   uint16
	idleTimeout  time.Duration

	peerMaxFrameSize uint32
	peerIdleTimeout  time.Duration

	channels *bitmap.Bitmap

	sessionsMu sync.Mutex
	// pending maps our own outgoing channel number to the Session that
	// sent Begin on it, until the peer's Begin (carrying remote-channel
	// equal to that number) arrives and the pair is bound.
	pending map[uint16]*Session
	// bound maps the peer's channel number, learned from their Begin, to
	// the local Session; every frame read after binding is routed here.
	bound map[uint16]*Session

	tx   chan outgoingFrame
	done chan struct{}
	once sync.Once

	doneErr error
}

type outgoingFrame struct {
	channel uint16
	body    frames.FrameBody
	payload []byte
	errc    chan error
}

// Dial performs the AMQP protocol header handshake and Open exchange over
// an already-connected net.Conn, returning a usable Conn.
func Dial(ctx context.Context, netConn net.Conn, opts *ConnOptions) (*Conn, error) {
	c := &Conn{
		netConn:      netConn,
		maxFrameSize: defaultMaxFrameSize,
		channelMax:   defaultChannelMax,
		idleTimeout:  defaultIdleTimeout,
		channels:     bitmap.New(defaultChannelMax),
		pending:      make(map[uint16]*Session),
		bound:        make(map[uint16]*Session),
		tx:           make(chan outgoingFrame),
		done:         make(chan struct{}),
	}
	if opts != nil {
		c.containerID = opts.ContainerID
		if opts.MaxFrameSize != 0 {
			c.maxFrameSize = opts.MaxFrameSize
			if c.maxFrameSize < minMaxFrameSize {
				c.maxFrameSize = minMaxFrameSize
			}
		}
		if opts.ChannelMax != 0 {
			c.channelMax = opts.ChannelMax
			c.channels = bitmap.New(uint32(opts.ChannelMax))
		}
		if opts.IdleTimeout != 0 {
			c.idleTimeout = opts.IdleTimeout
		}
	}

	if opts != nil && opts.SASLProfile != nil {
		if err := negotiateSASL(netConn, opts.SASLProfile); err != nil {
			return nil, err
		}
	}

	if _, err := netConn.Write(frames.AppendProtoHeader(frames.ProtoAMQP)); err != nil {
		return nil, err
	}
	hdr := make([]byte, 8)
	if _, err := readFull(netConn, hdr); err != nil {
		return nil, err
	}
	if _, err := frames.ParseProtoHeader(hdr); err != nil {
		return nil, err
	}

	open := &frames.PerformOpen{
		ContainerID:  c.containerID,
		Hostname:     optsHostname(opts),
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.channelMax,
		IdleTimeout:  c.idleTimeout,
	}
	if err := c.writeFrame(0, open, nil); err != nil {
		return nil, err
	}

	_, body, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	resp, ok := body.(*frames.PerformOpen)
	if !ok {
		return nil, fmt.Errorf("amqp10: expected Open, got %T", body)
	}
	c.peerMaxFrameSize = resp.MaxFrameSize
	c.peerIdleTimeout = resp.IdleTimeout

	go c.txLoop()
	go c.rxLoop()
	if c.peerIdleTimeout > 0 {
		go c.heartbeatLoop()
	}
	return c, nil
}

func optsHostname(opts *ConnOptions) string {
	if opts == nil {
		return ""
	}
	return opts.HostName
}

// NewSession begins a new Session on the next available local channel.
func (c *Conn) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	ch, ok := c.channels.Next()
	if !ok {
		return nil, fmt.Errorf("amqp10: connection channel-max reached")
	}

	s := newSession(c, uint16(ch), opts)
	c.sessionsMu.Lock()
	c.pending[uint16(ch)] = s
	c.sessionsMu.Unlock()

	if err := s.begin(ctx); err != nil {
		c.sessionsMu.Lock()
		delete(c.pending, uint16(ch))
		for peerCh, bs := range c.bound {
			if bs == s {
				delete(c.bound, peerCh)
			}
		}
		c.sessionsMu.Unlock()
		c.channels.Unset(uint32(ch))
		return nil, err
	}
	return s, nil
}

// Close sends a closing Close performative and shuts the connection down
// locally. It does not wait for the peer's Close reply, and ctx is not
// consulted.
func (c *Conn) Close(ctx context.Context) error {
	var retErr error
	c.once.Do(func() {
		retErr = c.writeFrame(0, &frames.PerformClose{}, nil)
		close(c.done)
	})
	_ = ctx
	return retErr
}

func (c *Conn) txFrame(channel uint16, body frames.FrameBody, payload []byte) error {
	errc := make(chan error, 1)
	select {
	case c.tx <- outgoingFrame{channel: channel, body: body, payload: payload, errc: errc}:
	case <-c.done:
		return c.doneErr
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return c.doneErr
	}
}

func (c *Conn) writeFrame(channel uint16, body frames.FrameBody, payload []byte) error {
	b, err := frames.Encode(frames.Frame{Type: frames.TypeAMQP, Channel: channel, Body: body, Payload: payload})
	if err != nil {
		return err
	}
	_, err = c.netConn.Write(b)
	return err
}

// readFrame reads one frame off the wire, returning its channel and
// decoded body. A nil body with a nil error indicates an empty heartbeat
// frame.
func (c *Conn) readFrame() (uint16, frames.FrameBody, error) {
	hdr := make([]byte, frames.HeaderSize)
	if _, err := readFull(c.netConn, hdr); err != nil {
		return 0, nil, err
	}
	h, err := frames.ParseHeader(buffer.New(hdr))
	if err != nil {
		return 0, nil, err
	}
	bodyLen := int(h.Size) - frames.HeaderSize
	if bodyLen == 0 {
		return h.Channel, nil, nil
	}
	body := make([]byte, bodyLen)
	if _, err := readFull(c.netConn, body); err != nil {
		return 0, nil, err
	}
	fb, err := frames.ParseBody(buffer.New(body))
	return h.Channel, fb, err
}

// txLoop serializes writes from every session onto the network connection.
func (c *Conn) txLoop() {
	for {
		select {
		case out := <-c.tx:
			err := c.writeFrame(out.channel, out.body, out.payload)
			out.errc <- err
			if err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// rxLoop reads frames off the wire and demultiplexes them to the owning
// session by channel number, binding newly-begun sessions along the way.
func (c *Conn) rxLoop() {
	for {
		channel, body, err := c.readFrame()
		if err != nil {
			c.fail(err)
			return
		}
		if body == nil {
			continue // heartbeat
		}

		if begin, ok := body.(*frames.PerformBegin); ok && begin.RemoteChannel != nil {
			c.sessionsMu.Lock()
			s, ok := c.pending[*begin.RemoteChannel]
			if ok {
				delete(c.pending, *begin.RemoteChannel)
				c.bound[channel] = s
			}
			c.sessionsMu.Unlock()
			if !ok {
				debug.Log(context.Background(), slog.LevelDebug, fmt.Sprintf("RX (conn): Begin with unknown remote-channel %d", *begin.RemoteChannel))
				continue
			}
			s.rx.Enqueue(body)
			continue
		}

		if closeFr, ok := body.(*frames.PerformClose); ok {
			c.fail(closeErr(closeFr))
			return
		}

		c.sessionsMu.Lock()
		s, ok := c.bound[channel]
		c.sessionsMu.Unlock()
		if !ok {
			debug.Log(context.Background(), slog.LevelDebug, fmt.Sprintf("RX (conn): frame on unbound channel %d: %v", channel, body))
			continue
		}
		s.rx.Enqueue(body)
	}
}

func closeErr(fr *frames.PerformClose) error {
	if fr.Error == nil {
		return nil
	}
	return fr.Error
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		if err != nil {
			c.doneErr = &ConnectionError{inner: err}
		}
		close(c.done)
	})
	// bound sessions learn of the failure themselves, by selecting on
	// c.done in their own mux goroutine; pending ones haven't started a
	// mux yet, so it's safe to set doneErr here directly.
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	for _, s := range c.pending {
		s.doneErr = c.doneErr
	}
}

// heartbeatLoop emits an empty frame at half the negotiated peer idle
// timeout to keep the connection from being treated as idle.
func (c *Conn) heartbeatLoop() {
	t := time.NewTicker(c.peerIdleTimeout / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := c.netConn.Write(frames.EncodeEmpty(0)); err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func readFull(r net.Conn, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
