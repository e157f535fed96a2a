package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nchaourar/amqp10/internal/bitmap"
	"github.com/nchaourar/amqp10/internal/debug"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
	"github.com/nchaourar/amqp10/internal/queue"
)

const defaultWindow = 5000

// SessionOptions configures Begin.
type SessionOptions struct {
	// IncomingWindow is the initial session incoming-window, in transfer
	// frames. Zero selects a library default.
	IncomingWindow uint32
	// OutgoingWindow is the initial session outgoing-window, in transfer
	// frames. Zero selects a library default.
	OutgoingWindow uint32
	// MaxLinks bounds the number of concurrently attached links, sized by
	// the handle-max offered in Begin. Zero selects a library default.
	MaxLinks uint32
}

// Session is a bidirectional context for exchanging deliveries, carrying
// zero or more Sender/Receiver links multiplexed over one connection
// channel.
type Session struct {
	channel uint16
	conn    *Conn

	rx *queue.Holder[frames.FrameBody]

	tx         chan frames.FrameBody
	txTransfer chan *frames.PerformTransfer

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneErr   error

	handles      *bitmap.Bitmap
	linksMu      sync.Mutex
	handleByLink map[uint32]*link

	nextDeliveryID uint32 // next-outgoing-id
	nextIncomingID uint32 // next transfer-id expected from the peer
	incomingWindow uint32
	outgoingWindow uint32
	windowSize     uint32 // incoming-window capacity restored on replenish

	unsettledMu sync.Mutex
	unsettled   map[uint32]*frames.PerformTransfer

	linkNamesMu sync.Mutex
	linkNames   map[linkKey]struct{}
}

func newSession(c *Conn, channel uint16, opts *SessionOptions) *Session {
	incoming, outgoing := uint32(defaultWindow), uint32(defaultWindow)
	maxLinks := uint32(4294967295)
	if opts != nil {
		if opts.IncomingWindow != 0 {
			incoming = opts.IncomingWindow
		}
		if opts.OutgoingWindow != 0 {
			outgoing = opts.OutgoingWindow
		}
		if opts.MaxLinks != 0 {
			maxLinks = opts.MaxLinks
		}
	}
	return &Session{
		conn:           c,
		channel:        channel,
		rx:             queue.NewHolder(queue.New[frames.FrameBody](64)),
		tx:             make(chan frames.FrameBody),
		txTransfer:     make(chan *frames.PerformTransfer),
		close:          make(chan struct{}),
		done:           make(chan struct{}),
		handles:        bitmap.New(maxLinks),
		handleByLink:   make(map[uint32]*link),
		incomingWindow: incoming,
		outgoingWindow: outgoing,
		windowSize:     incoming,
		unsettled:      make(map[uint32]*frames.PerformTransfer),
		linkNames:      make(map[linkKey]struct{}),
	}
}

// begin sends the Begin performative and waits for the peer's reply.
func (s *Session) begin(ctx context.Context) error {
	begin := &frames.PerformBegin{
		NextOutgoingID: 0,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.handles.Max(),
	}
	if err := s.conn.txFrame(s.channel, begin, nil); err != nil {
		return err
	}

	for {
		item, err := s.rx.Wait(ctx)
		if err != nil {
			return err
		}
		if resp, ok := (*item).(*frames.PerformBegin); ok {
			s.outgoingWindow = resp.IncomingWindow
			s.nextIncomingID = resp.NextOutgoingID
			break
		}
	}

	go s.mux()
	return nil
}

// NewSender opens a new sending link for target.
func (s *Session) NewSender(ctx context.Context, target string, opts *SenderOptions) (*Sender, error) {
	snd, err := newSender(target, s, opts)
	if err != nil {
		return nil, err
	}
	if err := snd.attach(ctx); err != nil {
		return nil, err
	}
	return snd, nil
}

// NewReceiver opens a new receiving link reading from source.
func (s *Session) NewReceiver(ctx context.Context, source string, opts *ReceiverOptions) (*Receiver, error) {
	rcv, err := newReceiver(source, s, opts)
	if err != nil {
		return nil, err
	}
	if err := rcv.attach(ctx); err != nil {
		return nil, err
	}
	return rcv, nil
}

// Close ends the session, waiting for the peer's End in response.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.close) })
	select {
	case <-s.done:
		return s.doneErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) allocateHandle(l *link) error {
	s.linkNamesMu.Lock()
	if _, dup := s.linkNames[l.key]; dup {
		s.linkNamesMu.Unlock()
		return encoding.NewError(encoding.ErrCondHandleInUse, fmt.Sprintf("link name %q already attached in this direction", l.key.name))
	}
	s.linkNames[l.key] = struct{}{}
	s.linkNamesMu.Unlock()

	s.linksMu.Lock()
	defer s.linksMu.Unlock()

	h, ok := s.handles.Next()
	if !ok {
		s.linkNamesMu.Lock()
		delete(s.linkNames, l.key)
		s.linkNamesMu.Unlock()
		return fmt.Errorf("amqp10: session handle-max reached")
	}
	l.handle = h
	s.handleByLink[h] = l
	return nil
}

func (s *Session) deallocateHandle(l *link) {
	s.linksMu.Lock()
	delete(s.handleByLink, l.handle)
	s.handles.Unset(l.handle)
	s.linksMu.Unlock()

	s.linkNamesMu.Lock()
	delete(s.linkNames, l.key)
	s.linkNamesMu.Unlock()
}

// txFrame hands a single non-transfer performative to the session mux for
// transmission; nil payload for everything but Transfer.
func (s *Session) txFrame(fr frames.FrameBody, payload []byte) error {
	select {
	case s.tx <- fr:
		return nil
	case <-s.done:
		return s.doneErr
	}
}

// mux is the session's single goroutine: it demultiplexes frames from
// conn to the owning link, multiplexes link sends back onto the channel,
// and tracks the incoming/outgoing transfer windows.
func (s *Session) mux() {
	defer func() {
		close(s.done)
	}()

	for {
		var txTransfer chan *frames.PerformTransfer
		if s.outgoingWindow > 0 {
			txTransfer = s.txTransfer
		}

		select {
		case <-s.rx.Signal():
			for {
				item := s.rx.Dequeue()
				if item == nil {
					break
				}
				if err := s.muxHandleFrame(*item); err != nil {
					s.doneErr = err
					s.shutdown(context.Background())
					return
				}
			}

		case fr := <-s.tx:
			if err := s.conn.txFrame(s.channel, fr, nil); err != nil {
				s.doneErr = err
				return
			}

		case tr := <-txTransfer:
			if tr.DeliveryID == nil {
				id := s.nextDeliveryID
				tr.DeliveryID = &id
			}
			if tr.Done != nil {
				s.unsettledMu.Lock()
				s.unsettled[*tr.DeliveryID] = tr
				s.unsettledMu.Unlock()
			}
			if !tr.More {
				s.nextDeliveryID++
			}
			s.outgoingWindow--
			if err := s.conn.txFrame(s.channel, tr, tr.Payload); err != nil {
				s.doneErr = err
				return
			}

		case <-s.close:
			s.shutdown(context.Background())
			return

		case <-s.conn.done:
			s.doneErr = s.conn.doneErr
			return
		}
	}
}

func (s *Session) shutdown(ctx context.Context) {
	_ = s.conn.txFrame(s.channel, &frames.PerformEnd{}, nil)
	for {
		item, err := s.rx.Wait(ctx)
		if err != nil {
			return
		}
		if _, ok := (*item).(*frames.PerformEnd); ok {
			return
		}
	}
}

// muxHandleFrame routes fr to its link, or handles it at session scope.
func (s *Session) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformAttach:
		s.linksMu.Lock()
		l, ok := s.handleByLink[fr.Handle]
		s.linksMu.Unlock()
		if !ok {
			return fmt.Errorf("amqp10: attach response for unknown handle %d", fr.Handle)
		}
		l.rx <- fr

	case *frames.PerformFlow:
		// the peer's incoming-window bounds how many more transfers we may
		// send before it needs another Flow to replenish us.
		s.outgoingWindow = fr.IncomingWindow
		if fr.Handle != nil {
			s.routeToLink(*fr.Handle, fr)
			return nil
		}
		if fr.Echo {
			s.sendFlow()
		}

	case *frames.PerformTransfer:
		s.nextIncomingID++
		if s.incomingWindow > 0 {
			s.incomingWindow--
		}
		s.routeToLink(fr.Handle, fr)
		if s.incomingWindow == 0 {
			s.incomingWindow = s.windowSize
			s.sendFlow()
		}

	case *frames.PerformDisposition:
		s.handleDisposition(fr)
		s.routeToAllLinks(fr)

	case *frames.PerformDetach:
		s.routeToLink(fr.Handle, fr)

	case *frames.PerformEnd:
		s.doneErr = nil
		if fr.Error != nil {
			s.doneErr = fr.Error
		}
		_ = s.conn.txFrame(s.channel, &frames.PerformEnd{}, nil)
		return &ConnectionError{inner: s.doneErr}

	default:
		debug.Log(context.Background(), slog.LevelDebug, fmt.Sprintf("RX (session %d): unexpected frame: %v", s.channel, fr))
	}
	return nil
}

// sendFlow announces the session's current window to the peer, replenishing
// its view of how much more we can receive.
func (s *Session) sendFlow() {
	nid := s.nextIncomingID
	resp := &frames.PerformFlow{
		NextIncomingID: &nid,
		IncomingWindow: s.incomingWindow,
		NextOutgoingID: s.nextDeliveryID,
		OutgoingWindow: s.outgoingWindow,
	}
	_ = s.conn.txFrame(s.channel, resp, nil)
}

func (s *Session) routeToLink(handle uint32, fr frames.FrameBody) {
	s.linksMu.Lock()
	l, ok := s.handleByLink[handle]
	s.linksMu.Unlock()
	if !ok {
		debug.Log(context.Background(), slog.LevelDebug, fmt.Sprintf("RX (session %d): frame for unattached handle %d: %v", s.channel, handle, fr))
		return
	}
	select {
	case l.rx <- fr:
	case <-l.done:
	}
}

func (s *Session) routeToAllLinks(fr frames.FrameBody) {
	s.linksMu.Lock()
	links := make([]*link, 0, len(s.handleByLink))
	for _, l := range s.handleByLink {
		links = append(links, l)
	}
	s.linksMu.Unlock()
	for _, l := range links {
		select {
		case l.rx <- fr:
		default:
		}
	}
}

// handleDisposition resolves Done channels for deliveries this session is
// tracking settlement for, which only happens on the sending side.
func (s *Session) handleDisposition(fr *frames.PerformDisposition) {
	s.unsettledMu.Lock()
	defer s.unsettledMu.Unlock()

	last := fr.First
	if fr.Last != nil {
		last = *fr.Last
	}
	for id := fr.First; id <= last; id++ {
		tr, ok := s.unsettled[id]
		if !ok {
			continue
		}
		if tr.Done != nil {
			tr.Done <- fr.State
			close(tr.Done)
		}
		delete(s.unsettled, id)
	}
}
