package amqp

import (
	"fmt"
	"net"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
)

// SASLProfile is the plug point for an external SASL mechanism
// implementation. Core only drives the init/challenge/outcome exchange;
// the mechanism-specific byte sequences (including any password hashing,
// such as SCRAM) are the profile's responsibility.
type SASLProfile interface {
	// Mechanism is the mechanism name offered in SASLInit, e.g. "PLAIN".
	Mechanism() string
	// Init returns the initial response sent alongside SASLInit.
	Init() ([]byte, error)
	// Challenge computes a response to a server challenge. Profiles that
	// never expect a challenge (PLAIN, ANONYMOUS) can return an error.
	Challenge(challenge []byte) (response []byte, err error)
}

// PlainProfile implements the PLAIN SASL mechanism: a single init
// response of the form "\x00username\x00password" (an empty authzid), no
// challenges.
type PlainProfile struct {
	Username string
	Password string
}

func (p *PlainProfile) Mechanism() string { return "PLAIN" }

func (p *PlainProfile) Init() ([]byte, error) {
	resp := make([]byte, 0, len(p.Username)+len(p.Password)+2)
	resp = append(resp, 0)
	resp = append(resp, p.Username...)
	resp = append(resp, 0)
	resp = append(resp, p.Password...)
	return resp, nil
}

func (p *PlainProfile) Challenge([]byte) ([]byte, error) {
	return nil, fmt.Errorf("amqp10: PLAIN does not support challenges")
}

// AnonymousProfile implements the ANONYMOUS SASL mechanism.
type AnonymousProfile struct {
	Trace string
}

func (a *AnonymousProfile) Mechanism() string { return "ANONYMOUS" }

func (a *AnonymousProfile) Init() ([]byte, error) { return []byte(a.Trace), nil }

func (a *AnonymousProfile) Challenge([]byte) ([]byte, error) {
	return nil, fmt.Errorf("amqp10: ANONYMOUS does not support challenges")
}

// negotiateSASL runs the init -> challenge* -> outcome exchange over
// netConn before the caller performs the normal AMQP protocol header
// handshake. It writes and expects the SASL protocol header itself.
func negotiateSASL(netConn net.Conn, profile SASLProfile) error {
	if _, err := netConn.Write(frames.AppendProtoHeader(frames.ProtoSASL)); err != nil {
		return err
	}
	hdr := make([]byte, 8)
	if _, err := readFull(netConn, hdr); err != nil {
		return err
	}
	if _, err := frames.ParseProtoHeader(hdr); err != nil {
		return err
	}

	body, err := readSASLFrame(netConn)
	if err != nil {
		return err
	}
	if _, ok := body.(*frames.SASLMechanisms); !ok {
		return fmt.Errorf("amqp10: expected SASLMechanisms, got %T", body)
	}

	initResp, err := profile.Init()
	if err != nil {
		return err
	}
	if err := writeSASLFrame(netConn, &frames.SASLInit{
		Mechanism:       encoding.Symbol(profile.Mechanism()),
		InitialResponse: initResp,
	}); err != nil {
		return err
	}

	for {
		body, err := readSASLFrame(netConn)
		if err != nil {
			return err
		}
		switch fr := body.(type) {
		case *frames.SASLChallenge:
			resp, err := profile.Challenge(fr.Challenge)
			if err != nil {
				return err
			}
			if err := writeSASLFrame(netConn, &frames.SASLResponse{Response: resp}); err != nil {
				return err
			}
		case *frames.SASLOutcome:
			if fr.Code != frames.SASLCodeOK {
				return fmt.Errorf("amqp10: SASL negotiation failed with code %d", fr.Code)
			}
			return nil
		default:
			return fmt.Errorf("amqp10: unexpected SASL frame: %T", body)
		}
	}
}

func readSASLFrame(netConn net.Conn) (frames.FrameBody, error) {
	hdr := make([]byte, frames.HeaderSize)
	if _, err := readFull(netConn, hdr); err != nil {
		return nil, err
	}
	h, err := frames.ParseHeader(buffer.New(hdr))
	if err != nil {
		return nil, err
	}
	body := make([]byte, int(h.Size)-frames.HeaderSize)
	if _, err := readFull(netConn, body); err != nil {
		return nil, err
	}
	return frames.ParseSASLBody(buffer.New(body))
}

func writeSASLFrame(netConn net.Conn, body frames.FrameBody) error {
	b, err := frames.Encode(frames.Frame{Type: frames.TypeSASL, Body: body})
	if err != nil {
		return err
	}
	_, err = netConn.Write(b)
	return err
}
