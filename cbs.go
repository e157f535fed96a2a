package amqp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-amqp-common-go/v3/auth"
	"github.com/nchaourar/amqp10/internal/shared"
)

// TokenProvider yields a claims-based-security token for a resource,
// matching the shape every Azure messaging SDK already expects of its
// credential plumbing.
type TokenProvider = auth.TokenProvider

const (
	cbsAddress           = "$cbs"
	cbsOperationsKey     = "operation"
	cbsOperationPutToken = "put-token"
	cbsTypeKey           = "type"
	cbsAudienceKey       = "name"
	cbsExpirationKey     = "expiration"
)

// CBSNegotiator performs the claims-based-security put-token exchange
// on the well-known $cbs link pair, authorizing a resource for the
// lifetime of its token.
type CBSNegotiator struct {
	session  *Session
	sender   *Sender
	receiver *Receiver
}

// NewCBSNegotiator attaches the sender/receiver pair addressed at $cbs.
func NewCBSNegotiator(ctx context.Context, session *Session) (*CBSNegotiator, error) {
	snd, err := session.NewSender(ctx, cbsAddress, nil)
	if err != nil {
		return nil, err
	}
	rcv, err := session.NewReceiver(ctx, cbsAddress, &ReceiverOptions{Credit: 1})
	if err != nil {
		_ = snd.Close(ctx)
		return nil, err
	}
	return &CBSNegotiator{session: session, sender: snd, receiver: rcv}, nil
}

// NegotiateClaim authorizes audience using a token obtained from
// provider, blocking until the put-token reply arrives.
func (c *CBSNegotiator) NegotiateClaim(ctx context.Context, audience string, provider TokenProvider) error {
	token, err := provider.GetToken(audience)
	if err != nil {
		return fmt.Errorf("amqp10: failed to obtain CBS token: %w", err)
	}

	expiresOn, err := parseTokenExpiry(token.Expiry)
	if err != nil {
		return fmt.Errorf("amqp10: invalid CBS token expiry %q: %w", token.Expiry, err)
	}

	msg := &Message{
		Properties: &MessageProperties{
			MessageID: shared.RandString(40),
			ReplyTo:   cbsAddress,
		},
		ApplicationProperties: map[string]any{
			cbsOperationsKey: cbsOperationPutToken,
			cbsTypeKey:       string(token.TokenType),
			cbsAudienceKey:   audience,
			cbsExpirationKey: expiresOn,
		},
		Value: token.Token,
	}

	if err := c.sender.Send(ctx, msg, nil); err != nil {
		return err
	}

	reply, err := c.receiver.Receive(ctx)
	if err != nil {
		return err
	}
	return c.receiver.AcceptMessage(ctx, reply)
}

// Close detaches both halves of the $cbs link pair.
func (c *CBSNegotiator) Close(ctx context.Context) error {
	err := c.sender.Close(ctx)
	if rerr := c.receiver.Close(ctx); err == nil {
		err = rerr
	}
	return err
}

// parseTokenExpiry accepts the two formats seen in the wild for
// auth.Token.Expiry: a decimal Unix-seconds timestamp (the common case,
// produced by token.NewToken-style constructors) or, failing that,
// RFC3339, in case a provider formats it as a calendar timestamp.
func parseTokenExpiry(expiry string) (time.Time, error) {
	if expiry == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(expiry, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, expiry)
}
