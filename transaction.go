package amqp

import (
	"context"
	"fmt"

	"github.com/nchaourar/amqp10/internal/buffer"
	"github.com/nchaourar/amqp10/internal/encoding"
	"github.com/nchaourar/amqp10/internal/frames"
)

// TransactionDeclare requests a new transaction from the coordinator.
// GlobalID is sent only when the caller sets it; the core never fills it
// in itself.
//
//	<descriptor name="amqp:declare:list" code="0x00000000:0x00000031"/>
type TransactionDeclare struct {
	GlobalID any
}

func (d *TransactionDeclare) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDeclare, []encoding.Field{
		{Value: d.GlobalID, Omit: d.GlobalID == nil},
	})
}

func (d *TransactionDeclare) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDeclare,
		encoding.UnmarshalField{Field: &d.GlobalID},
	)
}

// TransactionDischarge ends a transaction, committing it unless Fail is
// set, in which case every operation performed under it is rolled back.
//
//	<descriptor name="amqp:discharge:list" code="0x00000000:0x00000032"/>
type TransactionDischarge struct {
	TransactionID []byte
	Fail          bool
}

func (d TransactionDischarge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDischarge, []encoding.Field{
		{Value: d.TransactionID},
		{Value: d.Fail, Omit: !d.Fail},
	})
}

func (d *TransactionDischarge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDischarge,
		encoding.UnmarshalField{Field: &d.TransactionID},
		encoding.UnmarshalField{Field: &d.Fail},
	)
}

// StateDeclared is the coordinator's terminal outcome for a successful
// Declare, carrying the assigned transaction-id.
//
//	<descriptor name="amqp:declared:list" code="0x00000000:0x00000033"/>
type StateDeclared struct {
	TransactionID []byte
}

func (*StateDeclared) deliveryState() {}

func (d *StateDeclared) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDeclared, []encoding.Field{
		{Value: d.TransactionID},
	})
}

func (d *StateDeclared) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDeclared,
		encoding.UnmarshalField{Field: &d.TransactionID},
	)
}

// TransactionControllerOptions configures NewTransactionController.
type TransactionControllerOptions struct {
	Capabilities []string
}

// TransactionController is a sender link attached to the well-known
// transactional coordinator target, declaring and discharging
// transactions on behalf of the caller. The coordinator link carries no
// application messages: its bodies are always Declare or Discharge
// composites and its settlement states are Declared or one of the usual
// delivery outcomes.
type TransactionController struct {
	sender *Sender
}

// NewTransactionController attaches a sender link whose target is the
// Coordinator terminus, per the transaction extension's convention of
// reusing an ordinary link with a specialized target type.
func NewTransactionController(ctx context.Context, session *Session, opts *TransactionControllerOptions) (*TransactionController, error) {
	s := &Sender{
		l:                       newLink(session, encoding.RoleSender),
		closeOnDispositionError: false,
	}
	s.l.source = new(frames.Source)
	s.l.coordinator = &frames.Coordinator{}
	if opts != nil {
		for _, c := range opts.Capabilities {
			s.l.coordinator.Capabilities = append(s.l.coordinator.Capabilities, encoding.Symbol(c))
		}
	}

	if err := s.l.attach(ctx, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleSender
		pa.InitialDeliveryCount = s.l.deliveryCount
		pa.Target = nil
	}, func(*frames.PerformAttach) {}); err != nil {
		return nil, err
	}

	s.transfers = make(chan frames.PerformTransfer)
	go s.mux()

	return &TransactionController{sender: s}, nil
}

// DeclareOptions reserves room for future optional parameters.
type DeclareOptions struct{}

// Declare asks the coordinator for a new transaction-id.
func (tc *TransactionController) Declare(ctx context.Context, declare TransactionDeclare, _ *DeclareOptions) ([]byte, error) {
	state, err := tc.sender.sendRaw(ctx, &Message{Value: &declare}, nil)
	if err != nil {
		return nil, err
	}
	declared, ok := state.(*StateDeclared)
	if !ok {
		return nil, fmt.Errorf("amqp10: invalid response declaring transaction (not *StateDeclared, was %T)", state)
	}
	return declared.TransactionID, nil
}

// DischargeOptions reserves room for future optional parameters.
type DischargeOptions struct{}

// Discharge ends a transaction, committing it unless discharge.Fail is
// set.
func (tc *TransactionController) Discharge(ctx context.Context, discharge TransactionDischarge, _ *DischargeOptions) error {
	return tc.sender.Send(ctx, &Message{Value: discharge}, nil)
}

// Close detaches the coordinator link.
func (tc *TransactionController) Close(ctx context.Context) error {
	return tc.sender.Close(ctx)
}
