// Package generator turns funding requests into chains of valid
// transactions.
//
// A generator pulls spendable entries from its source smallest-first and
// accumulates them until the requested outputs are funded. When the mass
// ceiling is reached before funding is met it closes a compound transaction
// whose single change output feeds the next link of the chain, so a payment
// plan can aggregate more value than one transaction may carry.
package generator

import (
	"errors"
	"fmt"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/utxo"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// Errors reported by generator construction and runs.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMassExceeded      = errors.New("requested outputs exceed the standard transaction mass")
	ErrDustOutput        = errors.New("output amount is dust")
)

// FeeSource says who carries the priority fee.
type FeeSource int

const (
	// FeesNone requests no priority fee.
	FeesNone FeeSource = iota
	// SenderPays adds the fee on top of the payment, deducted from change.
	SenderPays
	// ReceiverPays deducts the fee from the single payment output.
	ReceiverPays
)

// Fees is a priority fee on top of the computed minimum relay fee.
type Fees struct {
	Source FeeSource
	Amount uint64
}

// PaymentOutput is one requested payment.
type PaymentOutput struct {
	Address *types.Address
	Amount  uint64
}

// Source supplies spendable entries and tracks reservations. utxo.Context
// satisfies it; StaticSource adapts a bare entry list.
type Source interface {
	MatureEntries() []*utxo.EntryReference
	ReserveEntries(out *utxo.OutgoingTransaction) error
	RegisterOutgoing(id types.TransactionID) error
	CancelOutgoing(id types.TransactionID) error
}

// Settings describes one generator run.
type Settings struct {
	Params *config.Params
	Source Source

	// PriorityEntries are spent before anything else from the source.
	PriorityEntries []*utxo.EntryReference

	ChangeAddress *types.Address

	// Outputs are the requested payments. nil means sweep everything to the
	// change address.
	Outputs []PaymentOutput

	Payload     []byte
	PriorityFee Fees

	// SigOpCount per input; zero defaults to one.
	SigOpCount uint8

	// MinimumSignatures sizes the signature mass estimate for multisig
	// inputs; zero defaults to one.
	MinimumSignatures uint16
}

// validate checks the settings for construction-time errors.
func (s *Settings) validate() error {
	if s.Params == nil {
		return errors.New("nil network parameters")
	}
	if s.Source == nil {
		return errors.New("nil utxo source")
	}
	if s.ChangeAddress == nil {
		return errors.New("nil change address")
	}
	if s.ChangeAddress.Prefix != s.Params.AddressPrefix {
		return fmt.Errorf("change address %s does not belong to network %s",
			s.ChangeAddress, s.Params.Network)
	}
	for i, out := range s.Outputs {
		if out.Address == nil {
			return fmt.Errorf("output %d: nil address", i)
		}
		if out.Address.Prefix != s.Params.AddressPrefix {
			return fmt.Errorf("output %d: address %s does not belong to network %s",
				i, out.Address, s.Params.Network)
		}
		if out.Amount == 0 {
			return fmt.Errorf("output %d: zero amount", i)
		}
	}
	if s.PriorityFee.Source == FeesNone && s.PriorityFee.Amount > 0 {
		return errors.New("priority fee amount set without a fee source")
	}
	if s.PriorityFee.Source == ReceiverPays && len(s.Outputs) != 1 {
		return fmt.Errorf("receiver-pays fees require exactly one output, got %d", len(s.Outputs))
	}
	if len(s.Outputs) == 0 && s.PriorityFee.Amount > 0 {
		return errors.New("sweep transactions cannot carry a priority fee")
	}
	return nil
}

// StaticSource serves a fixed entry list without context bookkeeping.
// Reservation exclusivity is the caller's responsibility.
type StaticSource struct {
	set      *utxo.EntrySet
	reserved []*utxo.OutgoingTransaction
}

// NewStaticSource creates a source over the given entries.
func NewStaticSource(refs []*utxo.EntryReference) *StaticSource {
	return &StaticSource{set: utxo.NewEntrySetOf(refs)}
}

// MatureEntries returns all remaining entries in ascending amount order.
func (s *StaticSource) MatureEntries() []*utxo.EntryReference {
	return s.set.Snapshot()
}

// ReserveEntries removes the outgoing transaction's entries from the set.
func (s *StaticSource) ReserveEntries(out *utxo.OutgoingTransaction) error {
	for _, ref := range out.Entries {
		if !s.set.Contains(ref.Outpoint) {
			return fmt.Errorf("reserve %s: entry not available", ref.Outpoint)
		}
	}
	for _, ref := range out.Entries {
		s.set.Remove(ref.Outpoint)
	}
	s.reserved = append(s.reserved, out)
	return nil
}

// RegisterOutgoing is a no-op for static sources.
func (s *StaticSource) RegisterOutgoing(id types.TransactionID) error {
	return nil
}

// CancelOutgoing returns a reservation's entries to the set.
func (s *StaticSource) CancelOutgoing(id types.TransactionID) error {
	for i, out := range s.reserved {
		if out.ID != id {
			continue
		}
		for _, ref := range out.Entries {
			s.set.Insert(ref)
		}
		s.reserved = append(s.reserved[:i], s.reserved[i+1:]...)
		return nil
	}
	return fmt.Errorf("cancel %s: %w", id, utxo.ErrUnknownOutgoing)
}
