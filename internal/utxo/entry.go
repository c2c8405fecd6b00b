// Package utxo tracks unspent outputs for a set of wallet addresses.
//
// Entries move through a small state machine driven by node notifications:
// stasis (fresh coinbase) and pending (below the maturity window) entries
// become mature as the virtual DAA score advances; mature entries are the
// only ones a generator may spend. Entries reserved by an in-flight
// transaction live in an outgoing overlay until the node confirms the spend
// or the submission is cancelled.
package utxo

import (
	"math"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// UnacceptedDAAScore marks a synthetic entry: change produced by a chained
// transaction the node has not reported yet. Such entries stay pending until
// observed on the network.
const UnacceptedDAAScore = uint64(math.MaxUint64)

// Entry is one unspent output as reported by the node. Immutable once
// observed.
type Entry struct {
	Amount          uint64
	ScriptPublicKey *types.ScriptPublicKey
	BlockDAAScore   uint64
	IsCoinbase      bool
}

// EntryReference ties an Entry to the outpoint that identifies it and the
// tracked address that owns it. The outpoint is the dedup and ownership key
// everywhere; a reference has exactly one owner at a time.
type EntryReference struct {
	Outpoint types.Outpoint
	Address  *types.Address
	Entry    Entry

	// demotedDAAScore is set when a reorg demotes a mature entry back to
	// pending; the entry then re-ages from this score instead of its
	// original block score.
	demotedDAAScore uint64
}

// MaturityState classifies an entry against the current virtual DAA score.
type MaturityState int

const (
	// StateStasis is a fresh coinbase output, excluded from balances.
	StateStasis MaturityState = iota
	// StatePending is an observed output below its maturity window.
	StatePending
	// StateMature is a spendable output.
	StateMature
)

func (s MaturityState) String() string {
	switch s {
	case StateStasis:
		return "stasis"
	case StatePending:
		return "pending"
	case StateMature:
		return "mature"
	default:
		return "unknown"
	}
}

// Maturity returns the entry's state at the given virtual DAA score.
// Coinbase outputs pass through stasis before the regular pending window;
// synthetic entries never mature.
func (r *EntryReference) Maturity(params *config.Params, virtualDAAScore uint64) MaturityState {
	if r.Entry.BlockDAAScore == UnacceptedDAAScore {
		return StatePending
	}
	birthScore := r.Entry.BlockDAAScore
	if r.demotedDAAScore > birthScore {
		birthScore = r.demotedDAAScore
	}
	if birthScore > virtualDAAScore {
		if r.Entry.IsCoinbase {
			return StateStasis
		}
		return StatePending
	}
	age := virtualDAAScore - birthScore
	if r.Entry.IsCoinbase {
		switch {
		case age < params.CoinbaseStasisPeriodDAA:
			return StateStasis
		case age < params.CoinbaseMaturityPeriodDAA:
			return StatePending
		default:
			return StateMature
		}
	}
	if age < params.UserTransactionMaturityPeriodDAA {
		return StatePending
	}
	return StateMature
}
