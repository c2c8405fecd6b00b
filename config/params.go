// Package config handles wallet engine configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: per-network consensus and maturity parameters, immutable
//   - Node settings: runtime configuration, can vary per deployment
package config

import "fmt"

// NetworkID identifies a Quasar network.
type NetworkID string

const (
	Mainnet NetworkID = "mainnet"
	Testnet NetworkID = "testnet"
	Simnet  NetworkID = "simnet"
	Devnet  NetworkID = "devnet"
)

// Monetary constants, denominated in photon (the base unit).
const (
	// PhotonPerQuasar is the number of base units in one QSR.
	PhotonPerQuasar = 100_000_000

	// MaxPhoton is the maximum possible photon supply.
	MaxPhoton = 29_000_000_000 * PhotonPerQuasar
)

// ConsensusParams holds the mass and fee rules enforced by the network.
// These must match the node the wallet talks to.
type ConsensusParams struct {
	// MassPerTxByte is the mass weight of one serialized transaction byte.
	MassPerTxByte uint64

	// MassPerScriptPubKeyByte is the mass weight of one script public key byte.
	MassPerScriptPubKeyByte uint64

	// MassPerSigOp is the mass weight of one signature operation.
	MassPerSigOp uint64

	// StorageMassParameter is the constant C in the storage mass formula.
	StorageMassParameter uint64

	// MaximumStandardTransactionMass is the relay ceiling for a single
	// transaction, in grams.
	MaximumStandardTransactionMass uint64

	// MinimumRelayTransactionFee is the fee floor in photon per 1000 grams.
	MinimumRelayTransactionFee uint64
}

// Params holds all per-network parameters the wallet engine needs.
type Params struct {
	Network       NetworkID
	AddressPrefix string

	Consensus ConsensusParams

	// CoinbaseMaturityPeriodDAA is the DAA score distance after which a
	// coinbase output becomes spendable.
	CoinbaseMaturityPeriodDAA uint64

	// CoinbaseStasisPeriodDAA is the initial DAA score distance during which
	// a coinbase output is held in stasis and excluded from balances.
	CoinbaseStasisPeriodDAA uint64

	// UserTransactionMaturityPeriodDAA is the DAA score distance after which
	// a regular output becomes spendable.
	UserTransactionMaturityPeriodDAA uint64

	// AdditionalCompoundTransactionMass is extra mass headroom reserved per
	// generated compound transaction.
	AdditionalCompoundTransactionMass uint64
}

// defaultConsensus is shared by every network; mass rules do not differ
// between Quasar networks.
var defaultConsensus = ConsensusParams{
	MassPerTxByte:                  1,
	MassPerScriptPubKeyByte:        10,
	MassPerSigOp:                   1000,
	StorageMassParameter:           1_000_000_000_000,
	MaximumStandardTransactionMass: 100_000,
	MinimumRelayTransactionFee:     1000,
}

var mainnetParams = Params{
	Network:                           Mainnet,
	AddressPrefix:                     "quasar",
	Consensus:                         defaultConsensus,
	CoinbaseMaturityPeriodDAA:         100,
	CoinbaseStasisPeriodDAA:           50,
	UserTransactionMaturityPeriodDAA:  10,
	AdditionalCompoundTransactionMass: 0,
}

var testnetParams = Params{
	Network:                           Testnet,
	AddressPrefix:                     "quasartest",
	Consensus:                         defaultConsensus,
	CoinbaseMaturityPeriodDAA:         1000,
	CoinbaseStasisPeriodDAA:           500,
	UserTransactionMaturityPeriodDAA:  100,
	AdditionalCompoundTransactionMass: 100,
}

var simnetParams = Params{
	Network:                           Simnet,
	AddressPrefix:                     "quasarsim",
	Consensus:                         defaultConsensus,
	CoinbaseMaturityPeriodDAA:         100,
	CoinbaseStasisPeriodDAA:           50,
	UserTransactionMaturityPeriodDAA:  10,
	AdditionalCompoundTransactionMass: 0,
}

var devnetParams = Params{
	Network:                           Devnet,
	AddressPrefix:                     "quasardev",
	Consensus:                         defaultConsensus,
	CoinbaseMaturityPeriodDAA:         100,
	CoinbaseStasisPeriodDAA:           50,
	UserTransactionMaturityPeriodDAA:  10,
	AdditionalCompoundTransactionMass: 0,
}

// ForNetwork returns the parameters of the given network.
func ForNetwork(network NetworkID) (*Params, error) {
	switch network {
	case Mainnet:
		return &mainnetParams, nil
	case Testnet:
		return &testnetParams, nil
	case Simnet:
		return &simnetParams, nil
	case Devnet:
		return &devnetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// Validate checks the parameters for internal consistency.
func (p *Params) Validate() error {
	if p.AddressPrefix == "" {
		return fmt.Errorf("network %s: empty address prefix", p.Network)
	}
	if p.Consensus.MaximumStandardTransactionMass == 0 {
		return fmt.Errorf("network %s: zero standard transaction mass limit", p.Network)
	}
	if p.Consensus.StorageMassParameter == 0 {
		return fmt.Errorf("network %s: zero storage mass parameter", p.Network)
	}
	if p.CoinbaseStasisPeriodDAA >= p.CoinbaseMaturityPeriodDAA {
		return fmt.Errorf("network %s: stasis period %d must be below coinbase maturity %d",
			p.Network, p.CoinbaseStasisPeriodDAA, p.CoinbaseMaturityPeriodDAA)
	}
	if p.UserTransactionMaturityPeriodDAA == 0 {
		return fmt.Errorf("network %s: zero user maturity period", p.Network)
	}
	return nil
}
