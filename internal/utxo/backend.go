package utxo

import (
	"fmt"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/rpcclient"
	"github.com/quasar-dag/quasar-wallet/pkg/tx"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// Backend is the node RPC surface the UTXO layer depends on. It is satisfied
// by rpcclient.Client; tests substitute in-memory fakes.
type Backend interface {
	GetUtxosByAddresses(addresses []string) ([]rpcclient.UtxoEntry, error)
	GetVirtualDAAScore() (uint64, error)
	SubmitTransaction(transaction *tx.Transaction, allowOrphan bool) (types.TransactionID, error)
}

// entryFromRPC converts a wire UTXO into an owned entry reference, resolving
// the owning address against the network prefix.
func entryFromRPC(params *config.Params, wire *rpcclient.UtxoEntry) (*EntryReference, error) {
	amount, err := wire.AmountValue()
	if err != nil {
		return nil, err
	}
	daaScore, err := wire.DAAScoreValue()
	if err != nil {
		return nil, err
	}
	address, err := types.ParseAddressForNetwork(wire.Address, params.AddressPrefix)
	if err != nil {
		return nil, fmt.Errorf("utxo %s: %w", wire.Outpoint, err)
	}

	spk := wire.ScriptPublicKey.Clone()
	return &EntryReference{
		Outpoint: wire.Outpoint,
		Address:  address,
		Entry: Entry{
			Amount:          amount,
			ScriptPublicKey: spk,
			BlockDAAScore:   daaScore,
			IsCoinbase:      wire.IsCoinbase,
		},
	}, nil
}
