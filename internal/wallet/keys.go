package wallet

import (
	"fmt"

	"github.com/quasar-dag/quasar-wallet/pkg/crypto"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// AccountKey pairs a stored account with its derived signer and address.
type AccountKey struct {
	Entry   AccountEntry
	Key     *crypto.PrivateKey
	Address *types.Address
}

// DeriveAccountKeys derives a signer and address for every stored account of
// a wallet, all under BIP-44 account 0. The caller should Zero the keys when
// done with them.
func DeriveAccountKeys(seed []byte, prefix string, accounts []AccountEntry) ([]AccountKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	keys := make([]AccountKey, 0, len(accounts))
	for _, acct := range accounts {
		change, index := acct.Derivation()
		hd, err := master.DeriveAddress(0, change, index)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct.Name, err)
		}
		signer, err := hd.Signer()
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct.Name, err)
		}
		addr, err := hd.Address(prefix)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct.Name, err)
		}
		keys = append(keys, AccountKey{Entry: acct, Key: signer, Address: addr})
	}
	return keys, nil
}
