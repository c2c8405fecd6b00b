package utxo

import (
	"fmt"
	"strings"

	"github.com/quasar-dag/quasar-wallet/config"
)

// Balance is a snapshot of a context's holdings in photon, partitioned by
// entry state. Mature + Pending + Outgoing equals the sum over every entry
// the context owns outside stasis.
type Balance struct {
	Mature   uint64
	Pending  uint64
	Outgoing uint64

	MatureUTXOCount  int
	PendingUTXOCount int
	StasisUTXOCount  int
}

// BalanceStrings is a Balance with amounts rendered in QSR.
type BalanceStrings struct {
	Mature   string
	Pending  string
	Outgoing string
}

// Strings renders the balance in QSR.
func (b Balance) Strings() BalanceStrings {
	return BalanceStrings{
		Mature:   FormatQSR(b.Mature),
		Pending:  FormatQSR(b.Pending),
		Outgoing: FormatQSR(b.Outgoing),
	}
}

// FormatQSR renders a photon amount as a decimal QSR string, trimming
// trailing fractional zeros.
func FormatQSR(photon uint64) string {
	whole := photon / config.PhotonPerQuasar
	frac := photon % config.PhotonPerQuasar
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := fmt.Sprintf("%d.%08d", whole, frac)
	return strings.TrimRight(s, "0")
}
