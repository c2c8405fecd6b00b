package generator

import (
	"fmt"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/utxo"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// Summary aggregates statistics over a generator run. It is valid after the
// run completes and reflects partial progress if the run ended in an error.
type Summary struct {
	Network      config.NetworkID
	UTXOs        int
	Transactions int
	Fees         uint64

	// FinalAmount is the payment carried by the final transaction; zero for
	// sweeps until the run completes.
	FinalAmount        uint64
	FinalTransactionID types.TransactionID
}

func (s *Summary) String() string {
	return fmt.Sprintf("summary: %d utxos in %d transactions, fees %s, final amount %s",
		s.UTXOs, s.Transactions, utxo.FormatQSR(s.Fees), utxo.FormatQSR(s.FinalAmount))
}
