package generator

import (
	"errors"
	"testing"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/utxo"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

func mainnetParams(t *testing.T) *config.Params {
	t.Helper()
	params, err := config.ForNetwork(config.Mainnet)
	if err != nil {
		t.Fatalf("ForNetwork: %v", err)
	}
	return params
}

func testAddress(t *testing.T, fill byte) *types.Address {
	t.Helper()
	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = fill
	}
	addr, err := types.NewAddress("quasar", types.AddressVersionPubKey, payload)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	return addr
}

// testEntry builds a mature entry owned by the address derived from fill,
// with an outpoint unique per (fill, index).
func testEntry(t *testing.T, fill byte, index uint32, amount uint64) *utxo.EntryReference {
	t.Helper()
	addr := testAddress(t, fill)
	spk, err := types.PayToAddressScript(addr)
	if err != nil {
		t.Fatalf("PayToAddressScript: %v", err)
	}
	return &utxo.EntryReference{
		Outpoint: types.Outpoint{TxID: types.Hash{fill, byte(index), byte(index >> 8)}, Index: index},
		Address:  addr,
		Entry: utxo.Entry{
			Amount:          amount,
			ScriptPublicKey: spk,
			BlockDAAScore:   900,
		},
	}
}

func checkConservation(t *testing.T, p *PendingTransaction) {
	t.Helper()
	if got := p.AggregateOutputAmount + p.FeeAmount; got != p.AggregateInputAmount {
		t.Errorf("inputs %d != outputs %d + fee %d", p.AggregateInputAmount, p.AggregateOutputAmount, p.FeeAmount)
	}
	var outSum uint64
	for _, out := range p.Transaction.Outputs {
		outSum += out.Value
	}
	if outSum != p.AggregateOutputAmount {
		t.Errorf("transaction outputs sum to %d, pending reports %d", outSum, p.AggregateOutputAmount)
	}
}

// drain runs the generator to completion and returns the emitted plan.
func drain(t *testing.T, g *Generator) []*PendingTransaction {
	t.Helper()
	var plan []*PendingTransaction
	for {
		pending, err := g.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if pending == nil {
			return plan
		}
		plan = append(plan, pending)
	}
}

func TestGenerator_SinglePayment(t *testing.T) {
	params := mainnetParams(t)
	source := NewStaticSource([]*utxo.EntryReference{testEntry(t, 1, 0, 1_000_000_000)})

	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
		Outputs:       []PaymentOutput{{Address: testAddress(t, 2), Amount: 300_000_000}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := drain(t, g)
	if len(plan) != 1 {
		t.Fatalf("got %d transactions, want 1", len(plan))
	}
	p := plan[0]
	if !p.IsFinal {
		t.Error("single payment transaction should be final")
	}
	if p.PaymentAmount != 300_000_000 {
		t.Errorf("payment %d, want 300000000", p.PaymentAmount)
	}
	if p.AggregateInputAmount != 1_000_000_000 {
		t.Errorf("aggregate input %d, want 1000000000", p.AggregateInputAmount)
	}
	if p.FeeAmount == 0 || p.FeeAmount > 10_000 {
		t.Errorf("fee %d out of expected range", p.FeeAmount)
	}
	if want := uint64(1_000_000_000) - 300_000_000 - p.FeeAmount; p.ChangeAmount != want {
		t.Errorf("change %d, want %d", p.ChangeAmount, want)
	}
	if len(p.Transaction.Outputs) != 2 {
		t.Fatalf("got %d outputs, want payment and change", len(p.Transaction.Outputs))
	}
	if p.Transaction.Outputs[0].Value != 300_000_000 {
		t.Errorf("payment output carries %d", p.Transaction.Outputs[0].Value)
	}
	if p.Transaction.Outputs[1].Value != p.ChangeAmount {
		t.Errorf("change output carries %d, want %d", p.Transaction.Outputs[1].Value, p.ChangeAmount)
	}
	checkConservation(t, p)

	if remaining := source.MatureEntries(); len(remaining) != 0 {
		t.Errorf("%d entries still in source, want all reserved", len(remaining))
	}
	summary := g.Summary()
	if summary.Transactions != 1 || summary.UTXOs != 1 {
		t.Errorf("summary %d txs / %d utxos, want 1/1", summary.Transactions, summary.UTXOs)
	}
	if summary.FinalAmount != 300_000_000 {
		t.Errorf("summary final amount %d", summary.FinalAmount)
	}
	if summary.FinalTransactionID != p.Transaction.ID() {
		t.Error("summary final transaction id mismatch")
	}
}

func TestGenerator_SenderPaysPriorityFee(t *testing.T) {
	params := mainnetParams(t)
	source := NewStaticSource([]*utxo.EntryReference{testEntry(t, 1, 0, 1_000_000_000)})

	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
		Outputs:       []PaymentOutput{{Address: testAddress(t, 2), Amount: 300_000_000}},
		PriorityFee:   Fees{Source: SenderPays, Amount: 5000},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := drain(t, g)
	if len(plan) != 1 {
		t.Fatalf("got %d transactions, want 1", len(plan))
	}
	p := plan[0]
	if p.PaymentAmount != 300_000_000 {
		t.Errorf("payment %d, want full requested amount", p.PaymentAmount)
	}
	if p.FeeAmount <= 5000 {
		t.Errorf("fee %d should exceed the priority component", p.FeeAmount)
	}
	checkConservation(t, p)
}

func TestGenerator_ReceiverPays(t *testing.T) {
	params := mainnetParams(t)
	source := NewStaticSource([]*utxo.EntryReference{testEntry(t, 1, 0, 1_000_000_000)})

	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
		Outputs:       []PaymentOutput{{Address: testAddress(t, 2), Amount: 1_000_000_000}},
		PriorityFee:   Fees{Source: ReceiverPays, Amount: 5000},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := drain(t, g)
	if len(plan) != 1 {
		t.Fatalf("got %d transactions, want 1", len(plan))
	}
	p := plan[0]
	if len(p.Transaction.Outputs) != 1 {
		t.Fatalf("got %d outputs, want just the adjusted payment", len(p.Transaction.Outputs))
	}
	if p.FeeAmount <= 5000 {
		t.Errorf("fee %d should exceed the priority component", p.FeeAmount)
	}
	if want := uint64(1_000_000_000) - p.FeeAmount; p.Transaction.Outputs[0].Value != want {
		t.Errorf("adjusted payment %d, want %d", p.Transaction.Outputs[0].Value, want)
	}
	if p.PaymentAmount != p.Transaction.Outputs[0].Value {
		t.Errorf("pending payment %d disagrees with output %d", p.PaymentAmount, p.Transaction.Outputs[0].Value)
	}
	if p.ChangeAmount != 0 {
		t.Errorf("change %d, want 0 for a whole-balance send", p.ChangeAmount)
	}
	checkConservation(t, p)
}

func TestGenerator_DustChangeFoldsIntoFee(t *testing.T) {
	params := mainnetParams(t)
	source := NewStaticSource([]*utxo.EntryReference{testEntry(t, 1, 0, 1_000_000_000)})

	// The excess over the payment is below the dust threshold once the relay
	// fee is covered, so it all goes to the fee.
	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
		Outputs:       []PaymentOutput{{Address: testAddress(t, 2), Amount: 999_997_800}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := drain(t, g)
	if len(plan) != 1 {
		t.Fatalf("got %d transactions, want 1", len(plan))
	}
	p := plan[0]
	if p.ChangeAmount != 0 {
		t.Errorf("change %d, want 0", p.ChangeAmount)
	}
	if len(p.Transaction.Outputs) != 1 {
		t.Fatalf("got %d outputs, want payment only", len(p.Transaction.Outputs))
	}
	if want := uint64(1_000_000_000) - 999_997_800; p.FeeAmount != want {
		t.Errorf("fee %d, want the whole excess %d", p.FeeAmount, want)
	}
	checkConservation(t, p)
}

func TestGenerator_Sweep(t *testing.T) {
	params := mainnetParams(t)
	changeAddr := testAddress(t, 1)
	source := NewStaticSource([]*utxo.EntryReference{
		testEntry(t, 1, 0, 1_000_000_000),
		testEntry(t, 2, 0, 2_000_000_000),
		testEntry(t, 3, 0, 3_000_000_000),
	})

	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: changeAddr,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := drain(t, g)
	if len(plan) != 1 {
		t.Fatalf("got %d transactions, want 1", len(plan))
	}
	p := plan[0]
	if !p.IsFinal {
		t.Error("sweep transaction should be final")
	}
	if p.PaymentAmount != 0 {
		t.Errorf("payment %d, want 0 for a sweep", p.PaymentAmount)
	}
	if p.AggregateInputAmount != 6_000_000_000 {
		t.Errorf("aggregate input %d, want 6000000000", p.AggregateInputAmount)
	}
	if p.FeeAmount == 0 {
		t.Error("sweep fee should be non-zero")
	}
	if want := uint64(6_000_000_000) - p.FeeAmount; p.ChangeAmount != want {
		t.Errorf("change %d, want %d", p.ChangeAmount, want)
	}
	if len(p.Transaction.Outputs) != 1 {
		t.Fatalf("got %d outputs, want a single change output", len(p.Transaction.Outputs))
	}
	changeSPK, err := types.PayToAddressScript(changeAddr)
	if err != nil {
		t.Fatalf("PayToAddressScript: %v", err)
	}
	if string(p.Transaction.Outputs[0].ScriptPublicKey.Script) != string(changeSPK.Script) {
		t.Error("sweep output does not pay the change address")
	}
	checkConservation(t, p)

	if summary := g.Summary(); summary.FinalAmount != p.ChangeAmount {
		t.Errorf("summary final amount %d, want %d", summary.FinalAmount, p.ChangeAmount)
	}
}

func TestGenerator_SweepBelowDustIsNoOp(t *testing.T) {
	params := mainnetParams(t)
	source := NewStaticSource([]*utxo.EntryReference{testEntry(t, 1, 0, 1500)})

	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pending, err := g.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pending != nil {
		t.Fatal("sweeping dust should produce no transaction")
	}
	if summary := g.Summary(); summary.Transactions != 0 {
		t.Errorf("summary reports %d transactions, want 0", summary.Transactions)
	}
	if remaining := source.MatureEntries(); len(remaining) != 1 {
		t.Errorf("%d entries left in source, want the untouched 1", len(remaining))
	}
}

func TestGenerator_InsufficientFunds(t *testing.T) {
	params := mainnetParams(t)
	source := NewStaticSource([]*utxo.EntryReference{
		testEntry(t, 1, 0, 100_000_000),
		testEntry(t, 2, 0, 100_000_000),
	})

	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
		Outputs:       []PaymentOutput{{Address: testAddress(t, 2), Amount: 1_000_000_000}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := g.Next(); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Next: %v, want ErrInsufficientFunds", err)
	}
	// The error is terminal.
	if _, err := g.Next(); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("second Next: %v, want the same terminal error", err)
	}
	if remaining := source.MatureEntries(); len(remaining) != 2 {
		t.Errorf("%d entries left in source, want 2 (nothing reserved)", len(remaining))
	}
}

func TestGenerator_Chaining(t *testing.T) {
	params := mainnetParams(t)
	refs := make([]*utxo.EntryReference, 100)
	for i := range refs {
		refs[i] = testEntry(t, 1, uint32(i), 100_000_000)
	}
	source := NewStaticSource(refs)

	const payment = 9_500_000_000
	g, err := New(&Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
		Outputs:       []PaymentOutput{{Address: testAddress(t, 2), Amount: payment}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := drain(t, g)
	if len(plan) < 2 {
		t.Fatalf("got %d transactions, want a chain of at least 2", len(plan))
	}

	var fees, realIn uint64
	realUsed := 0
	for i, p := range plan {
		checkConservation(t, p)
		fees += p.FeeAmount
		for _, ref := range p.Entries() {
			if ref.Entry.BlockDAAScore != utxo.UnacceptedDAAScore {
				realIn += ref.Entry.Amount
				realUsed++
			}
		}

		if i == len(plan)-1 {
			if !p.IsFinal {
				t.Error("last transaction should be final")
			}
			if p.PaymentAmount != payment {
				t.Errorf("final payment %d, want %d", p.PaymentAmount, payment)
			}
			continue
		}

		if p.IsFinal {
			t.Errorf("transaction %d marked final mid-chain", i)
		}
		if len(p.Transaction.Outputs) != 1 {
			t.Errorf("compound transaction %d has %d outputs, want 1", i, len(p.Transaction.Outputs))
		}
		// The next link must consume this link's change.
		next := plan[i+1]
		found := false
		for _, in := range next.Transaction.Inputs {
			if in.PreviousOutpoint.TxID == p.Transaction.ID() && in.PreviousOutpoint.Index == 0 {
				found = true
			}
		}
		if !found {
			t.Errorf("transaction %d does not spend the change of transaction %d", i+1, i)
		}
	}

	final := plan[len(plan)-1]
	if realIn != payment+final.ChangeAmount+fees {
		t.Errorf("real inputs %d != payment %d + change %d + fees %d",
			realIn, uint64(payment), final.ChangeAmount, fees)
	}
	if remaining := source.MatureEntries(); len(remaining) != 100-realUsed {
		t.Errorf("%d entries left in source, want %d", len(remaining), 100-realUsed)
	}
}

func TestGenerator_EstimateMatchesRun(t *testing.T) {
	params := mainnetParams(t)
	refs := make([]*utxo.EntryReference, 100)
	for i := range refs {
		refs[i] = testEntry(t, 1, uint32(i), 100_000_000)
	}
	source := NewStaticSource(refs)

	settings := &Settings{
		Params:        params,
		Source:        source,
		ChangeAddress: testAddress(t, 1),
		Outputs:       []PaymentOutput{{Address: testAddress(t, 2), Amount: 9_500_000_000}},
	}

	estimate, err := Estimate(settings)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if len(source.MatureEntries()) != 100 {
		t.Fatal("estimation reserved entries")
	}

	g, err := New(settings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drain(t, g)
	run := g.Summary()

	if estimate.Transactions != run.Transactions {
		t.Errorf("estimated %d transactions, run produced %d", estimate.Transactions, run.Transactions)
	}
	if estimate.UTXOs != run.UTXOs {
		t.Errorf("estimated %d utxos, run used %d", estimate.UTXOs, run.UTXOs)
	}
	if estimate.Fees != run.Fees {
		t.Errorf("estimated fees %d, run paid %d", estimate.Fees, run.Fees)
	}
	if estimate.FinalAmount != run.FinalAmount {
		t.Errorf("estimated final amount %d, run delivered %d", estimate.FinalAmount, run.FinalAmount)
	}
	if estimate.FinalTransactionID != run.FinalTransactionID {
		t.Error("estimate and run disagree on the final transaction id")
	}
}

func TestGenerator_PriorityEntriesFirst(t *testing.T) {
	params := mainnetParams(t)
	small := testEntry(t, 1, 0, 100_000_000)
	large := testEntry(t, 2, 0, 200_000_000)
	source := NewStaticSource([]*utxo.EntryReference{small, large})

	// Ascending selection would pick the small entry first; the priority list
	// overrides that.
	g, err := New(&Settings{
		Params:          params,
		Source:          source,
		PriorityEntries: []*utxo.EntryReference{large},
		ChangeAddress:   testAddress(t, 1),
		Outputs:         []PaymentOutput{{Address: testAddress(t, 3), Amount: 150_000_000}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := drain(t, g)
	if len(plan) != 1 {
		t.Fatalf("got %d transactions, want 1", len(plan))
	}
	p := plan[0]
	if len(p.Transaction.Inputs) != 1 {
		t.Fatalf("got %d inputs, want the priority entry alone", len(p.Transaction.Inputs))
	}
	if p.Transaction.Inputs[0].PreviousOutpoint != large.Outpoint {
		t.Error("priority entry was not selected first")
	}
}

func TestGenerator_ContextSourceReserves(t *testing.T) {
	params := mainnetParams(t)
	ctx := utxo.NewContext(params, nil)
	ctx.UpdateDAAScore(1000)

	addr := testAddress(t, 7)
	ctx.RegisterAddresses([]*types.Address{addr})
	ref := testEntry(t, 7, 0, 1_000_000_000)
	ctx.InsertEntry(ref, false)

	if bal := ctx.Balance(); bal.Mature != 1_000_000_000 {
		t.Fatalf("mature balance %d before run", bal.Mature)
	}

	g, err := New(&Settings{
		Params:        params,
		Source:        ctx,
		ChangeAddress: addr,
		Outputs:       []PaymentOutput{{Address: testAddress(t, 8), Amount: 300_000_000}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	plan := drain(t, g)
	if len(plan) != 1 {
		t.Fatalf("got %d transactions, want 1", len(plan))
	}

	bal := ctx.Balance()
	if bal.Mature != 0 {
		t.Errorf("mature balance %d after reservation, want 0", bal.Mature)
	}
	if bal.Outgoing != 1_000_000_000 {
		t.Errorf("outgoing balance %d, want the full reserved input", bal.Outgoing)
	}
	if ctx.OutgoingCount() != 1 {
		t.Errorf("outgoing count %d, want 1", ctx.OutgoingCount())
	}
}

func TestEstimate_LeavesContextUntouched(t *testing.T) {
	params := mainnetParams(t)
	ctx := utxo.NewContext(params, nil)
	ctx.UpdateDAAScore(1000)

	addr := testAddress(t, 7)
	ctx.RegisterAddresses([]*types.Address{addr})
	ctx.InsertEntry(testEntry(t, 7, 0, 1_000_000_000), false)
	before := ctx.Balance()

	summary, err := Estimate(&Settings{
		Params:        params,
		Source:        ctx,
		ChangeAddress: addr,
		Outputs:       []PaymentOutput{{Address: testAddress(t, 8), Amount: 300_000_000}},
	})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if summary.Transactions != 1 {
		t.Errorf("estimated %d transactions, want 1", summary.Transactions)
	}

	after := ctx.Balance()
	if after != before {
		t.Errorf("balance changed by estimation: %+v -> %+v", before, after)
	}
	if ctx.OutgoingCount() != 0 {
		t.Errorf("outgoing count %d after estimation, want 0", ctx.OutgoingCount())
	}
}

func TestGenerator_Validation(t *testing.T) {
	params := mainnetParams(t)
	source := NewStaticSource([]*utxo.EntryReference{testEntry(t, 1, 0, 1_000_000_000)})
	change := testAddress(t, 1)
	dest := testAddress(t, 2)

	foreignPayload := make([]byte, 32)
	foreign, err := types.NewAddress("quasartest", types.AddressVersionPubKey, foreignPayload)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}

	cases := []struct {
		name     string
		settings Settings
		sentinel error
	}{
		{
			name:     "nil change address",
			settings: Settings{Params: params, Source: source, Outputs: []PaymentOutput{{Address: dest, Amount: 1000}}},
		},
		{
			name:     "foreign change address",
			settings: Settings{Params: params, Source: source, ChangeAddress: foreign},
		},
		{
			name: "foreign payment address",
			settings: Settings{Params: params, Source: source, ChangeAddress: change,
				Outputs: []PaymentOutput{{Address: foreign, Amount: 100_000_000}}},
		},
		{
			name: "zero amount output",
			settings: Settings{Params: params, Source: source, ChangeAddress: change,
				Outputs: []PaymentOutput{{Address: dest, Amount: 0}}},
		},
		{
			name: "fee amount without source",
			settings: Settings{Params: params, Source: source, ChangeAddress: change,
				Outputs:     []PaymentOutput{{Address: dest, Amount: 100_000_000}},
				PriorityFee: Fees{Source: FeesNone, Amount: 100}},
		},
		{
			name: "receiver pays with two outputs",
			settings: Settings{Params: params, Source: source, ChangeAddress: change,
				Outputs: []PaymentOutput{
					{Address: dest, Amount: 100_000_000},
					{Address: dest, Amount: 100_000_000},
				},
				PriorityFee: Fees{Source: ReceiverPays, Amount: 100}},
		},
		{
			name: "sweep with priority fee",
			settings: Settings{Params: params, Source: source, ChangeAddress: change,
				PriorityFee: Fees{Source: SenderPays, Amount: 100}},
		},
		{
			name: "dust payment output",
			settings: Settings{Params: params, Source: source, ChangeAddress: change,
				Outputs: []PaymentOutput{{Address: dest, Amount: 500}}},
			sentinel: ErrDustOutput,
		},
		{
			name: "oversized payload",
			settings: Settings{Params: params, Source: source, ChangeAddress: change,
				Outputs: []PaymentOutput{{Address: dest, Amount: 100_000_000}},
				Payload: make([]byte, 70_000)},
			sentinel: ErrMassExceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&tc.settings)
			if err == nil {
				t.Fatal("New accepted invalid settings")
			}
			if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
				t.Fatalf("got %v, want %v", err, tc.sentinel)
			}
		})
	}
}
