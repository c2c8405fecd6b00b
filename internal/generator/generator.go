package generator

import (
	"errors"
	"fmt"

	"github.com/quasar-dag/quasar-wallet/internal/log"
	"github.com/quasar-dag/quasar-wallet/internal/utxo"
	"github.com/quasar-dag/quasar-wallet/pkg/tx"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// feeIterationLimit bounds the fee/storage-mass fixed point. The loop
// normally stabilizes in two rounds.
const feeIterationLimit = 8

// Generator is the transaction chain state machine. Each Next call emits at
// most one pending transaction; a nil transaction with a nil error means the
// plan is complete. Errors are terminal.
type Generator struct {
	settings *Settings
	calc     *tx.MassCalculator

	changeSPK    *types.ScriptPublicKey
	payments     []*tx.Output
	paymentValue uint64

	massLimit        uint64
	fixedFinalMass   uint64
	changeOutputMass uint64
	perInputMass     uint64
	sigOpCount       uint8

	candidates []*utxo.EntryReference
	cursor     int
	stash      []*utxo.EntryReference
	used       map[types.Outpoint]bool

	estimateOnly bool
	finished     bool
	err          error

	summary Summary
}

// New creates a generator for one run of the given settings.
func New(settings *Settings) (*Generator, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	calc := tx.NewMassCalculator(settings.Params.Consensus)

	changeSPK, err := types.PayToAddressScript(settings.ChangeAddress)
	if err != nil {
		return nil, fmt.Errorf("change address: %w", err)
	}

	g := &Generator{
		settings:   settings,
		calc:       calc,
		changeSPK:  changeSPK,
		sigOpCount: settings.SigOpCount,
		used:       make(map[types.Outpoint]bool),
		summary:    Summary{Network: settings.Params.Network},
	}
	if g.sigOpCount == 0 {
		g.sigOpCount = 1
	}
	minimumSignatures := settings.MinimumSignatures
	if minimumSignatures == 0 {
		minimumSignatures = 1
	}

	for i, requested := range settings.Outputs {
		spk, err := types.PayToAddressScript(requested.Address)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		out := &tx.Output{Value: requested.Amount, ScriptPublicKey: spk}
		if calc.IsOutputDust(out) {
			return nil, fmt.Errorf("output %d (%s): %w", i, utxo.FormatQSR(requested.Amount), ErrDustOutput)
		}
		next := g.paymentValue + requested.Amount
		if next < g.paymentValue {
			return nil, fmt.Errorf("output %d: payment value overflows", i)
		}
		g.paymentValue = next
		g.payments = append(g.payments, out)
	}

	g.massLimit = settings.Params.Consensus.MaximumStandardTransactionMass -
		settings.Params.AdditionalCompoundTransactionMass
	g.fixedFinalMass = calc.BlankTransactionComputeMass() + calc.PayloadComputeMass(len(settings.Payload))
	for _, out := range g.payments {
		g.fixedFinalMass += calc.OutputComputeMass(out)
	}
	g.changeOutputMass = calc.OutputComputeMass(&tx.Output{ScriptPublicKey: changeSPK})

	// The fixed skeleton must leave room for inputs: cap it at two thirds of
	// the budget so at least a third remains for funding.
	if g.fixedFinalMass+g.changeOutputMass > g.massLimit/3*2 {
		return nil, fmt.Errorf("fixed outputs and payload mass %d: %w",
			g.fixedFinalMass+g.changeOutputMass, ErrMassExceeded)
	}

	inputTemplate := &tx.Input{Sequence: tx.MaximumSequence, SigOpCount: g.sigOpCount}
	g.perInputMass = calc.InputComputeMass(inputTemplate) + calc.SignatureComputeMass(minimumSignatures)

	g.candidates = append(g.candidates, settings.PriorityEntries...)
	priority := make(map[types.Outpoint]bool, len(settings.PriorityEntries))
	for _, ref := range settings.PriorityEntries {
		priority[ref.Outpoint] = true
	}
	for _, ref := range settings.Source.MatureEntries() {
		if !priority[ref.Outpoint] {
			g.candidates = append(g.candidates, ref)
		}
	}
	return g, nil
}

// Estimate runs the full selection and chaining logic without reserving
// entries or producing signable transactions, returning only the summary.
func Estimate(settings *Settings) (*Summary, error) {
	g, err := New(settings)
	if err != nil {
		return nil, err
	}
	g.estimateOnly = true
	for {
		pending, err := g.Next()
		if err != nil {
			return nil, err
		}
		if pending == nil {
			return g.Summary(), nil
		}
	}
}

// Summary returns the run statistics accumulated so far.
func (g *Generator) Summary() *Summary {
	s := g.summary
	return &s
}

// Next emits the next transaction of the plan, or (nil, nil) once the plan
// is satisfied. Any error is terminal for this generator.
func (g *Generator) Next() (*PendingTransaction, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.finished {
		return nil, nil
	}

	pending, err := g.step()
	if err != nil {
		g.err = err
		return nil, err
	}
	return pending, nil
}

func (g *Generator) step() (*PendingTransaction, error) {
	var selected []*utxo.EntryReference
	var aggregate, inputsMass uint64
	sweep := len(g.payments) == 0

	for {
		if !sweep && len(selected) > 0 {
			pending, funded, err := g.tryFinal(selected, aggregate, inputsMass)
			if err != nil {
				return nil, err
			}
			if funded {
				return pending, nil
			}
		}

		next := g.peek()
		if next == nil {
			if sweep {
				return g.finalizeSweep(selected, aggregate, inputsMass)
			}
			return nil, fmt.Errorf("need %s, have %s across %d entries: %w",
				utxo.FormatQSR(g.paymentValue), utxo.FormatQSR(aggregate), len(selected),
				ErrInsufficientFunds)
		}

		if g.fixedFinalMass+g.changeOutputMass+inputsMass+g.perInputMass > g.massLimit {
			if len(selected) == 0 {
				return nil, fmt.Errorf("a single input does not fit the mass budget: %w", ErrMassExceeded)
			}
			return g.emitCompound(selected, aggregate, inputsMass)
		}

		g.take(next)
		selected = append(selected, next)
		aggregate += next.Entry.Amount
		inputsMass += g.perInputMass
	}
}

// peek returns the next candidate without consuming it: synthetic chained
// change first, then priority entries, then the source in ascending amount
// order.
func (g *Generator) peek() *utxo.EntryReference {
	if len(g.stash) > 0 {
		return g.stash[0]
	}
	for g.cursor < len(g.candidates) {
		ref := g.candidates[g.cursor]
		if g.used[ref.Outpoint] {
			g.cursor++
			continue
		}
		return ref
	}
	return nil
}

func (g *Generator) take(ref *utxo.EntryReference) {
	if len(g.stash) > 0 && g.stash[0] == ref {
		g.stash = g.stash[1:]
		return
	}
	g.used[ref.Outpoint] = true
	g.cursor++
}

// inputOperands renders the selection for storage mass purposes.
func inputOperands(selected []*utxo.EntryReference) []tx.MassOperand {
	ops := make([]tx.MassOperand, len(selected))
	for i, ref := range selected {
		ops[i] = tx.MassOperand{
			Value:              ref.Entry.Amount,
			ScriptPublicKeyLen: len(ref.Entry.ScriptPublicKey.Script),
		}
	}
	return ops
}

// relayFee computes the combined-mass relay fee for the given compute mass
// and output shape.
func (g *Generator) relayFee(computeMass uint64, ins []tx.MassOperand, outs []tx.MassOperand) (fee, mass uint64, err error) {
	storageMass, err := g.calc.StorageMass(false, ins, outs)
	if err != nil {
		return 0, 0, err
	}
	mass = tx.CombineMass(computeMass, storageMass)
	if mass > g.massLimit {
		return 0, 0, fmt.Errorf("final mass %d exceeds budget %d: %w", mass, g.massLimit, ErrMassExceeded)
	}
	return g.calc.MinimumRequiredTransactionRelayFee(mass), mass, nil
}

// tryFinal attempts to close the plan with the current selection. It reports
// funded=false when more inputs are needed.
func (g *Generator) tryFinal(selected []*utxo.EntryReference, aggregate, inputsMass uint64) (*PendingTransaction, bool, error) {
	if g.settings.PriorityFee.Source == ReceiverPays {
		return g.tryFinalReceiverPays(selected, aggregate, inputsMass)
	}

	priority := uint64(0)
	if g.settings.PriorityFee.Source == SenderPays {
		priority = g.settings.PriorityFee.Amount
	}
	if aggregate < g.paymentValue {
		return nil, false, nil
	}
	available := aggregate - g.paymentValue

	ins := inputOperands(selected)
	paymentOps := make([]tx.MassOperand, len(g.payments))
	for i, out := range g.payments {
		paymentOps[i] = tx.OutputMassOperand(out)
	}

	withChangeMass := g.fixedFinalMass + g.changeOutputMass + inputsMass
	withoutChangeMass := g.fixedFinalMass + inputsMass

	// Fixed point between the fee and the change amount: the change value
	// feeds storage mass, which feeds the fee, which feeds the change.
	change := uint64(0)
	if base := g.calc.MinimumRequiredTransactionRelayFee(withChangeMass) + priority; available > base {
		change = available - base
	}
	var fee, mass uint64
	withChange := change > 0 && !g.calc.IsDustValue(change)
	for i := 0; i < feeIterationLimit; i++ {
		outs := paymentOps
		computeMass := withoutChangeMass
		if withChange {
			outs = append(append([]tx.MassOperand{}, paymentOps...),
				tx.MassOperand{Value: change, ScriptPublicKeyLen: len(g.changeSPK.Script)})
			computeMass = withChangeMass
		}
		relay, m, err := g.relayFee(computeMass, ins, outs)
		if withChange && (errors.Is(err, tx.ErrStorageMassIncomputable) || errors.Is(err, ErrMassExceeded)) {
			// The change output is too small to be storage-viable; fold it
			// into the fee instead.
			withChange = false
			change = 0
			continue
		}
		if err != nil {
			return nil, false, err
		}
		fee, mass = relay+priority, m

		if available < fee {
			return nil, false, nil // pull more inputs
		}
		newChange := available - fee
		if withChange && g.calc.IsDustValue(newChange) {
			// Dust change folds into the fee.
			withChange = false
			change = 0
			continue
		}
		if !withChange || newChange == change {
			change = newChange
			break
		}
		change = newChange
	}

	if withChange {
		change = available - fee
	} else {
		// All excess value goes to the fee.
		fee = available
		change = 0
	}

	pending, err := g.emit(selected, aggregate, g.paymentValue, change, fee, mass, g.payments, withChange, true)
	if err != nil {
		return nil, false, err
	}
	return pending, true, nil
}

// tryFinalReceiverPays closes a single-output plan where the fee is deducted
// from the payment itself.
func (g *Generator) tryFinalReceiverPays(selected []*utxo.EntryReference, aggregate, inputsMass uint64) (*PendingTransaction, bool, error) {
	if aggregate < g.paymentValue {
		return nil, false, nil
	}
	requested := g.paymentValue
	change := aggregate - requested

	ins := inputOperands(selected)
	withChange := change > 0 && !g.calc.IsDustValue(change)
	adjusted := requested
	var fee, mass uint64
	for i := 0; i < feeIterationLimit; i++ {
		outs := []tx.MassOperand{{Value: adjusted, ScriptPublicKeyLen: len(g.payments[0].ScriptPublicKey.Script)}}
		computeMass := g.fixedFinalMass + inputsMass
		if withChange {
			outs = append(outs, tx.MassOperand{Value: change, ScriptPublicKeyLen: len(g.changeSPK.Script)})
			computeMass += g.changeOutputMass
		}
		relay, m, err := g.relayFee(computeMass, ins, outs)
		if err != nil {
			return nil, false, err
		}
		fee, mass = relay+g.settings.PriorityFee.Amount, m

		if fee >= requested {
			return nil, false, fmt.Errorf("fee %s consumes the payment %s: %w",
				utxo.FormatQSR(fee), utxo.FormatQSR(requested), ErrDustOutput)
		}
		newAdjusted := requested - fee
		if newAdjusted == adjusted {
			break
		}
		adjusted = newAdjusted
	}
	if g.calc.IsDustValue(adjusted) {
		return nil, false, fmt.Errorf("payment after fees is %s: %w", utxo.FormatQSR(adjusted), ErrDustOutput)
	}

	payment := &tx.Output{Value: adjusted, ScriptPublicKey: g.payments[0].ScriptPublicKey}
	feeAmount := fee
	if !withChange {
		feeAmount = aggregate - adjusted
	}
	pending, err := g.emit(selected, aggregate, adjusted, change, feeAmount, mass,
		[]*tx.Output{payment}, withChange, true)
	if err != nil {
		return nil, false, err
	}
	return pending, true, nil
}

// emitCompound closes an intermediate chain link: all selected value flows
// to the change address minus the relay fee, and the resulting output is
// queued as a synthetic input for the next link.
func (g *Generator) emitCompound(selected []*utxo.EntryReference, aggregate, inputsMass uint64) (*PendingTransaction, error) {
	computeMass := g.calc.BlankTransactionComputeMass() + g.changeOutputMass + inputsMass
	ins := inputOperands(selected)

	change := uint64(0)
	if base := g.calc.MinimumRequiredTransactionRelayFee(computeMass); aggregate > base {
		change = aggregate - base
	}
	if change == 0 {
		return nil, fmt.Errorf("compound fee consumes all %s of input: %w",
			utxo.FormatQSR(aggregate), ErrInsufficientFunds)
	}
	var fee, mass uint64
	for i := 0; i < feeIterationLimit; i++ {
		outs := []tx.MassOperand{{Value: change, ScriptPublicKeyLen: len(g.changeSPK.Script)}}
		relay, m, err := g.relayFee(computeMass, ins, outs)
		if err != nil {
			return nil, err
		}
		fee, mass = relay, m
		if fee >= aggregate {
			return nil, fmt.Errorf("compound fee %s exceeds input %s: %w",
				utxo.FormatQSR(fee), utxo.FormatQSR(aggregate), ErrInsufficientFunds)
		}
		newChange := aggregate - fee
		if newChange == change {
			break
		}
		change = newChange
	}

	pending, err := g.emit(selected, aggregate, 0, change, fee, mass, nil, true, false)
	if err != nil {
		return nil, err
	}

	g.stash = append(g.stash, &utxo.EntryReference{
		Outpoint: types.Outpoint{TxID: pending.Transaction.ID(), Index: 0},
		Address:  g.settings.ChangeAddress,
		Entry: utxo.Entry{
			Amount:          change,
			ScriptPublicKey: g.changeSPK,
			BlockDAAScore:   utxo.UnacceptedDAAScore,
		},
	})
	log.Generator.Debug().Uint64("change", change).Uint64("mass", mass).
		Int("inputs", len(selected)).Msg("chained compound transaction")
	return pending, nil
}

// finalizeSweep closes a sweep once the source is drained. A sweep whose
// entire value would go to fees ends the run with no transaction.
func (g *Generator) finalizeSweep(selected []*utxo.EntryReference, aggregate, inputsMass uint64) (*PendingTransaction, error) {
	if len(selected) == 0 {
		return nil, fmt.Errorf("no spendable entries: %w", ErrInsufficientFunds)
	}

	computeMass := g.fixedFinalMass + g.changeOutputMass + inputsMass
	ins := inputOperands(selected)

	change := uint64(0)
	if base := g.calc.MinimumRequiredTransactionRelayFee(computeMass); aggregate > base {
		change = aggregate - base
	}
	if change == 0 || g.calc.IsDustValue(change) {
		log.Generator.Info().Uint64("aggregate", aggregate).Msg("sweep value below dust, nothing to do")
		g.finished = true
		return nil, nil
	}
	var fee, mass uint64
	for i := 0; i < feeIterationLimit; i++ {
		outs := []tx.MassOperand{{Value: change, ScriptPublicKeyLen: len(g.changeSPK.Script)}}
		relay, m, err := g.relayFee(computeMass, ins, outs)
		if err != nil {
			return nil, err
		}
		fee, mass = relay, m
		if fee >= aggregate {
			g.finished = true
			return nil, nil
		}
		newChange := aggregate - fee
		if newChange == change {
			break
		}
		change = newChange
	}
	if g.calc.IsDustValue(change) {
		g.finished = true
		return nil, nil
	}

	return g.emit(selected, aggregate, 0, change, fee, mass, nil, true, true)
}

// emit builds, reserves and wraps one transaction of the plan.
func (g *Generator) emit(selected []*utxo.EntryReference, aggregate, payment, change, fee, mass uint64,
	payments []*tx.Output, withChange, final bool) (*PendingTransaction, error) {

	inputs := make([]*tx.Input, len(selected))
	for i, ref := range selected {
		inputs[i] = &tx.Input{
			PreviousOutpoint: ref.Outpoint,
			Sequence:         tx.MaximumSequence,
			SigOpCount:       g.sigOpCount,
		}
	}

	outputs := make([]*tx.Output, 0, len(payments)+1)
	outputs = append(outputs, payments...)
	if withChange {
		outputs = append(outputs, &tx.Output{Value: change, ScriptPublicKey: g.changeSPK})
	} else {
		change = 0
	}

	transaction := &tx.Transaction{
		Version:      0,
		Inputs:       inputs,
		Outputs:      outputs,
		SubnetworkID: tx.SubnetworkIDNative,
		Payload:      g.settings.Payload,
		Mass:         mass,
	}
	id := transaction.ID()

	// Synthetic entries were never owned by the source; only real ones are
	// reserved.
	var real []*utxo.EntryReference
	for _, ref := range selected {
		if ref.Entry.BlockDAAScore != utxo.UnacceptedDAAScore {
			real = append(real, ref)
		}
	}
	outgoing := &utxo.OutgoingTransaction{
		ID:                   id,
		Entries:              real,
		AggregateInputAmount: aggregate,
		PaymentAmount:        payment,
		ChangeAmount:         change,
		Fees:                 fee,
	}
	if !g.estimateOnly && len(real) > 0 {
		if err := g.settings.Source.ReserveEntries(outgoing); err != nil {
			return nil, err
		}
	}

	g.summary.Transactions++
	g.summary.UTXOs += len(selected)
	g.summary.Fees += fee
	if final {
		g.finished = true
		g.summary.FinalTransactionID = id
		if payment > 0 {
			g.summary.FinalAmount = payment
		} else {
			g.summary.FinalAmount = change
		}
	}

	aggregateOut := payment + change

	return &PendingTransaction{
		Transaction:           transaction,
		source:                g.settings.Source,
		entries:               selected,
		outgoingID:            id,
		hasReservation:        !g.estimateOnly && len(real) > 0,
		IsFinal:               final,
		PaymentAmount:         payment,
		ChangeAmount:          change,
		FeeAmount:             fee,
		Mass:                  mass,
		AggregateInputAmount:  aggregate,
		AggregateOutputAmount: aggregateOut,
	}, nil
}
