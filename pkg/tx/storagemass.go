package tx

import (
	"errors"
	"math"
)

// ErrStorageMassIncomputable is returned when an intermediate term of the
// storage mass formula overflows. Such a transaction can never satisfy the
// standard mass limit.
var ErrStorageMassIncomputable = errors.New("storage mass incomputable")

// UTXO plurality units. A UTXO cell occupies its fixed overhead (outpoint,
// amount, script version, DAA score, coinbase flag and script length
// prefix) plus the script itself; every started 100-byte unit counts as one
// plurality.
const (
	utxoCellOverhead = 63
	utxoUnitSize     = 100
)

// MassOperand carries the two output properties storage mass depends on.
type MassOperand struct {
	Value              uint64
	ScriptPublicKeyLen int
}

// OutputMassOperand builds a storage mass operand from an output.
func OutputMassOperand(out *Output) MassOperand {
	return MassOperand{Value: out.Value, ScriptPublicKeyLen: len(out.ScriptPublicKey.Script)}
}

// utxoPlurality returns the plurality of a UTXO with the given script size.
func utxoPlurality(scriptPublicKeyLen int) uint64 {
	return uint64(utxoCellOverhead+scriptPublicKeyLen+utxoUnitSize-1) / utxoUnitSize
}

// StorageMass computes the storage dimension of transaction mass over the
// spent and created UTXO sets. Coinbase transactions have zero storage
// mass. A zero-valued operand or an overflowing term yields
// ErrStorageMassIncomputable.
func (mc *MassCalculator) StorageMass(isCoinbase bool, inputs, outputs []MassOperand) (uint64, error) {
	if isCoinbase {
		return 0, nil
	}

	harmonicOuts, outsPlurality, err := mc.harmonicSum(outputs)
	if err != nil {
		return 0, err
	}
	insPlurality := totalPlurality(inputs)

	// The relaxed formula applies when the spent set cannot be split to
	// inflate the harmonic bound: a single output, a single input, or an
	// exact 2:2 exchange.
	relaxed := outsPlurality == 1 || insPlurality == 1 ||
		(outsPlurality == 2 && insPlurality == 2)

	var insBound uint64
	if relaxed {
		insBound, _, err = mc.harmonicSum(inputs)
		if err != nil {
			return 0, err
		}
	} else {
		var sumIns uint64
		for _, in := range inputs {
			if in.Value > math.MaxUint64-sumIns {
				return 0, ErrStorageMassIncomputable
			}
			sumIns += in.Value
		}
		if sumIns == 0 {
			return 0, ErrStorageMassIncomputable
		}
		// Arithmetic bound: plurality * C / mean(ins).
		mean := sumIns / insPlurality
		if mean == 0 {
			return 0, ErrStorageMassIncomputable
		}
		term := mc.storageMassParameter / mean
		if insPlurality > 0 && term > math.MaxUint64/insPlurality {
			return 0, ErrStorageMassIncomputable
		}
		insBound = insPlurality * term
	}

	if harmonicOuts < insBound {
		return 0, nil
	}
	return harmonicOuts - insBound, nil
}

// harmonicSum computes sum(C * p_i^2 / v_i) and the total plurality over
// the operands.
func (mc *MassCalculator) harmonicSum(operands []MassOperand) (sum, plurality uint64, err error) {
	for _, op := range operands {
		if op.Value == 0 {
			return 0, 0, ErrStorageMassIncomputable
		}
		p := utxoPlurality(op.ScriptPublicKeyLen)
		plurality += p

		// C * p^2 / v. C is 10^12 and p is at most a few hundred, so
		// C * p^2 fits in 64 bits for every standard script.
		if mc.storageMassParameter > math.MaxUint64/(p*p) {
			return 0, 0, ErrStorageMassIncomputable
		}
		term := mc.storageMassParameter * p * p / op.Value
		if term > math.MaxUint64-sum {
			return 0, 0, ErrStorageMassIncomputable
		}
		sum += term
	}
	return sum, plurality, nil
}

func totalPlurality(operands []MassOperand) uint64 {
	var total uint64
	for _, op := range operands {
		total += utxoPlurality(op.ScriptPublicKeyLen)
	}
	return total
}
