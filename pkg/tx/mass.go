package tx

import (
	"math/bits"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/pkg/crypto"
)

// estimatedInputSerializedByteSize approximates the wire bytes an input
// contributes when judging output dust, matching the node's relay policy.
const estimatedInputSerializedByteSize = 148

// MassCalculator computes the compute dimension of transaction mass, relay
// fees and dust, from per-network consensus parameters.
type MassCalculator struct {
	massPerTxByte                  uint64
	massPerScriptPubKeyByte        uint64
	massPerSigOp                   uint64
	storageMassParameter           uint64
	maximumStandardTransactionMass uint64
	minimumRelayTransactionFee     uint64
}

// NewMassCalculator builds a calculator for the given consensus rules.
func NewMassCalculator(consensus config.ConsensusParams) *MassCalculator {
	return &MassCalculator{
		massPerTxByte:                  consensus.MassPerTxByte,
		massPerScriptPubKeyByte:        consensus.MassPerScriptPubKeyByte,
		massPerSigOp:                   consensus.MassPerSigOp,
		storageMassParameter:           consensus.StorageMassParameter,
		maximumStandardTransactionMass: consensus.MaximumStandardTransactionMass,
		minimumRelayTransactionFee:     consensus.MinimumRelayTransactionFee,
	}
}

// MaximumStandardTransactionMass returns the relay mass ceiling.
func (mc *MassCalculator) MaximumStandardTransactionMass() uint64 {
	return mc.maximumStandardTransactionMass
}

// MassForSize converts serialized bytes into grams.
func (mc *MassCalculator) MassForSize(size uint64) uint64 {
	return size * mc.massPerTxByte
}

// BlankTransactionComputeMass is the mass of the fixed transaction fields.
func (mc *MassCalculator) BlankTransactionComputeMass() uint64 {
	return mc.MassForSize(blankTransactionSerializedByteSize)
}

// PayloadComputeMass is the mass contributed by a payload of the given size.
func (mc *MassCalculator) PayloadComputeMass(payloadLen int) uint64 {
	return mc.MassForSize(uint64(payloadLen))
}

// OutputComputeMass is the mass contributed by one output: its serialized
// bytes plus the weighted script public key bytes (the script version
// counts as two script bytes).
func (mc *MassCalculator) OutputComputeMass(out *Output) uint64 {
	scriptLen := len(out.ScriptPublicKey.Script)
	return mc.massPerScriptPubKeyByte*uint64(2+scriptLen) +
		mc.MassForSize(TransactionOutputSerializedByteSize(scriptLen))
}

// InputComputeMass is the mass contributed by one input: its serialized
// bytes plus the weighted signature operations.
func (mc *MassCalculator) InputComputeMass(in *Input) uint64 {
	return mc.MassForSize(TransactionInputSerializedByteSize(len(in.SignatureScript))) +
		uint64(in.SigOpCount)*mc.massPerSigOp
}

// SignatureComputeMass is the mass the eventual signature scripts will add
// to one input. Unsigned inputs carry empty scripts during generation, so
// this is accounted separately.
func (mc *MassCalculator) SignatureComputeMass(minimumSignatures uint16) uint64 {
	if minimumSignatures < 1 {
		minimumSignatures = 1
	}
	return crypto.SignatureScriptSize * mc.massPerTxByte * uint64(minimumSignatures)
}

// TransactionComputeMass is the full compute mass of a transaction as
// currently serialized. Signature mass for unsigned inputs is not included.
func (mc *MassCalculator) TransactionComputeMass(t *Transaction) uint64 {
	mass := mc.MassForSize(t.SerializedByteSize())
	for _, out := range t.Outputs {
		mass += mc.massPerScriptPubKeyByte * uint64(2+len(out.ScriptPublicKey.Script))
	}
	for _, in := range t.Inputs {
		mass += uint64(in.SigOpCount) * mc.massPerSigOp
	}
	return mass
}

// CombineMass merges the compute and storage dimensions into the final
// transaction mass.
func CombineMass(computeMass, storageMass uint64) uint64 {
	if storageMass > computeMass {
		return storageMass
	}
	return computeMass
}

// MinimumRequiredTransactionRelayFee returns the fee floor in photon for a
// transaction of the given mass.
func (mc *MassCalculator) MinimumRequiredTransactionRelayFee(mass uint64) uint64 {
	fee := mass / 1000 * mc.minimumRelayTransactionFee
	if rem := mass % 1000; rem > 0 {
		fee += rem * mc.minimumRelayTransactionFee / 1000
	}
	if fee == 0 {
		fee = mc.minimumRelayTransactionFee
	}
	if fee > config.MaxPhoton {
		fee = config.MaxPhoton
	}
	return fee
}

// IsOutputDust reports whether an output is uneconomical to spend: the
// value per byte of the output plus its estimated spending input falls
// below a third of the relay fee rate.
func (mc *MassCalculator) IsOutputDust(out *Output) bool {
	return mc.isDust(out.Value, len(out.ScriptPublicKey.Script))
}

// IsDustValue reports dust for a hypothetical output with a standard
// pay-to-pubkey locking script.
func (mc *MassCalculator) IsDustValue(value uint64) bool {
	return mc.isDust(value, standardScriptPublicKeySize)
}

// standardScriptPublicKeySize is the script size of a pay-to-pubkey output.
const standardScriptPublicKeySize = 34

func (mc *MassCalculator) isDust(value uint64, scriptPublicKeyLen int) bool {
	totalSize := TransactionOutputSerializedByteSize(scriptPublicKeyLen) +
		estimatedInputSerializedByteSize
	denom := 3 * totalSize

	// value * 1000 / denom, in 128 bits so large amounts cannot overflow.
	hi, lo := bits.Mul64(value, 1000)
	if hi >= denom {
		// The quotient exceeds 64 bits; nowhere near dust.
		return false
	}
	quo, _ := bits.Div64(hi, lo, denom)
	return quo < mc.minimumRelayTransactionFee
}
