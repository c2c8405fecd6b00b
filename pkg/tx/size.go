package tx

import "github.com/quasar-dag/quasar-wallet/pkg/types"

// Serialized byte sizes of the wire encoding. Mass accounting is defined
// over these sizes, so they must match the node exactly.
const (
	// outpointSerializedByteSize: 32-byte transaction ID + 4-byte index.
	outpointSerializedByteSize = types.HashSize + 4

	// blankTransactionSerializedByteSize covers the fixed fields of a
	// transaction with no inputs, outputs or payload:
	// version(2) + input count(8) + output count(8) + lock time(8) +
	// subnetwork(20) + gas(8) + payload hash(32) + payload length(8).
	blankTransactionSerializedByteSize = 2 + 8 + 8 + 8 + SubnetworkIDSize + 8 + types.HashSize + 8
)

// TransactionInputSerializedByteSize returns the wire size of one input:
// outpoint + script length prefix + script + sequence.
func TransactionInputSerializedByteSize(signatureScriptLen int) uint64 {
	return outpointSerializedByteSize + 8 + uint64(signatureScriptLen) + 8
}

// TransactionOutputSerializedByteSize returns the wire size of one output:
// value + script version + script length prefix + script.
func TransactionOutputSerializedByteSize(scriptPublicKeyLen int) uint64 {
	return 8 + 2 + 8 + uint64(scriptPublicKeyLen)
}

// SerializedByteSize returns the wire size of the whole transaction.
func (t *Transaction) SerializedByteSize() uint64 {
	size := uint64(blankTransactionSerializedByteSize)
	for _, in := range t.Inputs {
		size += TransactionInputSerializedByteSize(len(in.SignatureScript))
	}
	for _, out := range t.Outputs {
		size += TransactionOutputSerializedByteSize(len(out.ScriptPublicKey.Script))
	}
	size += uint64(len(t.Payload))
	return size
}

// BlankTransactionSerializedByteSize returns the wire size of a transaction
// with no inputs, outputs or payload.
func BlankTransactionSerializedByteSize() uint64 {
	return blankTransactionSerializedByteSize
}
