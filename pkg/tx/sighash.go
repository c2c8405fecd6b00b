package tx

import (
	"fmt"

	"github.com/quasar-dag/quasar-wallet/pkg/crypto"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// SignableEntry carries the previous output data needed to sign an input.
type SignableEntry struct {
	Amount          uint64
	ScriptPublicKey *types.ScriptPublicKey
}

// CalcSignatureHash computes the hash an input signature commits to. The
// entries slice must hold one entry per transaction input, in input order.
func CalcSignatureHash(t *Transaction, inputIndex int, entries []SignableEntry, hashType crypto.SighashType) (types.Hash, error) {
	if !hashType.IsStandard() {
		return types.Hash{}, fmt.Errorf("non-standard sighash type %#x", uint8(hashType))
	}
	if inputIndex < 0 || inputIndex >= len(t.Inputs) {
		return types.Hash{}, fmt.Errorf("input index %d out of range (transaction has %d inputs)",
			inputIndex, len(t.Inputs))
	}
	if len(entries) != len(t.Inputs) {
		return types.Hash{}, fmt.Errorf("%d signable entries for %d inputs", len(entries), len(t.Inputs))
	}

	in := t.Inputs[inputIndex]
	entry := entries[inputIndex]

	w := crypto.NewSigningHashWriter()
	w.WriteUint16(t.Version)
	writeHash(w, previousOutputsHash(t, hashType))
	writeHash(w, sequencesHash(t, hashType))
	writeHash(w, sigOpCountsHash(t, hashType))

	// The input being signed.
	w.WriteBytes(in.PreviousOutpoint.TxID[:])
	w.WriteUint32(in.PreviousOutpoint.Index)
	w.WriteUint16(entry.ScriptPublicKey.Version)
	w.WriteLengthPrefixed(entry.ScriptPublicKey.Script)
	w.WriteUint64(entry.Amount)
	w.WriteUint64(in.Sequence)
	w.WriteUint8(in.SigOpCount)

	writeHash(w, outputsHash(t, inputIndex, hashType))
	w.WriteUint64(t.LockTime)
	w.WriteBytes(t.SubnetworkID[:])
	w.WriteUint64(t.Gas)
	writeHash(w, payloadHash(t))
	w.WriteUint8(byte(hashType))

	return w.Finalize(), nil
}

func writeHash(w *crypto.HashWriter, h types.Hash) {
	w.WriteBytes(h[:])
}

func previousOutputsHash(t *Transaction, hashType crypto.SighashType) types.Hash {
	if hashType.AnyOneCanPay() {
		return types.Hash{}
	}
	w := crypto.NewSigningHashWriter()
	for _, in := range t.Inputs {
		w.WriteBytes(in.PreviousOutpoint.TxID[:])
		w.WriteUint32(in.PreviousOutpoint.Index)
	}
	return w.Finalize()
}

func sequencesHash(t *Transaction, hashType crypto.SighashType) types.Hash {
	base := hashType &^ crypto.SigHashAnyOneCanPay
	if hashType.AnyOneCanPay() || base == crypto.SigHashSingle || base == crypto.SigHashNone {
		return types.Hash{}
	}
	w := crypto.NewSigningHashWriter()
	for _, in := range t.Inputs {
		w.WriteUint64(in.Sequence)
	}
	return w.Finalize()
}

func sigOpCountsHash(t *Transaction, hashType crypto.SighashType) types.Hash {
	if hashType.AnyOneCanPay() {
		return types.Hash{}
	}
	w := crypto.NewSigningHashWriter()
	for _, in := range t.Inputs {
		w.WriteUint8(in.SigOpCount)
	}
	return w.Finalize()
}

func outputsHash(t *Transaction, inputIndex int, hashType crypto.SighashType) types.Hash {
	switch hashType &^ crypto.SigHashAnyOneCanPay {
	case crypto.SigHashNone:
		return types.Hash{}
	case crypto.SigHashSingle:
		if inputIndex >= len(t.Outputs) {
			return types.Hash{}
		}
		w := crypto.NewSigningHashWriter()
		writeOutput(w, t.Outputs[inputIndex])
		return w.Finalize()
	default:
		w := crypto.NewSigningHashWriter()
		for _, out := range t.Outputs {
			writeOutput(w, out)
		}
		return w.Finalize()
	}
}

func payloadHash(t *Transaction) types.Hash {
	if t.SubnetworkID == SubnetworkIDNative {
		return types.Hash{}
	}
	w := crypto.NewSigningHashWriter()
	w.WriteLengthPrefixed(t.Payload)
	return w.Finalize()
}

func writeOutput(w *crypto.HashWriter, out *Output) {
	w.WriteUint64(out.Value)
	w.WriteUint16(out.ScriptPublicKey.Version)
	w.WriteLengthPrefixed(out.ScriptPublicKey.Script)
}

// SignatureScript wraps a raw signature and sighash type into the standard
// push-only signature script.
func SignatureScript(signature []byte, hashType crypto.SighashType) []byte {
	script := make([]byte, 0, len(signature)+2)
	script = append(script, byte(len(signature)+1))
	script = append(script, signature...)
	script = append(script, byte(hashType))
	return script
}

// CreateInputSignature produces the raw Schnorr signature for one input.
func CreateInputSignature(t *Transaction, inputIndex int, entries []SignableEntry, key *crypto.PrivateKey, hashType crypto.SighashType) ([]byte, error) {
	hash, err := CalcSignatureHash(t, inputIndex, entries, hashType)
	if err != nil {
		return nil, err
	}
	return key.SignSchnorr(hash[:])
}

// SignInput signs one input in place with a Schnorr signature.
func SignInput(t *Transaction, inputIndex int, entries []SignableEntry, key *crypto.PrivateKey, hashType crypto.SighashType) error {
	sig, err := CreateInputSignature(t, inputIndex, entries, key, hashType)
	if err != nil {
		return err
	}
	t.Inputs[inputIndex].SignatureScript = SignatureScript(sig, hashType)
	return nil
}

// SignInputECDSA signs one input in place with an ECDSA signature.
func SignInputECDSA(t *Transaction, inputIndex int, entries []SignableEntry, key *crypto.PrivateKey, hashType crypto.SighashType) error {
	hash, err := CalcSignatureHash(t, inputIndex, entries, hashType)
	if err != nil {
		return err
	}
	sig, err := key.SignECDSA(hash[:])
	if err != nil {
		return err
	}
	t.Inputs[inputIndex].SignatureScript = SignatureScript(sig, hashType)
	return nil
}
