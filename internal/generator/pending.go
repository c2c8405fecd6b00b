package generator

import (
	"errors"
	"fmt"

	"github.com/quasar-dag/quasar-wallet/internal/log"
	"github.com/quasar-dag/quasar-wallet/internal/utxo"
	"github.com/quasar-dag/quasar-wallet/pkg/crypto"
	"github.com/quasar-dag/quasar-wallet/pkg/tx"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// Signing errors.
var (
	ErrAlreadySubmitted = errors.New("transaction already submitted")
	ErrNotFullySigned   = errors.New("transaction is not fully signed")
	ErrNoKeyForInput    = errors.New("no key matches the input's script")
)

// PendingTransaction is one emitted link of a generator run: a transaction
// plus its derived amounts and the entries it consumes. Its entries stay
// reserved in the source until Submit succeeds, fails, or Release is called.
type PendingTransaction struct {
	Transaction *tx.Transaction

	source         Source
	entries        []*utxo.EntryReference
	outgoingID     types.TransactionID
	hasReservation bool
	submitted      bool

	// IsFinal marks the last transaction of the plan, the one carrying the
	// payment outputs.
	IsFinal bool

	PaymentAmount         uint64
	ChangeAmount          uint64
	FeeAmount             uint64
	Mass                  uint64
	AggregateInputAmount  uint64
	AggregateOutputAmount uint64
}

// Entries returns the consumed entry references, in input order.
func (p *PendingTransaction) Entries() []*utxo.EntryReference {
	return p.entries
}

// SignableEntries renders the consumed entries for sighash computation.
func (p *PendingTransaction) SignableEntries() []tx.SignableEntry {
	entries := make([]tx.SignableEntry, len(p.entries))
	for i, ref := range p.entries {
		entries[i] = tx.SignableEntry{
			Amount:          ref.Entry.Amount,
			ScriptPublicKey: ref.Entry.ScriptPublicKey,
		}
	}
	return entries
}

// signingKey pairs a private key with the signature scheme the matched
// locking script demands.
type signingKey struct {
	key   *crypto.PrivateKey
	ecdsa bool
}

// SignWithKeys signs every input whose script matches one of the keys,
// with SigHashAll. The signature scheme follows the input's script type:
// Schnorr for pay-to-pubkey scripts, ECDSA for OP_CHECKSIGECDSA scripts.
// With checkFullySigned, an input no key can serve is an error; without it,
// unmatched inputs are left for another signer.
func (p *PendingTransaction) SignWithKeys(keys []*crypto.PrivateKey, checkFullySigned bool) error {
	entries := p.SignableEntries()

	scripts := make(map[string]signingKey, len(keys)*2)
	for _, key := range keys {
		for _, addr := range p.keyAddresses(key) {
			spk, err := types.PayToAddressScript(addr)
			if err != nil {
				return err
			}
			scripts[string(spk.Script)] = signingKey{
				key:   key,
				ecdsa: addr.Version == types.AddressVersionPubKeyECDSA,
			}
		}
	}

	for i, ref := range p.entries {
		if len(p.Transaction.Inputs[i].SignatureScript) > 0 {
			continue
		}
		sk, ok := scripts[string(ref.Entry.ScriptPublicKey.Script)]
		if !ok {
			if checkFullySigned {
				return fmt.Errorf("input %d: %w", i, ErrNoKeyForInput)
			}
			continue
		}
		var err error
		if sk.ecdsa {
			err = tx.SignInputECDSA(p.Transaction, i, entries, sk.key, crypto.SigHashAll)
		} else {
			err = tx.SignInput(p.Transaction, i, entries, sk.key, crypto.SigHashAll)
		}
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	if checkFullySigned {
		return p.checkFullySigned()
	}
	return nil
}

// keyAddresses returns the Schnorr and ECDSA addresses a key can serve.
func (p *PendingTransaction) keyAddresses(key *crypto.PrivateKey) []*types.Address {
	prefix := p.prefix()
	var out []*types.Address
	if addr, err := key.Address(prefix); err == nil {
		out = append(out, addr)
	}
	if addr, err := key.ECDSAAddress(prefix); err == nil {
		out = append(out, addr)
	}
	return out
}

func (p *PendingTransaction) prefix() string {
	for _, ref := range p.entries {
		if ref.Address != nil {
			return ref.Address.Prefix
		}
	}
	return ""
}

// checkFullySigned verifies every input carries a signature script.
func (p *PendingTransaction) checkFullySigned() error {
	for i, in := range p.Transaction.Inputs {
		if len(in.SignatureScript) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrNotFullySigned)
		}
	}
	return nil
}

// SignInput signs one input with the given key and sighash type.
func (p *PendingTransaction) SignInput(inputIndex int, key *crypto.PrivateKey, hashType crypto.SighashType) error {
	return tx.SignInput(p.Transaction, inputIndex, p.SignableEntries(), key, hashType)
}

// CreateInputSignature computes one input's signature without attaching it.
func (p *PendingTransaction) CreateInputSignature(inputIndex int, key *crypto.PrivateKey, hashType crypto.SighashType) ([]byte, error) {
	return tx.CreateInputSignature(p.Transaction, inputIndex, p.SignableEntries(), key, hashType)
}

// FillInput attaches an externally produced signature script to an input.
func (p *PendingTransaction) FillInput(inputIndex int, signatureScript []byte) error {
	if inputIndex < 0 || inputIndex >= len(p.Transaction.Inputs) {
		return fmt.Errorf("input index %d out of range", inputIndex)
	}
	p.Transaction.Inputs[inputIndex].SignatureScript = signatureScript
	return nil
}

// Submit broadcasts the transaction. On success the reservation is marked
// submitted and stays in place until the node confirms the inputs spent; on
// failure the reserved entries return to the spendable set so a later run
// can use them. Submit is terminal either way.
func (p *PendingTransaction) Submit(rpc utxo.Backend) (types.TransactionID, error) {
	if p.submitted {
		return types.TransactionID{}, ErrAlreadySubmitted
	}
	p.submitted = true

	id, err := rpc.SubmitTransaction(p.Transaction, false)
	if err != nil {
		if p.hasReservation {
			if cancelErr := p.source.CancelOutgoing(p.outgoingID); cancelErr != nil {
				log.Generator.Error().Err(cancelErr).
					Str("txId", p.outgoingID.String()).Msg("failed to release reservation")
			}
		}
		return types.TransactionID{}, fmt.Errorf("submit %s: %w", p.outgoingID, err)
	}

	if p.hasReservation {
		if regErr := p.source.RegisterOutgoing(p.outgoingID); regErr != nil {
			log.Generator.Error().Err(regErr).
				Str("txId", p.outgoingID.String()).Msg("failed to register submission")
		}
	}
	return id, nil
}

// Release abandons the transaction without submitting it, returning its
// entries to the spendable set.
func (p *PendingTransaction) Release() error {
	if p.submitted {
		return ErrAlreadySubmitted
	}
	p.submitted = true
	if !p.hasReservation {
		return nil
	}
	return p.source.CancelOutgoing(p.outgoingID)
}

// MarshalSafeJSON renders the transaction with all 64-bit amounts as
// decimal strings.
func (p *PendingTransaction) MarshalSafeJSON() ([]byte, error) {
	return p.Transaction.MarshalSafeJSON()
}
