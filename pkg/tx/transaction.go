// Package tx defines the Quasar transaction model and its mass accounting.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/quasar-dag/quasar-wallet/pkg/crypto"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// SubnetworkIDSize is the length of a subnetwork identifier in bytes.
const SubnetworkIDSize = 20

// SubnetworkID tags a transaction with the subnetwork it belongs to.
type SubnetworkID [SubnetworkIDSize]byte

var (
	// SubnetworkIDNative is the default subnetwork of regular transactions.
	SubnetworkIDNative = SubnetworkID{}

	// SubnetworkIDCoinbase is the subnetwork of coinbase transactions.
	SubnetworkIDCoinbase = SubnetworkID{0x01}
)

// MaximumSequence disables relative lock time on an input.
const MaximumSequence = math.MaxUint64

// Transaction represents a Quasar transaction.
type Transaction struct {
	Version      uint16       `json:"version"`
	Inputs       []*Input     `json:"inputs"`
	Outputs      []*Output    `json:"outputs"`
	LockTime     uint64       `json:"lockTime"`
	SubnetworkID SubnetworkID `json:"subnetworkId"`
	Gas          uint64       `json:"gas"`
	Payload      []byte       `json:"payload"`

	// Mass is the combined (compute vs storage, whichever is larger)
	// mass of the finalized transaction. It is carried alongside the
	// transaction but excluded from its ID.
	Mass uint64 `json:"mass"`
}

// Input references a UTXO being spent.
type Input struct {
	PreviousOutpoint types.Outpoint `json:"previousOutpoint"`
	SignatureScript  []byte         `json:"signatureScript"`
	Sequence         uint64         `json:"sequence"`
	SigOpCount       byte           `json:"sigOpCount"`
}

// Output defines a new UTXO.
type Output struct {
	Value           uint64                 `json:"value"`
	ScriptPublicKey *types.ScriptPublicKey `json:"scriptPublicKey"`
}

// IsCoinbase reports whether the transaction belongs to the coinbase
// subnetwork.
func (t *Transaction) IsCoinbase() bool {
	return t.SubnetworkID == SubnetworkIDCoinbase
}

// ID computes the transaction ID: a BLAKE3 hash of the canonical encoding
// minus signature scripts and mass, so signing does not change the ID.
func (t *Transaction) ID() types.TransactionID {
	var buf []byte

	buf = binary.LittleEndian.AppendUint16(buf, t.Version)

	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PreviousOutpoint.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PreviousOutpoint.Index)
		buf = binary.LittleEndian.AppendUint64(buf, in.Sequence)
		buf = append(buf, in.SigOpCount)
	}

	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = binary.LittleEndian.AppendUint16(buf, out.ScriptPublicKey.Version)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(out.ScriptPublicKey.Script)))
		buf = append(buf, out.ScriptPublicKey.Script...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, t.LockTime)
	buf = append(buf, t.SubnetworkID[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, t.Gas)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(t.Payload)))
	buf = append(buf, t.Payload...)

	return crypto.Hash(buf)
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (t *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}

// inputJSON is the JSON representation of Input with a hex-encoded
// signature script.
type inputJSON struct {
	PreviousOutpoint types.Outpoint `json:"previousOutpoint"`
	SignatureScript  string         `json:"signatureScript"`
	Sequence         uint64         `json:"sequence"`
	SigOpCount       byte           `json:"sigOpCount"`
}

// MarshalJSON encodes the input with a hex-encoded signature script.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSON{
		PreviousOutpoint: in.PreviousOutpoint,
		SignatureScript:  hex.EncodeToString(in.SignatureScript),
		Sequence:         in.Sequence,
		SigOpCount:       in.SigOpCount,
	})
}

// UnmarshalJSON decodes an input with a hex-encoded signature script.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PreviousOutpoint = j.PreviousOutpoint
	in.Sequence = j.Sequence
	in.SigOpCount = j.SigOpCount
	if j.SignatureScript != "" {
		b, err := hex.DecodeString(j.SignatureScript)
		if err != nil {
			return err
		}
		in.SignatureScript = b
	} else {
		in.SignatureScript = nil
	}
	return nil
}

// MarshalJSON encodes the subnetwork ID as a hex string.
func (s SubnetworkID) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s[:]))
}

// UnmarshalJSON decodes a hex string into a SubnetworkID.
func (s *SubnetworkID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = SubnetworkID{}
		return nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	if len(b) != SubnetworkIDSize {
		return fmt.Errorf("subnetwork ID must be %d bytes, got %d", SubnetworkIDSize, len(b))
	}
	copy(s[:], b)
	return nil
}

// safeOutputJSON renders the output value as a decimal string so that
// amounts survive JSON processors that parse numbers as float64.
type safeOutputJSON struct {
	Value           string                 `json:"value"`
	ScriptPublicKey *types.ScriptPublicKey `json:"scriptPublicKey"`
}

// safeTransactionJSON is the safe-JSON shape of a transaction.
type safeTransactionJSON struct {
	ID           string           `json:"id"`
	Version      uint16           `json:"version"`
	Inputs       []*Input         `json:"inputs"`
	Outputs      []safeOutputJSON `json:"outputs"`
	LockTime     string           `json:"lockTime"`
	SubnetworkID SubnetworkID     `json:"subnetworkId"`
	Gas          string           `json:"gas"`
	Payload      string           `json:"payload"`
	Mass         string           `json:"mass"`
}

// MarshalSafeJSON encodes the transaction with every uint64 amount as a
// decimal string.
func (t *Transaction) MarshalSafeJSON() ([]byte, error) {
	outs := make([]safeOutputJSON, len(t.Outputs))
	for i, out := range t.Outputs {
		outs[i] = safeOutputJSON{
			Value:           strconv.FormatUint(out.Value, 10),
			ScriptPublicKey: out.ScriptPublicKey,
		}
	}
	return json.Marshal(safeTransactionJSON{
		ID:           t.ID().String(),
		Version:      t.Version,
		Inputs:       t.Inputs,
		Outputs:      outs,
		LockTime:     strconv.FormatUint(t.LockTime, 10),
		SubnetworkID: t.SubnetworkID,
		Gas:          strconv.FormatUint(t.Gas, 10),
		Payload:      hex.EncodeToString(t.Payload),
		Mass:         strconv.FormatUint(t.Mass, 10),
	})
}
