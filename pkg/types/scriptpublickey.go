package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Script opcodes used by the standard output templates.
const (
	opData32        = 0x20
	opData33        = 0x21
	opEqual         = 0x87
	opBlake3        = 0xaa
	opCheckSigECDSA = 0xab
	opCheckSig      = 0xac
)

// ScriptPublicKey is a versioned locking script attached to an output.
type ScriptPublicKey struct {
	Version uint16
	Script  []byte
}

// Equal reports whether two script public keys are identical.
func (spk *ScriptPublicKey) Equal(other *ScriptPublicKey) bool {
	if spk == nil || other == nil {
		return spk == other
	}
	return spk.Version == other.Version && bytes.Equal(spk.Script, other.Script)
}

// Clone returns a deep copy.
func (spk *ScriptPublicKey) Clone() *ScriptPublicKey {
	if spk == nil {
		return nil
	}
	script := make([]byte, len(spk.Script))
	copy(script, spk.Script)
	return &ScriptPublicKey{Version: spk.Version, Script: script}
}

// scriptPublicKeyJSON is the JSON representation with a hex-encoded script.
type scriptPublicKeyJSON struct {
	Version uint16 `json:"version"`
	Script  string `json:"script"`
}

// MarshalJSON encodes the script public key with a hex-encoded script.
func (spk ScriptPublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptPublicKeyJSON{
		Version: spk.Version,
		Script:  hex.EncodeToString(spk.Script),
	})
}

// UnmarshalJSON decodes a script public key with a hex-encoded script.
func (spk *ScriptPublicKey) UnmarshalJSON(data []byte) error {
	var j scriptPublicKeyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	spk.Version = j.Version
	if j.Script != "" {
		b, err := hex.DecodeString(j.Script)
		if err != nil {
			return err
		}
		spk.Script = b
	} else {
		spk.Script = nil
	}
	return nil
}

// PayToAddressScript builds the standard locking script for an address.
//
// PubKey:      OP_DATA_32 <32-byte key> OP_CHECKSIG
// PubKeyECDSA: OP_DATA_33 <33-byte key> OP_CHECKSIGECDSA
// ScriptHash:  OP_BLAKE3 OP_DATA_32 <32-byte hash> OP_EQUAL
func PayToAddressScript(addr *Address) (*ScriptPublicKey, error) {
	switch addr.Version {
	case AddressVersionPubKey:
		script := make([]byte, 0, 34)
		script = append(script, opData32)
		script = append(script, addr.Payload...)
		script = append(script, opCheckSig)
		return &ScriptPublicKey{Version: 0, Script: script}, nil
	case AddressVersionPubKeyECDSA:
		script := make([]byte, 0, 35)
		script = append(script, opData33)
		script = append(script, addr.Payload...)
		script = append(script, opCheckSigECDSA)
		return &ScriptPublicKey{Version: 0, Script: script}, nil
	case AddressVersionScriptHash:
		script := make([]byte, 0, 36)
		script = append(script, opBlake3, opData32)
		script = append(script, addr.Payload...)
		script = append(script, opEqual)
		return &ScriptPublicKey{Version: 0, Script: script}, nil
	default:
		return nil, fmt.Errorf("cannot build script for address version %d", addr.Version)
	}
}

// ExtractScriptPublicKeyAddress recovers the address locked by a standard
// script, using the given network prefix. Returns an error for non-standard
// scripts.
func ExtractScriptPublicKeyAddress(spk *ScriptPublicKey, prefix string) (*Address, error) {
	if spk == nil {
		return nil, fmt.Errorf("nil script public key")
	}
	if spk.Version != 0 {
		return nil, fmt.Errorf("unsupported script version %d", spk.Version)
	}
	s := spk.Script
	switch {
	case len(s) == 34 && s[0] == opData32 && s[33] == opCheckSig:
		return NewAddress(prefix, AddressVersionPubKey, s[1:33])
	case len(s) == 35 && s[0] == opData33 && s[34] == opCheckSigECDSA:
		return NewAddress(prefix, AddressVersionPubKeyECDSA, s[1:34])
	case len(s) == 36 && s[0] == opBlake3 && s[1] == opData32 && s[35] == opEqual:
		return NewAddress(prefix, AddressVersionScriptHash, s[2:34])
	default:
		return nil, fmt.Errorf("non-standard script (%d bytes)", len(s))
	}
}
