package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// SighashType selects which transaction parts a signature commits to.
type SighashType uint8

const (
	SigHashAll          SighashType = 0x01
	SigHashNone         SighashType = 0x02
	SigHashSingle       SighashType = 0x04
	SigHashAnyOneCanPay SighashType = 0x80
)

// IsStandard reports whether the type is one the network relays.
func (t SighashType) IsStandard() bool {
	base := t &^ SigHashAnyOneCanPay
	return base == SigHashAll || base == SigHashNone || base == SigHashSingle
}

// AnyOneCanPay reports whether the signature commits to only its own input.
func (t SighashType) AnyOneCanPay() bool {
	return t&SigHashAnyOneCanPay != 0
}

// SignatureScriptSize is the serialized size of a standard Schnorr
// signature script: one push opcode, a 64-byte signature and the sighash
// type byte.
const SignatureScriptSize = 1 + 64 + 1

// PrivateKey wraps a secp256k1 private key for Schnorr and ECDSA signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// SignSchnorr produces a 64-byte Schnorr signature over a 32-byte hash.
func (pk *PrivateKey) SignSchnorr(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := schnorr.Sign(pk.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// SignECDSA produces a DER-encoded ECDSA signature over a 32-byte hash.
func (pk *PrivateKey) SignECDSA(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig := ecdsa.Sign(pk.key, hash)
	return sig.Serialize(), nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// SchnorrPublicKey returns the 32-byte x-only public key used in Schnorr
// addresses and pay-to-pubkey scripts.
func (pk *PrivateKey) SchnorrPublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()[1:]
}

// Address derives the Schnorr pay-to-pubkey address for the given network
// prefix.
func (pk *PrivateKey) Address(prefix string) (*types.Address, error) {
	return types.NewAddress(prefix, types.AddressVersionPubKey, pk.SchnorrPublicKey())
}

// ECDSAAddress derives the ECDSA pay-to-pubkey address for the given
// network prefix.
func (pk *PrivateKey) ECDSAAddress(prefix string) (*types.Address, error) {
	return types.NewAddress(prefix, types.AddressVersionPubKeyECDSA, pk.PublicKey())
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// VerifySchnorr checks a Schnorr signature against a 32-byte hash and a
// public key, either 32-byte x-only or 33-byte compressed. Returns false on
// any error.
func VerifySchnorr(hash, signature, publicKey []byte) bool {
	var pubKey *secp256k1.PublicKey
	var err error
	if len(publicKey) == 32 {
		pubKey, err = schnorr.ParsePubKey(publicKey)
	} else {
		pubKey, err = secp256k1.ParsePubKey(publicKey)
	}
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}

// VerifyECDSA checks a DER-encoded ECDSA signature against a 32-byte hash
// and a compressed public key. Returns false on any error.
func VerifyECDSA(hash, signature, publicKey []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}
