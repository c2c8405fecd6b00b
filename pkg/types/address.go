package types

import (
	"encoding/json"
	"fmt"
)

// AddressVersion identifies the kind of payload an address carries.
type AddressVersion uint8

const (
	// AddressVersionPubKey is a 32-byte Schnorr public key address.
	AddressVersionPubKey AddressVersion = 0

	// AddressVersionPubKeyECDSA is a 33-byte compressed ECDSA public key address.
	AddressVersionPubKeyECDSA AddressVersion = 1

	// AddressVersionScriptHash is a 32-byte script hash address.
	AddressVersionScriptHash AddressVersion = 8
)

// payloadSize returns the required payload length for the version, or 0 if
// the version is unknown.
func (v AddressVersion) payloadSize() int {
	switch v {
	case AddressVersionPubKey, AddressVersionScriptHash:
		return 32
	case AddressVersionPubKeyECDSA:
		return 33
	default:
		return 0
	}
}

// String returns a human-readable name for the address version.
func (v AddressVersion) String() string {
	switch v {
	case AddressVersionPubKey:
		return "PubKey"
	case AddressVersionPubKeyECDSA:
		return "PubKeyECDSA"
	case AddressVersionScriptHash:
		return "ScriptHash"
	default:
		return "Unknown"
	}
}

// Address is a bech32-encoded destination on a specific network. The
// network prefix is part of the address identity: the same payload on two
// networks yields two distinct addresses.
type Address struct {
	Prefix  string
	Version AddressVersion
	Payload []byte
}

// NewAddress constructs an address after validating the payload length
// against the version.
func NewAddress(prefix string, version AddressVersion, payload []byte) (*Address, error) {
	if prefix == "" {
		return nil, fmt.Errorf("empty address prefix")
	}
	want := version.payloadSize()
	if want == 0 {
		return nil, fmt.Errorf("unknown address version %d", version)
	}
	if len(payload) != want {
		return nil, fmt.Errorf("address version %s requires %d payload bytes, got %d",
			version, want, len(payload))
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Address{Prefix: prefix, Version: version, Payload: p}, nil
}

// String returns the bech32 encoding: prefix + "1" + version byte + payload.
func (a *Address) String() string {
	data := make([]byte, 1+len(a.Payload))
	data[0] = byte(a.Version)
	copy(data[1:], a.Payload)
	s, err := Bech32Encode(a.Prefix, data)
	if err != nil {
		// Unreachable for a validated address.
		return ""
	}
	return s
}

// Equal reports whether two addresses are identical, including the network
// prefix.
func (a *Address) Equal(other *Address) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.Prefix != other.Prefix || a.Version != other.Version {
		return false
	}
	if len(a.Payload) != len(other.Payload) {
		return false
	}
	for i := range a.Payload {
		if a.Payload[i] != other.Payload[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the address as its bech32 string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a bech32 string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}

// ParseAddress parses a bech32 address string of any network.
func ParseAddress(s string) (*Address, error) {
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	prefix, data, err := Bech32Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("invalid address: missing version byte")
	}
	return NewAddress(prefix, AddressVersion(data[0]), data[1:])
}

// ParseAddressForNetwork parses an address and verifies it belongs to the
// network identified by the given prefix.
func ParseAddressForNetwork(s, prefix string) (*Address, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return nil, err
	}
	if addr.Prefix != prefix {
		return nil, fmt.Errorf("address %s belongs to network prefix %q, expected %q",
			s, addr.Prefix, prefix)
	}
	return addr, nil
}
