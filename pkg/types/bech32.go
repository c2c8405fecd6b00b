package types

import (
	"errors"
	"fmt"
	"strings"
)

// Quasar addresses are bech32 strings (BIP-173): a network prefix such as
// "quasar", the separator '1', then the version byte and key payload
// regrouped into 5-bit symbols, followed by a 6-symbol checksum.

// addressCharset is the 32-symbol data alphabet.
const addressCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// checksumLength is the number of trailing checksum symbols.
const checksumLength = 6

var checksumGenerator = [5]uint32{
	0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3,
}

// Bech32Encode renders a network prefix and payload bytes as an address
// string.
func Bech32Encode(prefix string, payload []byte) (string, error) {
	if prefix == "" {
		return "", errors.New("bech32: empty prefix")
	}
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < 33 || prefix[i] > 126 {
			return "", fmt.Errorf("bech32: prefix byte %#x not encodable", prefix[i])
		}
	}

	symbols, err := regroupBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("bech32: %w", err)
	}

	out := make([]byte, 0, len(prefix)+1+len(symbols)+checksumLength)
	out = append(out, prefix...)
	out = append(out, '1')
	for _, v := range symbols {
		out = append(out, addressCharset[v])
	}
	for _, v := range checksum(prefix, symbols) {
		out = append(out, addressCharset[v])
	}
	return string(out), nil
}

// Bech32Decode splits an address string into its network prefix and payload
// bytes, verifying the checksum.
func Bech32Decode(s string) (string, []byte, error) {
	if s == "" {
		return "", nil, errors.New("bech32: empty string")
	}
	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return "", nil, errors.New("bech32: mixed case")
	}
	s = strings.ToLower(s)

	sep := strings.LastIndexByte(s, '1')
	if sep < 1 {
		return "", nil, errors.New("bech32: missing separator")
	}
	prefix, body := s[:sep], s[sep+1:]
	if len(body) < checksumLength {
		return "", nil, errors.New("bech32: too short")
	}

	symbols := make([]byte, len(body))
	for i := 0; i < len(body); i++ {
		v := strings.IndexByte(addressCharset, body[i])
		if v < 0 {
			return "", nil, fmt.Errorf("bech32: invalid character %q", body[i])
		}
		symbols[i] = byte(v)
	}

	if polymod(append(expandPrefix(prefix), symbols...)) != 1 {
		return "", nil, errors.New("bech32: invalid checksum")
	}

	payload, err := regroupBits(symbols[:len(symbols)-checksumLength], 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("bech32: %w", err)
	}
	return prefix, payload, nil
}

func polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i, gen := range checksumGenerator {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen
			}
		}
	}
	return chk
}

// expandPrefix spreads the prefix characters into the high and low 5-bit
// halves the checksum commits to.
func expandPrefix(prefix string) []byte {
	out := make([]byte, 0, len(prefix)*2+1)
	for i := 0; i < len(prefix); i++ {
		out = append(out, prefix[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(prefix); i++ {
		out = append(out, prefix[i]&31)
	}
	return out
}

func checksum(prefix string, symbols []byte) []byte {
	values := append(expandPrefix(prefix), symbols...)
	values = append(values, make([]byte, checksumLength)...)
	mod := polymod(values) ^ 1
	out := make([]byte, checksumLength)
	for i := range out {
		out[i] = byte(mod >> uint(5*(checksumLength-1-i)) & 31)
	}
	return out
}

// regroupBits repacks a byte slice between group widths, most significant
// bits first. Encoding pads the final group with zeroes; decoding rejects
// leftover non-zero padding.
func regroupBits(data []byte, fromWidth, toWidth uint, pad bool) ([]byte, error) {
	var (
		acc  uint32
		bits uint
		out  []byte
	)
	max := uint32(1)<<toWidth - 1

	for _, b := range data {
		if uint32(b)>>fromWidth != 0 {
			return nil, fmt.Errorf("value %d exceeds %d bits", b, fromWidth)
		}
		acc = acc<<fromWidth | uint32(b)
		bits += fromWidth
		for bits >= toWidth {
			bits -= toWidth
			out = append(out, byte(acc>>bits&max))
		}
	}

	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toWidth-bits)&max))
		}
		return out, nil
	}
	if bits >= fromWidth || acc<<(toWidth-bits)&max != 0 {
		return nil, errors.New("non-zero padding")
	}
	return out, nil
}
