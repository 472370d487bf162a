package models

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the byte length of a principal or target address.
const AddressLength = 20

// Address identifies a principal or a monitored target.
type Address [AddressLength]byte

// ZeroAddress is the null address.
var ZeroAddress Address

// ParseAddress accepts a 0x-prefixed 40 hex digit address. Mixed-case input must
// carry a valid EIP-55 checksum; all-lower and all-upper input is accepted as is.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return a, fmt.Errorf("%w: address %q must start with 0x", ErrInvalidInput, s)
	}
	body := s[2:]
	if len(body) != 2*AddressLength {
		return a, fmt.Errorf("%w: address %q must have 40 hex digits", ErrInvalidInput, s)
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return a, fmt.Errorf("%w: address %q is not hex", ErrInvalidInput, s)
	}
	copy(a[:], raw)

	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if a.Hex() != "0x"+body {
			return ZeroAddress, fmt.Errorf("%w: address %q has a bad checksum", ErrInvalidInput, s)
		}
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex renders the EIP-55 mixed-case checksum form.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])
	hash := keccak256([]byte(lower))

	out := []byte(lower)
	for i := range out {
		if out[i] < 'a' {
			continue
		}
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] -= 'a' - 'A'
		}
	}
	return "0x" + string(out)
}

func (a Address) String() string {
	return a.Hex()
}

// Key is the lower-case form used in storage keys.
func (a Address) Key() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DeriveAddress returns a deterministic identity for the nonce-th registry
// created by deployer: the last 20 bytes of keccak256(deployer || nonce).
func DeriveAddress(deployer Address, nonce uint64) Address {
	var buf [AddressLength + 8]byte
	copy(buf[:], deployer[:])
	binary.BigEndian.PutUint64(buf[AddressLength:], nonce)
	hash := keccak256(buf[:])

	var a Address
	copy(a[:], hash[len(hash)-AddressLength:])
	return a
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
