package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vedhavyas/go-subkey/v2"

	"github.com/vitwit/remarkpay/types"
)

const accountIDLength = 32

// AccountIDFromAddress accepts an SS58 address or a 0x-prefixed public key
// and returns the 32 byte account id.
func AccountIDFromAddress(address string) ([]byte, error) {
	if strings.HasPrefix(address, "0x") {
		b, err := hexutil.Decode(address)
		if err != nil {
			return nil, invalidAddress(address, err)
		}
		if len(b) != accountIDLength {
			return nil, invalidAddress(address, fmt.Errorf("expected %d bytes, got %d", accountIDLength, len(b)))
		}
		return b, nil
	}
	_, pub, err := subkey.SS58Decode(address)
	if err != nil {
		return nil, invalidAddress(address, err)
	}
	if len(pub) != accountIDLength {
		return nil, invalidAddress(address, fmt.Errorf("expected %d bytes, got %d", accountIDLength, len(pub)))
	}
	return pub, nil
}

// HexAddress normalises an SS58 address or public key to lower case 0x hex.
func HexAddress(address string) (string, error) {
	b, err := AccountIDFromAddress(address)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(b), nil
}

// SS58Address encodes an SS58 address or public key with the given network prefix.
func SS58Address(address string, prefix uint16) (string, error) {
	b, err := AccountIDFromAddress(address)
	if err != nil {
		return "", err
	}
	return subkey.SS58Encode(b, prefix), nil
}

// SameAddress compares two account addresses in any supported encoding.
func SameAddress(a, b string) bool {
	ha, err := HexAddress(a)
	if err != nil {
		return strings.EqualFold(a, b)
	}
	hb, err := HexAddress(b)
	if err != nil {
		return false
	}
	return ha == hb
}

func invalidAddress(address string, err error) error {
	return &types.Error{
		Code:    types.ErrInvalidAddress,
		Message: fmt.Sprintf("invalid address %q: %v", address, err),
	}
}
