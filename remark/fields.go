package remark

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// PublicKeyLength is the byte length of a target account public key.
const PublicKeyLength = 32

var coercers = map[Field]func(string) error{
	FieldOpID:         nonEmpty,
	FieldToken:        nonEmpty,
	FieldTarget:       publicKey,
	FieldDomainName:   domainName,
	FieldEnergyAmount: positiveInteger,
}

// coerce checks value against the rules of f. Values are never rewritten.
func coerce(f Field, value string) error {
	if strings.Contains(value, Delimiter) {
		return fmt.Errorf("%s contains the delimiter", f)
	}
	check, ok := coercers[f]
	if !ok {
		check = nonEmpty
	}
	if err := check(value); err != nil {
		return fmt.Errorf("%s: %w", f, err)
	}
	return nil
}

func nonEmpty(v string) error {
	if v == "" {
		return fmt.Errorf("empty value")
	}
	return nil
}

func publicKey(v string) error {
	b, err := hexutil.Decode(v)
	if err != nil {
		return err
	}
	if len(b) != PublicKeyLength {
		return fmt.Errorf("expected %d bytes, got %d", PublicKeyLength, len(b))
	}
	return nil
}

func domainName(v string) error {
	if v == "" {
		return fmt.Errorf("empty value")
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return fmt.Errorf("contains whitespace")
	}
	return nil
}

func positiveInteger(v string) error {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return err
	}
	if !d.IsInteger() || !d.IsPositive() {
		return fmt.Errorf("%s is not a positive integer", v)
	}
	return nil
}
