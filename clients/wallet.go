package clients

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Role names a signing account.
type Role string

const (
	// RoleRegistrar signs domain registrations on the buyer chain.
	RoleRegistrar Role = "registrar"
	// RoleTreasury receives payments and signs remarks and refunds on the seller chain.
	RoleTreasury Role = "treasury"
)

// WalletKey is the secret of one role.
type WalletKey struct {
	Role       Role
	Mnemonic   string
	SS58Prefix uint16
}

// Wallet holds the sr25519 key pairs of the service. It is read-only after
// NewWallet returns.
type Wallet struct {
	pairs map[Role]signature.KeyringPair
}

func NewWallet(keys ...WalletKey) (*Wallet, error) {
	w := &Wallet{pairs: make(map[Role]signature.KeyringPair, len(keys))}
	for _, k := range keys {
		if k.Mnemonic == "" {
			return nil, fmt.Errorf("empty secret for role %s", k.Role)
		}
		pair, err := signature.KeyringPairFromSecret(k.Mnemonic, k.SS58Prefix)
		if err != nil {
			return nil, fmt.Errorf("load %s key: %w", k.Role, err)
		}
		w.pairs[k.Role] = pair
	}
	return w, nil
}

// Pair returns the key pair of role.
func (w *Wallet) Pair(role Role) (signature.KeyringPair, error) {
	pair, ok := w.pairs[role]
	if !ok {
		return signature.KeyringPair{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return pair, nil
}

// PublicKey returns the 0x-prefixed public key of role.
func (w *Wallet) PublicKey(role Role) (string, error) {
	pair, err := w.Pair(role)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(pair.PublicKey), nil
}

// Address returns the SS58 address of role.
func (w *Wallet) Address(role Role) (string, error) {
	pair, err := w.Pair(role)
	if err != nil {
		return "", err
	}
	return pair.Address, nil
}
