package clients

import (
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletRoles(t *testing.T) {
	w, err := NewWallet(
		WalletKey{Role: RoleTreasury, Mnemonic: "//Alice", SS58Prefix: 42},
		WalletKey{Role: RoleRegistrar, Mnemonic: "//Bob", SS58Prefix: 28},
	)
	require.NoError(t, err)

	pub, err := w.PublicKey(RoleTreasury)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Encode(signature.TestKeyringPairAlice.PublicKey), pub)

	addr, err := w.Address(RoleTreasury)
	require.NoError(t, err)
	assert.Equal(t, signature.TestKeyringPairAlice.Address, addr)

	_, err = w.Pair(Role("unknown"))
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestWalletRejectsEmptySecret(t *testing.T) {
	_, err := NewWallet(WalletKey{Role: RoleTreasury})
	require.Error(t, err)
}
