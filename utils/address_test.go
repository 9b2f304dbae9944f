package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceSS58 = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	aliceHex  = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
)

func TestHexAddress(t *testing.T) {
	got, err := HexAddress(aliceSS58)
	require.NoError(t, err)
	assert.Equal(t, aliceHex, got)

	got, err = HexAddress("0xD43593C715FDD31C61141ABD04A99FD6822C8558854CCDE39A5684E7A56DA27D")
	require.NoError(t, err)
	assert.Equal(t, aliceHex, got)

	_, err = HexAddress("0x1234")
	require.Error(t, err)
	_, err = HexAddress("not-an-address")
	require.Error(t, err)
}

func TestSS58Address(t *testing.T) {
	got, err := SS58Address(aliceHex, 42)
	require.NoError(t, err)
	assert.Equal(t, aliceSS58, got)

	sub, err := SS58Address(aliceHex, 28)
	require.NoError(t, err)
	assert.NotEqual(t, aliceSS58, sub)

	back, err := HexAddress(sub)
	require.NoError(t, err)
	assert.Equal(t, aliceHex, back)
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress(aliceSS58, aliceHex))
	assert.False(t, SameAddress(aliceHex, "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48"))
	assert.False(t, SameAddress("garbage", aliceHex))
}

func TestValidationHelpers(t *testing.T) {
	_, err := ValidateAmount("")
	require.Error(t, err)
	_, err = ValidateAmount("-3")
	require.Error(t, err)
	d, err := ValidateAmount("1000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000", d.String())

	assert.Equal(t, "0.001 ROC", FormatAmount(decimal.NewFromInt(1000000000), 12, "ROC"))
	assert.Equal(t, "1", FormatAmount(decimal.NewFromInt(10), 1, ""))
}
