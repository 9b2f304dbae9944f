package clients

import (
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rptypes "github.com/vitwit/remarkpay/types"
)

var (
	remarkIdx   = types.CallIndex{SectionIndex: 0, MethodIndex: 7}
	transferIdx = types.CallIndex{SectionIndex: 4, MethodIndex: 3}
	batchIdx    = types.CallIndex{SectionIndex: 24, MethodIndex: 2}
	unknownIdx  = types.CallIndex{SectionIndex: 99, MethodIndex: 0}
)

func testDecoder() *callDecoder {
	return &callDecoder{
		remarks:   map[types.CallIndex]bool{remarkIdx: true},
		transfers: map[types.CallIndex]string{transferIdx: "Balances.transfer_keep_alive"},
		batches:   map[types.CallIndex]bool{batchIdx: true},
	}
}

func remarkCall(t *testing.T, payload string) types.Call {
	args, err := codec.Encode(types.NewBytes([]byte(payload)))
	require.NoError(t, err)
	return types.Call{CallIndex: remarkIdx, Args: args}
}

func transferCall(t *testing.T, dest []byte, amount uint64) types.Call {
	addr, err := types.NewMultiAddressFromAccountID(dest)
	require.NoError(t, err)
	a, err := codec.Encode(addr)
	require.NoError(t, err)
	b, err := codec.Encode(types.NewUCompactFromUInt(amount))
	require.NoError(t, err)
	return types.Call{CallIndex: transferIdx, Args: append(a, b...)}
}

func batchCall(t *testing.T, calls ...types.Call) types.Call {
	args, err := codec.Encode(calls)
	require.NoError(t, err)
	return types.Call{CallIndex: batchIdx, Args: args}
}

func TestDecodeRemark(t *testing.T) {
	calls, err := testDecoder().decode(remarkCall(t, "social_t_0::0.1::DMN_REG::x"), -1)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, rptypes.CallSystemRemark, calls[0].Name)
	assert.Equal(t, "social_t_0::0.1::DMN_REG::x", string(calls[0].Remark))
}

func TestDecodeBatchFlattensInOrder(t *testing.T) {
	alice := signature.TestKeyringPairAlice.PublicKey
	call := batchCall(t, transferCall(t, alice, 1_000_000_000), remarkCall(t, "hello"))

	calls, err := testDecoder().decode(call, -1)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	assert.Equal(t, "Balances.transfer_keep_alive", calls[0].Name)
	require.NotNil(t, calls[0].Transfer)
	assert.Equal(t, hexutil.Encode(alice), calls[0].Transfer.Dest)
	assert.Equal(t, "1000000000", calls[0].Transfer.Amount.String())

	assert.Equal(t, rptypes.CallSystemRemark, calls[1].Name)
	assert.Equal(t, "hello", string(calls[1].Remark))
}

func TestDecodeNestedBatch(t *testing.T) {
	inner := batchCall(t, remarkCall(t, "b"), remarkCall(t, "c"))
	calls, err := testDecoder().decode(batchCall(t, remarkCall(t, "a"), inner), -1)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, "a", string(calls[0].Remark))
	assert.Equal(t, "c", string(calls[2].Remark))
}

func TestDecodeInterruptedBatch(t *testing.T) {
	dest := signature.TestKeyringPairAlice.PublicKey
	call := batchCall(t, transferCall(t, dest, 5), remarkCall(t, "never ran"))

	calls, err := testDecoder().decode(call, 1)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Transfer)
}

func TestDecodeStopsAtUnknownCall(t *testing.T) {
	unknown := types.Call{CallIndex: unknownIdx, Args: []byte{1, 2, 3}}
	call := batchCall(t, remarkCall(t, "first"), unknown, remarkCall(t, "after"))

	calls, err := testDecoder().decode(call, -1)
	assert.ErrorIs(t, err, errUnsupportedCall)
	require.Len(t, calls, 1)
	assert.Equal(t, "first", string(calls[0].Remark))

	calls, err = testDecoder().decode(unknown, -1)
	assert.ErrorIs(t, err, errUnsupportedCall)
	assert.Empty(t, calls)
}

func applyExtrinsic(i uint32) *types.Phase {
	return &types.Phase{IsApplyExtrinsic: true, AsApplyExtrinsic: i}
}

func TestExtrinsicOutcomes(t *testing.T) {
	events := []*parser.Event{
		{Name: eventExtrinsicSuccess, Phase: applyExtrinsic(0)},
		{Name: "Balances.Transfer", Phase: applyExtrinsic(1)},
		{Name: eventExtrinsicFailed, Phase: applyExtrinsic(1), Fields: registry.DecodedFields{
			{Name: "dispatch_error", Value: "BadOrigin"},
		}},
		{Name: eventBatchInterrupted, Phase: applyExtrinsic(2), Fields: registry.DecodedFields{
			{Name: "index", Value: types.NewU32(1)},
		}},
		{Name: eventExtrinsicSuccess, Phase: applyExtrinsic(2)},
		{Name: eventDomainRegistered, Phase: applyExtrinsic(3)},
		{Name: eventExtrinsicSuccess, Phase: applyExtrinsic(3)},
		{Name: "System.NewAccount", Phase: &types.Phase{IsFinalization: true}},
	}

	out := extrinsicOutcomes(events)
	require.Len(t, out, 4)

	assert.True(t, out[0].success)
	assert.Equal(t, -1, out[0].interrupted)

	assert.False(t, out[1].success)
	assert.Contains(t, out[1].reason, "BadOrigin")
	assert.True(t, out[1].emitted["Balances.Transfer"])

	assert.True(t, out[2].success)
	assert.Equal(t, 1, out[2].interrupted)

	assert.True(t, out[3].emitted[eventDomainRegistered])
}

func TestExtrinsicHashIsStable(t *testing.T) {
	ext := types.NewExtrinsic(remarkCall(t, "x"))
	h1, err := extrinsicHash(ext)
	require.NoError(t, err)
	h2, err := extrinsicHash(ext)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 66)

	other, err := extrinsicHash(types.NewExtrinsic(remarkCall(t, "y")))
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestTxStatusReason(t *testing.T) {
	assert.Equal(t, "extrinsic dropped from the pool", txStatusReason(types.ExtrinsicStatus{IsDropped: true}))
	assert.Equal(t, "extrinsic invalid", txStatusReason(types.ExtrinsicStatus{IsInvalid: true}))
}
