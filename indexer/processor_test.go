package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/remarkpay/parser"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
)

const alice = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"

type fakeSource struct {
	head   uint64
	blocks map[uint64]types.Block
	ranges [][2]uint64
	err    error
}

func (s *fakeSource) Head(context.Context) (uint64, error) { return s.head, s.err }

func (s *fakeSource) Blocks(_ context.Context, from, to uint64) ([]types.Block, error) {
	s.ranges = append(s.ranges, [2]uint64{from, to})
	var out []types.Block
	for h := from; h <= to; h++ {
		b, ok := s.blocks[h]
		if !ok {
			b = types.Block{Height: h, Hash: fmt.Sprintf("0x%02x", h)}
		}
		out = append(out, b)
	}
	return out, nil
}

type handled struct {
	opID   string
	isHead bool
}

type recordingSettler struct {
	calls   []handled
	flushes int
	failOn  string
}

func (r *recordingSettler) Handle(_ context.Context, call parser.ParsedCall, isHead bool) error {
	if call.Remark.OpID() == r.failOn {
		return errors.New("store down")
	}
	r.calls = append(r.calls, handled{opID: call.Remark.OpID(), isHead: isHead})
	return nil
}

func (r *recordingSettler) FlushDeferredRefunds(context.Context) error {
	r.flushes++
	return nil
}

func paymentBlock(height uint64, opID string) types.Block {
	return types.Block{
		Height: height,
		Hash:   fmt.Sprintf("0x%02x", height),
		Extrinsics: []types.Extrinsic{{
			Index:   1,
			Success: true,
			Origin:  alice,
			Calls: []types.Call{
				{Name: "Balances.transfer", Transfer: &types.CallTransfer{Dest: alice, Amount: decimal.NewFromInt(1)}},
				{Name: types.CallSystemRemark, Remark: []byte("social_t_0::0.1::DMN_REG::" + opID + "::" + alice + "::alice.sub::ROC")},
			},
		}},
	}
}

func newProcessor(t *testing.T, src *fakeSource, settler *recordingSettler, cps store.CheckpointStore, cfg Config) *Processor {
	t.Helper()
	codec, err := remark.NewCodec(remark.Config{
		ProtNames: []string{"social_t_0"},
		Versions:  []string{"0.1"},
		Actions:   []string{remark.ActionDomainRegister},
	}, remark.DefaultSchema())
	require.NoError(t, err)
	cfg.Chain = "rococo"
	return NewProcessor(src, parser.New(codec), settler, cps, cfg)
}

func TestRunOnceReplayThenHead(t *testing.T) {
	src := &fakeSource{head: 14, blocks: map[uint64]types.Block{
		11: paymentBlock(11, "old"),
		14: paymentBlock(14, "new"),
	}}
	settler := &recordingSettler{}
	cps := store.NewMemoryStore()
	p := newProcessor(t, src, settler, cps, Config{StartBlock: 10, BatchSize: 3})

	atHead, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, atHead)
	assert.Equal(t, []handled{{"old", false}}, settler.calls)
	assert.Equal(t, 0, settler.flushes)

	cp, err := cps.LoadCheckpoint(context.Background(), "rococo")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), cp.BlockNumber)
	assert.Equal(t, "0x0c", cp.BlockHash)

	atHead, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, atHead)
	assert.Equal(t, []handled{{"old", false}, {"new", true}}, settler.calls)
	assert.Equal(t, 1, settler.flushes)
	assert.Equal(t, [][2]uint64{{10, 12}, {13, 14}}, src.ranges)

	atHead, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, atHead)
	assert.Len(t, src.ranges, 2)
}

func TestRunOnceFlagsOnlyHeadBlockCalls(t *testing.T) {
	src := &fakeSource{head: 14, blocks: map[uint64]types.Block{
		5:  paymentBlock(5, "historical"),
		14: paymentBlock(14, "tip"),
	}}
	settler := &recordingSettler{}
	p := newProcessor(t, src, settler, store.NewMemoryStore(), Config{StartBlock: 1, BatchSize: 100})

	atHead, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, atHead)
	assert.Equal(t, []handled{{"historical", false}, {"tip", true}}, settler.calls)
	assert.Equal(t, [][2]uint64{{1, 14}}, src.ranges)
	assert.Equal(t, 1, settler.flushes)
}

func TestRunOnceFailureKeepsCheckpoint(t *testing.T) {
	src := &fakeSource{head: 5, blocks: map[uint64]types.Block{4: paymentBlock(4, "bad")}}
	settler := &recordingSettler{failOn: "bad"}
	cps := store.NewMemoryStore()
	require.NoError(t, cps.SaveCheckpoint(context.Background(), types.Checkpoint{Chain: "rococo", BlockNumber: 2}))
	p := newProcessor(t, src, settler, cps, Config{BatchSize: 10})

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
	cp, err := cps.LoadCheckpoint(context.Background(), "rococo")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cp.BlockNumber)
	assert.Equal(t, 0, settler.flushes)

	// the retry starts from the same block
	settler.failOn = ""
	_, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{3, 5}, {3, 5}}, src.ranges)
}

func TestRunOnceHeadError(t *testing.T) {
	src := &fakeSource{err: errors.New("rpc down")}
	p := newProcessor(t, src, &recordingSettler{}, store.NewMemoryStore(), Config{})
	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
}

func TestStartBlockWinsOverOlderCheckpoint(t *testing.T) {
	src := &fakeSource{head: 100}
	cps := store.NewMemoryStore()
	require.NoError(t, cps.SaveCheckpoint(context.Background(), types.Checkpoint{Chain: "rococo", BlockNumber: 3}))
	p := newProcessor(t, src, &recordingSettler{}, cps, Config{StartBlock: 50, BatchSize: 10})

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{50, 59}}, src.ranges)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	src := &fakeSource{head: 1}
	settler := &recordingSettler{}
	p := newProcessor(t, src, settler, store.NewMemoryStore(), Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.RunForever(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, settler.flushes)
	assert.Len(t, src.ranges, 1)
}
