package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	rptypes "github.com/vitwit/remarkpay/types"
)

// maxBatchDepth bounds nested Utility batches.
const maxBatchDepth = 4

var errUnsupportedCall = errors.New("unsupported call")

// SubstrateBlockSource reads finalized blocks and decodes the remark,
// transfer and batch calls of every extrinsic.
type SubstrateBlockSource struct {
	*SubstrateClient

	mu       sync.Mutex
	decoders map[types.U32]*callDecoder
	metas    map[types.U32]*types.Metadata
}

func NewBlockSource(sub *SubstrateClient) *SubstrateBlockSource {
	return &SubstrateBlockSource{
		SubstrateClient: sub,
		decoders:        make(map[types.U32]*callDecoder),
		metas:           make(map[types.U32]*types.Metadata),
	}
}

// Head returns the height of the last finalized block.
func (s *SubstrateBlockSource) Head(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	hash, err := s.api.RPC.Chain.GetFinalizedHead()
	if err != nil {
		return 0, fmt.Errorf("get %s finalized head: %w", s.cfg.Name, err)
	}
	header, err := s.api.RPC.Chain.GetHeader(hash)
	if err != nil {
		return 0, fmt.Errorf("get %s header %s: %w", s.cfg.Name, hash.Hex(), err)
	}
	return uint64(header.Number), nil
}

func (s *SubstrateBlockSource) Blocks(ctx context.Context, from, to uint64) ([]rptypes.Block, error) {
	if to < from {
		return nil, nil
	}
	blocks := make([]rptypes.Block, 0, to-from+1)
	for h := from; h <= to; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := s.block(h)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (s *SubstrateBlockSource) block(height uint64) (rptypes.Block, error) {
	hash, err := s.api.RPC.Chain.GetBlockHash(height)
	if err != nil {
		return rptypes.Block{}, fmt.Errorf("get %s block hash %d: %w", s.cfg.Name, height, err)
	}
	if hash == (types.Hash{}) {
		return rptypes.Block{}, fmt.Errorf("%w: %s #%d", ErrBlockNotFound, s.cfg.Name, height)
	}

	signed, err := s.api.RPC.Chain.GetBlock(hash)
	if err != nil {
		return rptypes.Block{}, fmt.Errorf("get %s block %d: %w", s.cfg.Name, height, err)
	}
	meta, decoder, err := s.decoderAt(hash)
	if err != nil {
		return rptypes.Block{}, err
	}
	events, err := s.events.GetEvents(hash)
	if err != nil {
		return rptypes.Block{}, fmt.Errorf("get %s events of %d: %w", s.cfg.Name, height, err)
	}
	ts, err := s.timestamp(meta, hash)
	if err != nil {
		return rptypes.Block{}, err
	}

	block := rptypes.Block{
		Height:     height,
		Hash:       hash.Hex(),
		Timestamp:  ts,
		Extrinsics: make([]rptypes.Extrinsic, 0, len(signed.Block.Extrinsics)),
	}
	outcomes := extrinsicOutcomes(events)
	for i, ext := range signed.Block.Extrinsics {
		x := rptypes.Extrinsic{Index: uint32(i)}
		if x.Hash, err = extrinsicHash(ext); err != nil {
			return rptypes.Block{}, err
		}
		interrupted := -1
		if o := outcomes[uint32(i)]; o != nil {
			x.Success = o.success
			interrupted = o.interrupted
		}
		if ext.IsSigned() && ext.Signature.Signer.IsID {
			x.Origin = hexutil.Encode(ext.Signature.Signer.AsID[:])
		}
		x.Calls, err = decoder.decode(ext.Method, interrupted)
		if err != nil && !errors.Is(err, errUnsupportedCall) {
			s.logger.Debug("extrinsic partially decoded", map[string]any{
				"block":     height,
				"extrinsic": i,
				"error":     err,
			})
		}
		block.Extrinsics = append(block.Extrinsics, x)
	}
	return block, nil
}

// decoderAt returns the metadata and call decoder of the runtime that
// produced the block.
func (s *SubstrateBlockSource) decoderAt(hash types.Hash) (*types.Metadata, *callDecoder, error) {
	rv, err := s.api.RPC.State.GetRuntimeVersion(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("get %s runtime version at %s: %w", s.cfg.Name, hash.Hex(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.decoders[rv.SpecVersion]; ok {
		return s.metas[rv.SpecVersion], d, nil
	}
	meta, err := s.api.RPC.State.GetMetadata(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("get %s metadata at %s: %w", s.cfg.Name, hash.Hex(), err)
	}
	d := newCallDecoder(meta)
	s.metas[rv.SpecVersion] = meta
	s.decoders[rv.SpecVersion] = d
	return meta, d, nil
}

func (s *SubstrateBlockSource) timestamp(meta *types.Metadata, hash types.Hash) (time.Time, error) {
	key, err := types.CreateStorageKey(meta, "Timestamp", "Now")
	if err != nil {
		return time.Time{}, fmt.Errorf("create storage key: %w", err)
	}
	var now types.U64
	if _, err := s.api.RPC.State.GetStorage(key, &now, hash); err != nil {
		return time.Time{}, fmt.Errorf("get %s timestamp at %s: %w", s.cfg.Name, hash.Hex(), err)
	}
	return time.UnixMilli(int64(now)).UTC(), nil
}

// callDecoder knows the call indices of one runtime.
type callDecoder struct {
	remarks   map[types.CallIndex]bool
	transfers map[types.CallIndex]string
	batches   map[types.CallIndex]bool
}

func newCallDecoder(meta *types.Metadata) *callDecoder {
	d := &callDecoder{
		remarks:   make(map[types.CallIndex]bool),
		transfers: make(map[types.CallIndex]string),
		batches:   make(map[types.CallIndex]bool),
	}
	for _, name := range []string{"System.remark", "System.remark_with_event"} {
		if ci, err := meta.FindCallIndex(name); err == nil {
			d.remarks[ci] = true
		}
	}
	for _, name := range []string{"Balances.transfer", "Balances.transfer_keep_alive", "Balances.transfer_allow_death"} {
		if ci, err := meta.FindCallIndex(name); err == nil {
			d.transfers[ci] = name
		}
	}
	for _, name := range []string{"Utility.batch", "Utility.batch_all", "Utility.force_batch"} {
		if ci, err := meta.FindCallIndex(name); err == nil {
			d.batches[ci] = true
		}
	}
	return d
}

// decode flattens call into the calls that ran. interrupted is the index of
// the first inner call of a batch that did not run, or -1. Decoding stops at
// the first call of an unknown kind since its arguments cannot be skipped;
// the calls decoded so far are returned with the error.
func (d *callDecoder) decode(call types.Call, interrupted int) ([]rptypes.Call, error) {
	dec := scale.NewDecoder(bytes.NewReader(call.Args))
	return d.decodeArgs(call.CallIndex, dec, interrupted, 0)
}

func (d *callDecoder) decodeArgs(ci types.CallIndex, dec *scale.Decoder, interrupted, depth int) ([]rptypes.Call, error) {
	switch {
	case d.remarks[ci]:
		var payload types.Bytes
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode remark: %w", err)
		}
		return []rptypes.Call{{Name: rptypes.CallSystemRemark, Remark: payload}}, nil

	case d.transfers[ci] != "":
		var dest types.MultiAddress
		if err := dec.Decode(&dest); err != nil {
			return nil, fmt.Errorf("decode transfer dest: %w", err)
		}
		amount, err := dec.DecodeUintCompact()
		if err != nil {
			return nil, fmt.Errorf("decode transfer amount: %w", err)
		}
		var to string
		if dest.IsID {
			to = hexutil.Encode(dest.AsID[:])
		}
		return []rptypes.Call{{
			Name:     d.transfers[ci],
			Transfer: &rptypes.CallTransfer{Dest: to, Amount: decimal.NewFromBigInt(amount, 0)},
		}}, nil

	case d.batches[ci]:
		if depth >= maxBatchDepth {
			return nil, fmt.Errorf("batch nested deeper than %d", maxBatchDepth)
		}
		n, err := dec.DecodeUintCompact()
		if err != nil {
			return nil, fmt.Errorf("decode batch length: %w", err)
		}
		var out []rptypes.Call
		for i := 0; i < int(n.Int64()); i++ {
			var inner types.CallIndex
			if err := dec.Decode(&inner); err != nil {
				return out, fmt.Errorf("decode batch call %d: %w", i, err)
			}
			calls, err := d.decodeArgs(inner, dec, -1, depth+1)
			if interrupted < 0 || i < interrupted {
				out = append(out, calls...)
			}
			if err != nil {
				return out, err
			}
		}
		return out, nil
	}
	return nil, errUnsupportedCall
}
