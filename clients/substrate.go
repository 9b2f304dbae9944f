package clients

import (
	"context"
	"fmt"
	"sync"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/retriever"
	regstate "github.com/centrifuge/go-substrate-rpc-client/v4/registry/state"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"

	"github.com/vitwit/remarkpay/logger"
	rptypes "github.com/vitwit/remarkpay/types"
)

const (
	eventExtrinsicSuccess = "System.ExtrinsicSuccess"
	eventExtrinsicFailed  = "System.ExtrinsicFailed"
	eventBatchInterrupted = "Utility.BatchInterrupted"
)

// SubstrateClient is the connection to one Substrate chain shared by the
// buyer and seller clients and the block source.
type SubstrateClient struct {
	cfg    rptypes.ChainConfig
	api    *gsrpc.SubstrateAPI
	wallet *Wallet
	events retriever.EventRetriever
	logger logger.Logger

	genesis types.Hash

	mu          sync.Mutex
	meta        *types.Metadata
	specVersion types.U32

	// submissions of one client are serialised so nonces stay ordered
	submitMu sync.Mutex
}

func NewSubstrateClient(cfg rptypes.ChainConfig, wallet *Wallet, log logger.Logger) (*SubstrateClient, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	api, err := gsrpc.NewSubstrateAPI(cfg.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", cfg.Name, err)
	}

	genesis, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("get %s genesis hash: %w", cfg.Name, err)
	}

	events, err := retriever.NewDefaultEventRetriever(regstate.NewEventProvider(api.RPC.State), api.RPC.State)
	if err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("create %s event retriever: %w", cfg.Name, err)
	}

	c := &SubstrateClient{
		cfg:     cfg,
		api:     api,
		wallet:  wallet,
		events:  events,
		logger:  logger.Named(log, cfg.Name),
		genesis: genesis,
	}
	if _, _, err := c.chainState(); err != nil {
		api.Client.Close()
		return nil, err
	}
	return c, nil
}

func (c *SubstrateClient) Name() string {
	return c.cfg.Name
}

func (c *SubstrateClient) Close() {
	c.api.Client.Close()
}

// chainState returns the latest runtime version and the metadata matching
// it, reloading the metadata after a runtime upgrade.
func (c *SubstrateClient) chainState() (*types.Metadata, *types.RuntimeVersion, error) {
	rv, err := c.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, nil, fmt.Errorf("get %s runtime version: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta != nil && c.specVersion == rv.SpecVersion {
		return c.meta, rv, nil
	}
	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, nil, fmt.Errorf("get %s metadata: %w", c.cfg.Name, err)
	}
	c.meta = meta
	c.specVersion = rv.SpecVersion
	return meta, rv, nil
}

func (c *SubstrateClient) metadata() (*types.Metadata, error) {
	meta, _, err := c.chainState()
	return meta, err
}

// BlockMeta returns the number and hash of the best block.
func (c *SubstrateClient) BlockMeta(ctx context.Context) (rptypes.BlockMeta, error) {
	if err := ctx.Err(); err != nil {
		return rptypes.BlockMeta{}, err
	}
	header, err := c.api.RPC.Chain.GetHeaderLatest()
	if err != nil {
		return rptypes.BlockMeta{}, fmt.Errorf("get %s latest header: %w", c.cfg.Name, err)
	}
	hash, err := c.api.RPC.Chain.GetBlockHash(uint64(header.Number))
	if err != nil {
		return rptypes.BlockMeta{}, fmt.Errorf("get %s block hash: %w", c.cfg.Name, err)
	}
	return rptypes.BlockMeta{BlockNumber: uint64(header.Number), BlockHash: hash.Hex()}, nil
}

// submit signs call with the key of role, submits it and waits until it is
// in a block. expectEvent, when set, must be emitted by the extrinsic for the
// result to count as a success; sudo and proxy wrappers succeed even when
// the wrapped call fails.
//
// A returned error means the outcome is unknown: the extrinsic may or may
// not have been included. A rejection by the pool is reported as a
// TxDispatchError result.
func (c *SubstrateClient) submit(ctx context.Context, role Role, call types.Call, expectEvent string) (*TxResult, error) {
	pair, err := c.wallet.Pair(role)
	if err != nil {
		return nil, err
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	_, rv, err := c.chainState()
	if err != nil {
		return nil, err
	}

	var nonce types.U32
	if err := c.api.Client.Call(&nonce, "system_accountNextIndex", pair.Address); err != nil {
		return nil, fmt.Errorf("get %s nonce of %s: %w", c.cfg.Name, role, err)
	}

	ext := types.NewExtrinsic(call)
	err = ext.Sign(pair, types.SignatureOptions{
		BlockHash:          c.genesis,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        c.genesis,
		Nonce:              types.NewUCompactFromUInt(uint64(nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("sign %s extrinsic: %w", c.cfg.Name, err)
	}

	txHash, err := extrinsicHash(ext)
	if err != nil {
		return nil, err
	}

	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		c.logger.Warn("extrinsic rejected", map[string]any{"tx_hash": txHash, "error": err})
		return &TxResult{Status: TxDispatchError, TxHash: txHash, Reason: err.Error()}, nil
	}
	defer sub.Unsubscribe()

	c.logger.Debug("extrinsic submitted", map[string]any{"tx_hash": txHash, "nonce": uint32(nonce), "role": string(role)})

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-sub.Err():
			return nil, fmt.Errorf("watch %s extrinsic %s: %w", c.cfg.Name, txHash, err)
		case status, ok := <-sub.Chan():
			if !ok {
				return nil, ErrSubscriptionClosed
			}
			switch {
			case status.IsInBlock:
				return c.resolve(status.AsInBlock, txHash, expectEvent)
			case status.IsFinalized:
				return c.resolve(status.AsFinalized, txHash, expectEvent)
			case status.IsDropped, status.IsInvalid, status.IsUsurped:
				return &TxResult{Status: TxDispatchError, TxHash: txHash, Reason: txStatusReason(status)}, nil
			}
		}
	}
}

// resolve reads the dispatch outcome of txHash from the events of blockHash.
func (c *SubstrateClient) resolve(blockHash types.Hash, txHash, expectEvent string) (*TxResult, error) {
	block, err := c.api.RPC.Chain.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("get %s block %s: %w", c.cfg.Name, blockHash.Hex(), err)
	}

	res := &TxResult{
		TxHash:      txHash,
		BlockHash:   blockHash.Hex(),
		BlockNumber: uint64(block.Block.Header.Number),
	}

	index := -1
	for i, ext := range block.Block.Extrinsics {
		h, err := extrinsicHash(ext)
		if err == nil && h == txHash {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("extrinsic %s not found in %s block %s", txHash, c.cfg.Name, res.BlockHash)
	}

	events, err := c.events.GetEvents(blockHash)
	if err != nil {
		return nil, fmt.Errorf("get %s events of %s: %w", c.cfg.Name, res.BlockHash, err)
	}

	outcome := extrinsicOutcomes(events)[uint32(index)]
	switch {
	case !outcome.success:
		res.Status = TxDispatchError
		res.Reason = outcome.reason
	case expectEvent != "" && !outcome.emitted[expectEvent]:
		res.Status = TxDispatchError
		res.Reason = fmt.Sprintf("wrapped call failed: %s not emitted", expectEvent)
	default:
		res.Status = TxIncluded
		res.Success = true
	}

	c.logger.Info("extrinsic in block", map[string]any{
		"tx_hash":      txHash,
		"block_hash":   res.BlockHash,
		"block_number": res.BlockNumber,
		"success":      res.Success,
		"reason":       res.Reason,
	})
	return res, nil
}

// outcome is what the events of one block say about one extrinsic.
type outcome struct {
	success bool
	reason  string
	// interrupted is the index of the first batch call that did not run, or -1.
	interrupted int
	emitted     map[string]bool
}

// extrinsicOutcomes groups the events of a block by the extrinsic that
// emitted them.
func extrinsicOutcomes(events []*parser.Event) map[uint32]*outcome {
	out := make(map[uint32]*outcome)
	for _, ev := range events {
		if ev == nil || ev.Phase == nil || !ev.Phase.IsApplyExtrinsic {
			continue
		}
		idx := ev.Phase.AsApplyExtrinsic
		o, ok := out[idx]
		if !ok {
			o = &outcome{interrupted: -1, emitted: make(map[string]bool)}
			out[idx] = o
		}
		o.emitted[ev.Name] = true

		switch ev.Name {
		case eventExtrinsicSuccess:
			o.success = true
		case eventExtrinsicFailed:
			o.success = false
			o.reason = fmt.Sprintf("dispatch error: %v", fieldValue(ev, "dispatch_error"))
		case eventBatchInterrupted:
			if i, ok := uintField(ev, "index"); ok {
				o.interrupted = int(i)
			}
		}
	}
	return out
}

func fieldValue(ev *parser.Event, name string) any {
	for _, f := range ev.Fields {
		if f != nil && f.Name == name {
			return f.Value
		}
	}
	return nil
}

func uintField(ev *parser.Event, name string) (uint64, bool) {
	switch v := fieldValue(ev, name).(type) {
	case types.U32:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case types.U64:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

func txStatusReason(s types.ExtrinsicStatus) string {
	switch {
	case s.IsDropped:
		return "extrinsic dropped from the pool"
	case s.IsInvalid:
		return "extrinsic invalid"
	case s.IsUsurped:
		return "extrinsic usurped by " + s.AsUsurped.Hex()
	}
	return "extrinsic not included"
}

// extrinsicHash is blake2b-256 of the SCALE encoded extrinsic.
func extrinsicHash(ext types.Extrinsic) (string, error) {
	enc, err := codec.Encode(ext)
	if err != nil {
		return "", fmt.Errorf("encode extrinsic: %w", err)
	}
	sum := blake2b.Sum256(enc)
	return hexutil.Encode(sum[:]), nil
}
