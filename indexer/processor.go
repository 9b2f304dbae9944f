// Package indexer feeds blocks from the seller chain through the parser
// into the settlement saga and remembers how far it got.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitwit/remarkpay/logger"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/parser"
	"github.com/vitwit/remarkpay/settlement"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
)

// BlockSource reads finalized-or-best blocks of the indexed chain.
type BlockSource interface {
	Head(ctx context.Context) (uint64, error)
	// Blocks returns the blocks in [from, to] in height order.
	Blocks(ctx context.Context, from, to uint64) ([]types.Block, error)
}

type Config struct {
	Chain        string
	StartBlock   uint64
	BatchSize    uint64
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 6 * time.Second
	}
	return c
}

type Processor struct {
	source      BlockSource
	parser      *parser.Parser
	settler     settlement.Settler
	checkpoints store.CheckpointStore
	cfg         Config
	logger      logger.Logger
	metrics     metrics.Recorder
	now         func() time.Time
}

type Option func(*Processor)

func WithLogger(l logger.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Processor) {
		p.metrics = r
	}
}

func NewProcessor(source BlockSource, prs *parser.Parser, settler settlement.Settler, checkpoints store.CheckpointStore, cfg Config, opts ...Option) *Processor {
	p := &Processor{
		source:      source,
		parser:      prs,
		settler:     settler,
		checkpoints: checkpoints,
		cfg:         cfg.withDefaults(),
		logger:      logger.NoopLogger{},
		metrics:     metrics.NoopRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunForever processes batches until ctx is cancelled. It only sleeps when
// caught up with the head or after a failed batch.
func (p *Processor) RunForever(ctx context.Context) error {
	for {
		atHead, err := p.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("indexer batch failed", map[string]any{"chain": p.cfg.Chain, "error": err})
		}
		if err == nil && !atHead {
			continue
		}

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce processes the next batch after the checkpoint. atHead reports
// whether the processed range ends at the chain head, or that there was
// nothing to process. Calls are handled as head calls only when they sit in
// the head block itself. A failed batch does not move the checkpoint.
func (p *Processor) RunOnce(ctx context.Context) (atHead bool, err error) {
	defer func() {
		if err != nil {
			p.metrics.IncCounter(metrics.BatchErrors, map[string]string{metrics.LabelChain: p.cfg.Chain})
		}
	}()

	from, err := p.nextBlock(ctx)
	if err != nil {
		return false, err
	}
	head, err := p.source.Head(ctx)
	if err != nil {
		return false, fmt.Errorf("read head: %w", err)
	}
	if from > head {
		return true, nil
	}

	to := from + p.cfg.BatchSize - 1
	if to > head {
		to = head
	}
	isHead := to == head

	start := time.Now()
	blocks, err := p.source.Blocks(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("read blocks %d-%d: %w", from, to, err)
	}
	metrics.Since(p.metrics, "fetch_blocks", start, map[string]string{metrics.LabelChain: p.cfg.Chain})

	// only calls of the head block itself may compensate right away
	for call := range p.parser.Parse(blocks) {
		if err := p.settler.Handle(ctx, call, call.BlockNumber == head); err != nil {
			return false, fmt.Errorf("handle %s: %w", call.ID, err)
		}
	}

	if isHead {
		if err := p.settler.FlushDeferredRefunds(ctx); err != nil {
			return false, fmt.Errorf("flush deferred refunds: %w", err)
		}
	}

	cp := types.Checkpoint{Chain: p.cfg.Chain, BlockNumber: to, UpdatedAt: p.now().UTC()}
	if n := len(blocks); n > 0 && blocks[n-1].Height == to {
		cp.BlockHash = blocks[n-1].Hash
	}
	if err := p.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}

	for range blocks {
		p.metrics.IncCounter(metrics.BlocksProcessed, map[string]string{metrics.LabelChain: p.cfg.Chain})
	}
	p.logger.Debug("batch processed", map[string]any{
		"chain": p.cfg.Chain, "from": from, "to": to, "head": head, "atHead": isHead,
	})
	return isHead, nil
}

func (p *Processor) nextBlock(ctx context.Context) (uint64, error) {
	cp, err := p.checkpoints.LoadCheckpoint(ctx, p.cfg.Chain)
	if errors.Is(err, store.ErrCheckpointNotFound) {
		return p.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.BlockNumber+1 < p.cfg.StartBlock {
		return p.cfg.StartBlock, nil
	}
	return cp.BlockNumber + 1, nil
}
