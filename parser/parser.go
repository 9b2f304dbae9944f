// Package parser turns indexed blocks into the protocol calls the
// settlement saga consumes.
package parser

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/vitwit/remarkpay/logger"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/types"
	"github.com/vitwit/remarkpay/utils"
)

// ParsedCall is one valid protocol remark with its chain context.
type ParsedCall struct {
	ID             string
	BlockNumber    uint64
	BlockHash      string
	ExtrinsicHash  string
	ExtrinsicIndex uint32
	Timestamp      time.Time
	Signer         string
	// Transfer is the value transfer made in the same extrinsic. It is always
	// set for payment actions and set for refunds when one was found.
	Transfer *types.Transfer
	Remark   remark.Message
	Raw      string
}

// Action is a shortcut for Remark.Action.
func (c ParsedCall) Action() string { return c.Remark.Action }

// Skip reasons reported through logs and the parser_skipped counter.
const (
	SkipFailedExtrinsic = "failed_extrinsic"
	SkipUnsigned        = "unsigned"
	SkipInvalid         = "invalid_message"
	SkipNotImplemented  = "not_implemented"
	SkipNoTransfer      = "no_transfer"
	SkipWrongRecipient  = "wrong_recipient"
)

var paymentActions = map[string]bool{
	remark.ActionDomainRegister: true,
	remark.ActionEnergyGenerate: true,
}

// Parser is read-only after construction.
type Parser struct {
	codec     *remark.Codec
	logger    logger.Logger
	metrics   metrics.Recorder
	recipient string
	actions   map[string]bool
	chain     string
}

type Option func(*Parser)

func WithLogger(l logger.Logger) Option {
	return func(p *Parser) {
		p.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Parser) {
		p.metrics = r
	}
}

// WithPaymentRecipient only accepts payments sent to addr.
func WithPaymentRecipient(addr string) Option {
	return func(p *Parser) {
		p.recipient = addr
	}
}

// WithActions replaces the set of actions handed to the saga.
func WithActions(actions ...string) Option {
	return func(p *Parser) {
		p.actions = make(map[string]bool, len(actions))
		for _, a := range actions {
			p.actions[a] = true
		}
	}
}

// WithChain sets the chain label used in metrics.
func WithChain(name string) Option {
	return func(p *Parser) {
		p.chain = name
	}
}

func New(codec *remark.Codec, opts ...Option) *Parser {
	p := &Parser{
		codec:   codec,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		actions: map[string]bool{
			remark.ActionDomainRegister:         true,
			remark.ActionDomainRegisterComplete: true,
			remark.ActionDomainRegisterRefund:   true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CallID formats the identifier of the call at (height, extrinsic, call).
func CallID(height uint64, extrinsic uint32, call int) string {
	return fmt.Sprintf("%010d-%06d-%d", height, extrinsic, call)
}

// Parse yields the protocol calls of blocks in chain order: blocks as given,
// extrinsics in block order and calls in execution order.
func (p *Parser) Parse(blocks []types.Block) iter.Seq[ParsedCall] {
	return func(yield func(ParsedCall) bool) {
		for _, b := range blocks {
			for _, ext := range b.Extrinsics {
				for i, call := range ext.Calls {
					if call.Name != types.CallSystemRemark {
						continue
					}
					pc, ok := p.parseRemark(b, ext, i, call)
					if !ok {
						continue
					}
					p.metrics.IncCounter(metrics.ParserCalls, map[string]string{
						metrics.LabelChain:  p.chain,
						metrics.LabelAction: pc.Action(),
					})
					if !yield(pc) {
						return
					}
				}
			}
		}
	}
}

func (p *Parser) parseRemark(b types.Block, ext types.Extrinsic, i int, call types.Call) (ParsedCall, bool) {
	id := CallID(b.Height, ext.Index, i)
	if !ext.Success {
		p.skip(id, SkipFailedExtrinsic, "", nil)
		return ParsedCall{}, false
	}
	if ext.Origin == "" {
		p.skip(id, SkipUnsigned, "", nil)
		return ParsedCall{}, false
	}

	msg := p.codec.Decode(call.Remark)
	if !msg.Valid {
		extra := map[string]any{"remark": string(call.Remark)}
		if p.codec.KnownProtocol(msg.ProtName) {
			extra["protName"] = msg.ProtName
		}
		p.skip(id, SkipInvalid, msg.Action, extra)
		return ParsedCall{}, false
	}
	if !p.actions[msg.Action] {
		p.skip(id, SkipNotImplemented, msg.Action, nil)
		return ParsedCall{}, false
	}

	pc := ParsedCall{
		ID:             id,
		BlockNumber:    b.Height,
		BlockHash:      b.Hash,
		ExtrinsicHash:  ext.Hash,
		ExtrinsicIndex: ext.Index,
		Timestamp:      b.Timestamp,
		Signer:         ext.Origin,
		Remark:         msg,
		Raw:            string(call.Remark),
	}

	transfer := firstTransfer(b, ext)
	if paymentActions[msg.Action] {
		if transfer == nil {
			p.skip(id, SkipNoTransfer, msg.Action, nil)
			return ParsedCall{}, false
		}
		if p.recipient != "" && !utils.SameAddress(transfer.To, p.recipient) {
			p.skip(id, SkipWrongRecipient, msg.Action, map[string]any{"to": transfer.To})
			return ParsedCall{}, false
		}
	}
	pc.Transfer = transfer
	return pc, true
}

func firstTransfer(b types.Block, ext types.Extrinsic) *types.Transfer {
	for i, c := range ext.Calls {
		if c.Transfer == nil || !strings.HasPrefix(c.Name, types.CallTransferName) {
			continue
		}
		return &types.Transfer{
			ID:            CallID(b.Height, ext.Index, i),
			BlockNumber:   b.Height,
			BlockHash:     b.Hash,
			ExtrinsicHash: ext.Hash,
			Timestamp:     b.Timestamp,
			From:          ext.Origin,
			To:            c.Transfer.Dest,
			Amount:        c.Transfer.Amount,
		}
	}
	return nil
}

func (p *Parser) skip(id, reason, action string, extra map[string]any) {
	fields := map[string]any{"call": id, "reason": reason}
	if action != "" {
		fields["action"] = action
	}
	for k, v := range extra {
		fields[k] = v
	}
	switch {
	case reason == SkipNotImplemented:
		p.logger.Info("action not implemented yet", fields)
	case reason == SkipInvalid && fields["protName"] != nil:
		// our protocol name with a malformed body
		p.logger.Warn("invalid protocol remark", fields)
	default:
		p.logger.Debug("skipping remark", fields)
	}
	p.metrics.IncCounter(metrics.ParserSkipped, map[string]string{
		metrics.LabelChain:  p.chain,
		metrics.LabelAction: reason,
	})
}
