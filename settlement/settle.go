// Package settlement drives the cross-chain domain purchase saga.
//
// A purchase moves through three observed remarks: the payment (DMN_REG),
// the completion acknowledgement (DMN_REG_OK) and, when registration fails,
// the refund acknowledgement (DMN_REG_REFUND). Refunds are only submitted
// while the indexer is at the chain head; during replay a failed order is
// left waiting and picked up by FlushDeferredRefunds once the head is reached.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/remarkpay/cache"
	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/logger"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/parser"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/verification"
)

// Settler interface defines the contract the indexer drives
type Settler interface {
	Handle(ctx context.Context, call parser.ParsedCall, isHead bool) error
	FlushDeferredRefunds(ctx context.Context) error
}

// Deps are the collaborators of the saga.
type Deps struct {
	Buyer  clients.BuyerChain
	Seller clients.SellerChain
	Orders store.OrderStore
	Codec  *remark.Codec
	// Verifier defaults to a VerificationService over Buyer.
	Verifier *verification.VerificationService
}

// Config holds the identity of outbound remarks and saga limits.
type Config struct {
	ProtName       string
	Version        string
	TopLevelDomain string
	Currency       string
	// PendingTTL bounds how long an acknowledgement seen before its payment is kept.
	PendingTTL time.Duration
	// Timeout bounds each transaction submission, inclusion included.
	Timeout time.Duration
}

type pendingKey struct {
	opID   string
	action string
}

// SettlementService handles parsed calls one at a time per attempt id.
type SettlementService struct {
	buyer    clients.BuyerChain
	seller   clients.SellerChain
	orders   store.OrderStore
	codec    *remark.Codec
	verifier *verification.VerificationService

	cfg     Config
	locks   *keyedMutex
	pending cache.Cache[pendingKey, parser.ParsedCall]
	trusted string

	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

type Option func(*SettlementService)

func WithLogger(l logger.Logger) Option {
	return func(s *SettlementService) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *SettlementService) {
		s.metrics = r
	}
}

// WithClock replaces the time source used for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SettlementService) {
		s.now = now
	}
}

// WithTrustedSigner only accepts completion and refund remarks signed by addr.
func WithTrustedSigner(addr string) Option {
	return func(s *SettlementService) {
		s.trusted = addr
	}
}

// NewSettlementService creates a new settlement service
func NewSettlementService(deps Deps, cfg Config, opts ...Option) (*SettlementService, error) {
	if deps.Buyer == nil || deps.Seller == nil || deps.Orders == nil || deps.Codec == nil {
		return nil, fmt.Errorf("settlement: buyer, seller, order store and codec are required")
	}
	if cfg.ProtName == "" || cfg.Version == "" {
		return nil, fmt.Errorf("settlement: outbound protocol name and version are required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	s := &SettlementService{
		buyer:    deps.Buyer,
		seller:   deps.Seller,
		orders:   deps.Orders,
		codec:    deps.Codec,
		verifier: deps.Verifier,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		pending:  cache.NewTTLCache[pendingKey, parser.ParsedCall](),
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		s.verifier = verification.NewVerificationService(deps.Buyer, cfg.TopLevelDomain,
			verification.WithLogger(s.logger), verification.WithMetrics(s.metrics), verification.WithTimeout(cfg.Timeout))
	}
	return s, nil
}

// Handle routes a parsed call to its saga step. Calls sharing an attempt id
// are serialised. Only store failures are returned; chain failures are
// recorded on the order.
func (s *SettlementService) Handle(ctx context.Context, call parser.ParsedCall, isHead bool) error {
	unlock := s.locks.Lock(call.Remark.OpID())
	defer unlock()

	start := time.Now()
	defer metrics.Since(s.metrics, "handle_"+call.Action(), start, nil)

	switch call.Action() {
	case remark.ActionDomainRegister:
		return s.HandleDomainRegisterPayment(ctx, call, isHead)
	case remark.ActionDomainRegisterComplete:
		return s.HandleDomainRegisterCompleted(ctx, call)
	case remark.ActionDomainRegisterRefund:
		return s.HandleDomainRegisterRefund(ctx, call)
	default:
		s.logger.Info("action not implemented yet", map[string]any{"call": call.ID, "action": call.Action()})
		return nil
	}
}

func (s *SettlementService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func (s *SettlementService) count(name, action string) {
	s.metrics.IncCounter(name, map[string]string{
		metrics.LabelChain:  s.seller.Name(),
		metrics.LabelAction: action,
	})
}

func (s *SettlementService) fields(call parser.ParsedCall) map[string]any {
	return map[string]any{
		"call":   call.ID,
		"opId":   call.Remark.OpID(),
		"action": call.Action(),
		"block":  call.BlockNumber,
	}
}
