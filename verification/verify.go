// Package verification holds the precondition checks of a domain purchase.
// Each check reports an Outcome instead of an error: chain failures are
// business outcomes of the purchase, not failures of the service.
package verification

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/logger"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/status"
	"github.com/vitwit/remarkpay/types"
	"github.com/vitwit/remarkpay/utils"
)

// Outcome tells the saga how to continue after a check.
type Outcome int

const (
	// Passed lets the saga continue.
	Passed Outcome = iota
	// Settled stops the saga without failing the order.
	Settled
	// Rejected fails the order.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Settled:
		return "settled"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is the outcome of one check.
type Result struct {
	Outcome Outcome
	Cause   status.Cause
	Detail  string
	Meta    types.BlockMeta
}

func (r Result) Passed() bool { return r.Outcome == Passed }

// OrderError builds the persisted error of a rejected check.
func (r Result) OrderError() types.OrderError {
	reason := r.Cause.Reason()
	if r.Detail != "" {
		reason = reason + " " + r.Detail
	}
	return types.OrderError{
		Code:        r.Cause.Code(),
		Reason:      reason,
		BlockHash:   r.Meta.BlockHash,
		BlockNumber: r.Meta.BlockNumber,
	}
}

var pass = Result{Outcome: Passed}

// VerificationService runs the checks against the buyer chain.
type VerificationService struct {
	buyer   clients.BuyerChain
	tld     string
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

type Option func(*VerificationService)

func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *VerificationService) {
		s.metrics = r
	}
}

// WithTimeout bounds each buyer chain query.
func WithTimeout(t time.Duration) Option {
	return func(s *VerificationService) {
		s.timeout = t
	}
}

// NewVerificationService creates a new verification service
func NewVerificationService(buyer clients.BuyerChain, topLevelDomain string, opts ...Option) *VerificationService {
	s := &VerificationService{
		buyer:   buyer,
		tld:     topLevelDomain,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *VerificationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *VerificationService) labels() map[string]string {
	return map[string]string{metrics.LabelChain: s.buyer.Name()}
}

// Reject builds a rejected result with the current buyer chain block as
// context. A failing block lookup leaves the context empty.
func (s *VerificationService) Reject(ctx context.Context, cause status.Cause, detail string) Result {
	r := Result{Outcome: Rejected, Cause: cause, Detail: detail}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	meta, err := s.buyer.BlockMeta(cctx)
	if err != nil {
		s.logger.Warn("buyer chain block lookup failed", map[string]any{"error": err})
		return r
	}
	r.Meta = meta
	return r
}

// VerifyPayment compares the paid amount with the registration price. An
// error means the price could not be read and the payment was not judged.
func (s *VerificationService) VerifyPayment(ctx context.Context, paid decimal.Decimal) (Result, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	price, err := s.buyer.DomainRegistrationPrice(cctx)
	metrics.Since(s.metrics, "domain_price", start, s.labels())
	if err != nil {
		return Result{}, fmt.Errorf("query registration price: %w", err)
	}
	if paid.LessThan(price) {
		return Result{
			Outcome: Rejected,
			Cause:   status.Underpaid,
			Detail:  fmt.Sprintf("paid %s, price %s", paid, price),
		}, nil
	}
	return pass, nil
}

// VerifyAvailability checks the registry for domain. A domain already owned
// by target settles the purchase without a refund.
func (s *VerificationService) VerifyAvailability(ctx context.Context, target, domain string) Result {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	records, err := s.buyer.RegisteredDomains(cctx, []string{domain})
	metrics.Since(s.metrics, "registered_domains", start, s.labels())
	if err != nil {
		s.logger.Error("registered domains query failed", map[string]any{"domain": domain, "error": err})
		return s.Reject(ctx, status.ChainQueryFailure, err.Error())
	}
	for _, rec := range records {
		if rec.Name != domain || rec.Owner == "" {
			continue
		}
		if utils.SameAddress(rec.Owner, target) {
			return Result{Outcome: Settled, Cause: status.Registered, Detail: "already owned by target"}
		}
		return s.Reject(ctx, status.DomainConflict, "")
	}
	return pass
}

// VerifyFormat accepts exactly "<label>.<tld>" with a non-empty label.
func (s *VerificationService) VerifyFormat(ctx context.Context, domain string) Result {
	labels := strings.Split(domain, ".")
	if len(labels) != 2 || labels[0] == "" || labels[1] != s.tld {
		return s.Reject(ctx, status.InvalidDomainFormat, "")
	}
	return pass
}

// VerifyLength compares the rune count of the full name with the chain minimum.
func (s *VerificationService) VerifyLength(ctx context.Context, domain string) Result {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	min, err := s.buyer.MinDomainLength(cctx)
	if err != nil {
		s.logger.Error("min domain length query failed", map[string]any{"error": err})
		return s.Reject(ctx, status.ChainQueryFailure, err.Error())
	}
	if utf8.RuneCountInString(domain) < min {
		return s.Reject(ctx, status.DomainTooShort, fmt.Sprintf("minimum is %d", min))
	}
	return pass
}
