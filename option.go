package remarkpay

import (
	"time"

	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/indexer"
	"github.com/vitwit/remarkpay/logger"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/store"
)

type Option func(*RemarkPay)

func WithLogger(l logger.Logger) Option {
	return func(r *RemarkPay) {
		r.logger = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *RemarkPay) {
		r.metrics = m
	}
}

func WithTimeout(t time.Duration) Option {
	return func(r *RemarkPay) {
		r.timeout = t
	}
}

// WithStore replaces the store selected from DatabaseURL.
func WithStore(s store.Store) Option {
	return func(r *RemarkPay) {
		r.store = s
	}
}

func WithBuyerChain(b clients.BuyerChain) Option {
	return func(r *RemarkPay) {
		r.buyer = b
	}
}

func WithSellerChain(s clients.SellerChain) Option {
	return func(r *RemarkPay) {
		r.seller = s
	}
}

func WithBlockSource(src indexer.BlockSource) Option {
	return func(r *RemarkPay) {
		r.source = src
	}
}

// WithTreasury sets the account payments must be sent to and that signs
// completion and refund remarks. It defaults to the treasury key's account.
func WithTreasury(addr string) Option {
	return func(r *RemarkPay) {
		r.treasury = addr
	}
}
