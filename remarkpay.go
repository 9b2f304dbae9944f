// Package remarkpay settles username purchases paid on a seller chain by
// registering domains on a buyer chain, driven by System.remark messages.
package remarkpay

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/indexer"
	"github.com/vitwit/remarkpay/logger"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/parser"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/settlement"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
	"github.com/vitwit/remarkpay/utils"
	"github.com/vitwit/remarkpay/verification"
)

// RemarkPay wires the indexer, parser and settlement saga to the chains
// and the order store.
type RemarkPay struct {
	config  types.Config
	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	buyer    clients.BuyerChain
	seller   clients.SellerChain
	source   indexer.BlockSource
	store    store.Store
	treasury string

	processor *indexer.Processor
	settler   *settlement.SettlementService
	closers   []func()
}

// New validates config and builds the service. Collaborators not injected
// through options are created from config: Substrate clients for both
// chains and a PostgreSQL store when DatabaseURL is set, memory otherwise.
func New(ctx context.Context, config types.Config, opts ...Option) (*RemarkPay, error) {
	r := &RemarkPay{
		config:  config,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: config.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := utils.ValidateConfig(&r.config); err != nil {
		return nil, err
	}

	codec, err := remark.NewCodec(remark.Config{
		ProtNames: r.config.Remark.ProtNames,
		Versions:  r.config.Remark.Versions,
		Actions:   r.config.Remark.Actions,
	}, remark.DefaultSchema())
	if err != nil {
		return nil, err
	}

	if err := r.connect(); err != nil {
		r.Close()
		return nil, err
	}
	if r.store == nil {
		if err := r.openStore(ctx); err != nil {
			r.Close()
			return nil, err
		}
	}

	verifier := verification.NewVerificationService(r.buyer, r.config.Domain.TopLevelDomain,
		verification.WithLogger(logger.Named(r.logger, "verification")),
		verification.WithMetrics(r.metrics),
		verification.WithTimeout(r.timeout),
	)

	settleOpts := []settlement.Option{
		settlement.WithLogger(logger.Named(r.logger, "settlement")),
		settlement.WithMetrics(r.metrics),
	}
	parseOpts := []parser.Option{
		parser.WithLogger(logger.Named(r.logger, "parser")),
		parser.WithMetrics(r.metrics),
		parser.WithChain(r.config.SellerChain.Name),
	}
	if r.treasury != "" {
		settleOpts = append(settleOpts, settlement.WithTrustedSigner(r.treasury))
		parseOpts = append(parseOpts, parser.WithPaymentRecipient(r.treasury))
	}

	r.settler, err = settlement.NewSettlementService(settlement.Deps{
		Buyer:    r.buyer,
		Seller:   r.seller,
		Orders:   r.store,
		Codec:    codec,
		Verifier: verifier,
	}, settlement.Config{
		ProtName:       r.config.Remark.ProtName,
		Version:        r.config.Remark.Version,
		TopLevelDomain: r.config.Domain.TopLevelDomain,
		Currency:       r.config.Domain.Currency,
		PendingTTL:     r.config.Indexer.PendingTTL,
		Timeout:        r.timeout,
	}, settleOpts...)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.processor = indexer.NewProcessor(r.source, parser.New(codec, parseOpts...), r.settler, r.store, indexer.Config{
		Chain:        r.config.SellerChain.Name,
		StartBlock:   r.config.Indexer.StartBlock,
		BatchSize:    r.config.Indexer.BatchSize,
		PollInterval: r.config.Indexer.PollInterval,
	}, indexer.WithLogger(logger.Named(r.logger, "indexer")), indexer.WithMetrics(r.metrics))

	price, err := utils.ValidateAmount(r.config.Domain.RegistrationPrice)
	if err != nil {
		r.Close()
		return nil, err
	}
	token := r.config.SellerChain.Token
	r.logger.Info("remarkpay ready", map[string]any{
		"seller_chain": r.config.SellerChain.Name,
		"buyer_chain":  r.config.BuyerChain.Name,
		"prot_name":    r.config.Remark.ProtName,
		"version":      r.config.Remark.Version,
		"treasury":     r.treasury,
		"price":        utils.FormatAmount(*price, token.Decimals, token.Symbol),
	})
	return r, nil
}

// connect dials the chains that were not injected.
func (r *RemarkPay) connect() error {
	needSeller := r.seller == nil || r.source == nil
	needBuyer := r.buyer == nil
	if !needSeller && !needBuyer {
		return nil
	}

	var keys []clients.WalletKey
	if needSeller {
		keys = append(keys, clients.WalletKey{
			Role:       clients.RoleTreasury,
			Mnemonic:   r.config.SellerChain.Mnemonic,
			SS58Prefix: r.config.SellerChain.SS58Prefix,
		})
	}
	if needBuyer {
		keys = append(keys, clients.WalletKey{
			Role:       clients.RoleRegistrar,
			Mnemonic:   r.config.BuyerChain.Mnemonic,
			SS58Prefix: r.config.BuyerChain.SS58Prefix,
		})
	}
	wallet, err := clients.NewWallet(keys...)
	if err != nil {
		return &types.Error{Code: types.ErrConfigError, Message: err.Error()}
	}

	if needSeller {
		sub, err := clients.NewSubstrateClient(r.config.SellerChain, wallet, r.logger)
		if err != nil {
			return &types.Error{Code: types.ErrNetworkError, Message: err.Error()}
		}
		r.closers = append(r.closers, sub.Close)
		if r.seller == nil {
			r.seller = clients.NewSellerClient(sub)
		}
		if r.source == nil {
			r.source = clients.NewBlockSource(sub)
		}
		if r.treasury == "" {
			if r.treasury, err = wallet.PublicKey(clients.RoleTreasury); err != nil {
				return err
			}
		}
	}

	if needBuyer {
		sub, err := clients.NewSubstrateClient(r.config.BuyerChain, wallet, r.logger)
		if err != nil {
			return &types.Error{Code: types.ErrNetworkError, Message: err.Error()}
		}
		r.closers = append(r.closers, sub.Close)
		if r.buyer, err = clients.NewBuyerClient(sub, r.config.Domain); err != nil {
			return err
		}
	}
	return nil
}

func (r *RemarkPay) openStore(ctx context.Context) error {
	if r.config.DatabaseURL == "" {
		r.logger.Warn("no database configured, orders are kept in memory", nil)
		r.store = store.NewMemoryStore()
		return nil
	}
	pg, err := store.NewPostgresStore(ctx, r.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open order store: %w", err)
	}
	r.store = pg
	return nil
}

// Run processes seller chain blocks until ctx is cancelled.
func (r *RemarkPay) Run(ctx context.Context) error {
	return r.processor.RunForever(ctx)
}

// RunOnce processes a single batch; see indexer.Processor.RunOnce.
func (r *RemarkPay) RunOnce(ctx context.Context) (bool, error) {
	return r.processor.RunOnce(ctx)
}

// Store returns the order store in use.
func (r *RemarkPay) Store() store.Store {
	return r.store
}

// Close releases the chain connections and the store.
func (r *RemarkPay) Close() {
	for _, c := range r.closers {
		c()
	}
	r.closers = nil
	if r.store != nil {
		r.store.Close()
	}
}

// Version information
const Version = "0.1.0"
