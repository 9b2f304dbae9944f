package types

import (
	"time"
)

// ChainRole identifies which side of the settlement a chain plays.
type ChainRole string

const (
	// ChainSeller is the chain where payments and protocol remarks are observed.
	ChainSeller ChainRole = "seller"
	// ChainBuyer is the chain hosting the domain registry.
	ChainBuyer ChainRole = "buyer"
)

func (r ChainRole) String() string {
	return string(r)
}

// TokenInfo describes the native token of a chain
type TokenInfo struct {
	Symbol   string `json:"symbol" validate:"required"`
	Decimals int32  `json:"decimals" validate:"gte=0,lte=30"`
}

// ChainConfig contains connection settings for one Substrate chain.
type ChainConfig struct {
	Name       string    `json:"name" validate:"required"`
	RPCUrl     string    `json:"rpcUrl" validate:"required"`
	SS58Prefix uint16    `json:"ss58Prefix"`
	Token      TokenInfo `json:"token"`

	// Mnemonic of the signing account used on this chain: the domain
	// registrar on the buyer chain, the treasury on the seller chain.
	Mnemonic string `json:"-"`
}

// RemarkConfig holds the protocol allow-lists and the identity used for
// outbound remarks.
type RemarkConfig struct {
	ProtNames []string `json:"protNames" validate:"required,min=1,dive,required"`
	Versions  []string `json:"versions" validate:"required,min=1,dive,required"`
	Actions   []string `json:"actions" validate:"required,min=1,dive,required"`

	// Outbound messages (completion, refund) are written with these.
	ProtName string `json:"protName" validate:"required"`
	Version  string `json:"version" validate:"required"`
}

// DomainConfig contains the buyer chain domain registry settings.
type DomainConfig struct {
	TopLevelDomain    string `json:"topLevelDomain" validate:"required"`
	RegistrationPrice string `json:"registrationPrice" validate:"required,amount"`
	Currency          string `json:"currency" validate:"required"`
	// ExpiresInBlocks is the registration period passed to force_register_domain.
	ExpiresInBlocks uint32 `json:"expiresInBlocks"`
}

// IndexerConfig controls the block processing loop.
type IndexerConfig struct {
	StartBlock   uint64        `json:"startBlock"`
	BatchSize    uint64        `json:"batchSize" validate:"gte=1"`
	PollInterval time.Duration `json:"pollInterval"`
	// PendingTTL bounds how long completion and refund remarks observed
	// before their payment are buffered.
	PendingTTL time.Duration `json:"pendingTtl"`
}

// Config contains global configuration for remarkpay
type Config struct {
	SellerChain ChainConfig   `json:"sellerChain"`
	BuyerChain  ChainConfig   `json:"buyerChain"`
	Remark      RemarkConfig  `json:"remark"`
	Domain      DomainConfig  `json:"domain"`
	Indexer     IndexerConfig `json:"indexer"`

	DatabaseURL    string        `json:"-"`
	MetricsAddr    string        `json:"metricsAddr,omitempty"`
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`
	LogLevel       string        `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics  bool          `json:"enableMetrics,omitempty"`
}

// DefaultConfig returns the configuration of the rococo -> soonsocial deployment.
func DefaultConfig() Config {
	return Config{
		SellerChain: ChainConfig{
			Name:       "rococo",
			RPCUrl:     "wss://rococo-rpc.polkadot.io",
			SS58Prefix: 42,
			Token:      TokenInfo{Symbol: "ROC", Decimals: 12},
		},
		BuyerChain: ChainConfig{
			Name:       "soonsocial",
			RPCUrl:     "wss://rco-para.subsocial.network",
			SS58Prefix: 28,
			Token:      TokenInfo{Symbol: "SOON", Decimals: 10},
		},
		Remark: RemarkConfig{
			ProtNames: []string{"social_t_0"},
			Versions:  []string{"0.1"},
			Actions:   []string{"DMN_REG", "DMN_REG_OK", "DMN_REG_REFUND", "NRG_GEN", "NRG_GEN_OK", "NRG_GEN_REFUND"},
			ProtName:  "social_t_0",
			Version:   "0.1",
		},
		Domain: DomainConfig{
			TopLevelDomain:    "sub",
			RegistrationPrice: "1000000000",
			Currency:          "ROC",
			ExpiresInBlocks:   BlocksInYear,
		},
		Indexer: IndexerConfig{
			BatchSize:    100,
			PollInterval: 6 * time.Second,
			PendingTTL:   time.Hour,
		},
		DefaultTimeout: 2 * time.Minute,
		LogLevel:       "info",
	}
}

// BlocksInYear assumes 12 second blocks.
const BlocksInYear = 60 * 60 * 24 * 365 / 12

// Error types
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidSource  = "INVALID_SOURCE"
	ErrInvalidSchema  = "INVALID_SCHEMA"
	ErrConfigError    = "CONFIG_ERROR"
	ErrNetworkError   = "NETWORK_ERROR"
	ErrInvalidAddress = "INVALID_ADDRESS"
)
