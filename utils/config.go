package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vitwit/remarkpay/types"
)

// Environment variables read by LoadConfig. Secrets are only read from the
// environment.
const (
	EnvPrefix = "REMARKPAY_"

	EnvSellerRPCUrl      = EnvPrefix + "SELLER_RPC_URL"
	EnvBuyerRPCUrl       = EnvPrefix + "BUYER_RPC_URL"
	EnvTreasuryMnemonic  = EnvPrefix + "TREASURY_MNEMONIC"
	EnvRegistrarMnemonic = EnvPrefix + "REGISTRAR_MNEMONIC"
	EnvDatabaseURL       = EnvPrefix + "DATABASE_URL"
	EnvProtName          = EnvPrefix + "PROT_NAME"
	EnvProtVersion       = EnvPrefix + "PROT_VERSION"
	EnvRegistrationPrice = EnvPrefix + "REGISTRATION_PRICE"
	EnvStartBlock        = EnvPrefix + "START_BLOCK"
	EnvBatchSize         = EnvPrefix + "BATCH_SIZE"
	EnvPollInterval      = EnvPrefix + "POLL_INTERVAL"
	EnvLogLevel          = EnvPrefix + "LOG_LEVEL"
	EnvMetricsAddr       = EnvPrefix + "METRICS_ADDR"
)

// LoadConfig reads .env and .env.local when present, then the optional JSON
// file at path, then environment overrides, and validates the result.
func LoadConfig(path string) (*types.Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			// Load never overrides variables that are already set, so
			// .env.local wins over .env.
			if err := godotenv.Load(f); err != nil {
				return nil, &types.Error{Code: types.ErrConfigError, Message: fmt.Sprintf("load %s: %v", f, err)}
			}
		}
	}

	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &types.Error{Code: types.ErrConfigError, Message: fmt.Sprintf("read config: %v", err)}
		}
		data = b
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *types.Config) error {
	setString(&c.SellerChain.RPCUrl, EnvSellerRPCUrl)
	setString(&c.BuyerChain.RPCUrl, EnvBuyerRPCUrl)
	setString(&c.SellerChain.Mnemonic, EnvTreasuryMnemonic)
	setString(&c.BuyerChain.Mnemonic, EnvRegistrarMnemonic)
	setString(&c.DatabaseURL, EnvDatabaseURL)
	setString(&c.Remark.ProtName, EnvProtName)
	setString(&c.Remark.Version, EnvProtVersion)
	setString(&c.Domain.RegistrationPrice, EnvRegistrationPrice)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.MetricsAddr, EnvMetricsAddr)

	if v, ok := os.LookupEnv(EnvStartBlock); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return envError(EnvStartBlock, err)
		}
		c.Indexer.StartBlock = n
	}
	if v, ok := os.LookupEnv(EnvBatchSize); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return envError(EnvBatchSize, err)
		}
		c.Indexer.BatchSize = n
	}
	if v, ok := os.LookupEnv(EnvPollInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError(EnvPollInterval, err)
		}
		c.Indexer.PollInterval = d
	}
	if c.MetricsAddr != "" {
		c.EnableMetrics = true
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envError(key string, err error) error {
	return &types.Error{Code: types.ErrConfigError, Message: fmt.Sprintf("%s: %v", key, err)}
}
