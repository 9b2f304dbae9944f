// Package clients implements the buyer and seller chain collaborators and
// the block source on top of go-substrate-rpc-client.
package clients

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vitwit/remarkpay/types"
)

// TxStatus is the terminal state of a submitted extrinsic.
type TxStatus string

const (
	// TxIncluded means the extrinsic was included in a block and dispatched.
	TxIncluded TxStatus = "Included"
	// TxDispatchError means the extrinsic was rejected by the pool or its
	// dispatch failed inside the block.
	TxDispatchError TxStatus = "DispatchError"
)

// StatusRegistered is the status code reported for a successful registration.
const StatusRegistered = 201

// TxResult is resolved once per submission, after the terminal in-block
// signal or a rejection.
type TxResult struct {
	Status      TxStatus
	Success     bool
	StatusCode  int
	TxHash      string
	BlockHash   string
	BlockNumber uint64
	Reason      string
}

// Included reports a successful, dispatched extrinsic.
func (r *TxResult) Included() bool {
	return r != nil && r.Status == TxIncluded && r.Success
}

// DomainRecord is the registry entry of a domain on the buyer chain.
// Owner is empty when the domain is not registered.
type DomainRecord struct {
	Name  string
	Owner string
}

// BuyerChain is the chain hosting the domain registry.
type BuyerChain interface {
	Name() string
	DomainRegistrationPrice(ctx context.Context) (decimal.Decimal, error)
	RegisteredDomains(ctx context.Context, names []string) ([]DomainRecord, error)
	MinDomainLength(ctx context.Context) (int, error)
	// RegisterDomain force-registers domain for target (hex public key)
	// through the registrar's proxy and sudo rights.
	RegisterDomain(ctx context.Context, target, domain string) (*TxResult, error)
	// BlockMeta returns the current best block, used as error context.
	BlockMeta(ctx context.Context) (types.BlockMeta, error)
}

// SellerChain is the chain where payments are made and remarks published.
type SellerChain interface {
	Name() string
	SendRemark(ctx context.Context, signer Role, payload string) (*TxResult, error)
	// SendRefund transfers amount to the hex account to and publishes payload
	// atomically in one batch.
	SendRefund(ctx context.Context, signer Role, to string, amount decimal.Decimal, payload string) (*TxResult, error)
}
