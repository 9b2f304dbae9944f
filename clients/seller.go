package clients

import (
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/shopspring/decimal"

	"github.com/vitwit/remarkpay/utils"
)

var _ SellerChain = (*SellerClient)(nil)

// SellerClient publishes protocol remarks and refunds on the payment chain.
type SellerClient struct {
	*SubstrateClient
}

func NewSellerClient(sub *SubstrateClient) *SellerClient {
	return &SellerClient{SubstrateClient: sub}
}

func (s *SellerClient) SendRemark(ctx context.Context, signer Role, payload string) (*TxResult, error) {
	meta, err := s.metadata()
	if err != nil {
		return nil, err
	}
	call, err := types.NewCall(meta, "System.remark", types.NewBytes([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("build remark: %w", err)
	}
	return s.submit(ctx, signer, call, "")
}

// SendRefund sends Utility.batch_all([transfer_keep_alive, remark]) so the
// refund and its remark land together or not at all.
func (s *SellerClient) SendRefund(ctx context.Context, signer Role, to string, amount decimal.Decimal, payload string) (*TxResult, error) {
	if !amount.IsPositive() || !amount.IsInteger() {
		return nil, fmt.Errorf("invalid refund amount %s", amount)
	}
	meta, err := s.metadata()
	if err != nil {
		return nil, err
	}
	dest, err := utils.AccountIDFromAddress(to)
	if err != nil {
		return nil, err
	}
	destAddr, err := types.NewMultiAddressFromAccountID(dest)
	if err != nil {
		return nil, err
	}

	transfer, err := types.NewCall(meta, "Balances.transfer_keep_alive", destAddr, types.NewUCompact(amount.BigInt()))
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}
	remark, err := types.NewCall(meta, "System.remark", types.NewBytes([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("build remark: %w", err)
	}
	batch, err := types.NewCall(meta, "Utility.batch_all", []types.Call{transfer, remark})
	if err != nil {
		return nil, fmt.Errorf("build batch_all: %w", err)
	}

	s.logger.Info("sending refund", map[string]any{"to": to, "amount": amount.String()})
	return s.submit(ctx, signer, batch, "")
}
