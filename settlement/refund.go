package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
)

// RefundDomainRegistrationPayment returns the payment of a failed order to
// its payer together with a DMN_REG_REFUND remark, in one atomic batch.
//
// A rejected submission puts the order back to waiting so the next head
// pass retries it. A submission whose outcome is unknown leaves the order
// processing: it is never resubmitted automatically.
func (s *SettlementService) RefundDomainRegistrationPayment(ctx context.Context, order *types.Order) error {
	if !order.Refundable() {
		return nil
	}
	if order.PurchaseTx == nil {
		s.logger.Error("failed order has no purchase transfer", map[string]any{"opId": order.ID})
		return nil
	}

	payload, err := s.codec.Encode(remark.Source{
		ProtName: s.cfg.ProtName,
		Version:  s.cfg.Version,
		Action:   remark.ActionDomainRegisterRefund,
		Content: map[remark.Field]string{
			remark.FieldOpID:       order.ID,
			remark.FieldTarget:     order.Registrant,
			remark.FieldDomainName: order.Username,
			remark.FieldToken:      purchaseToken(order),
		},
	})
	if err != nil {
		s.logger.Error("cannot encode refund remark", map[string]any{"opId": order.ID, "error": err})
		return nil
	}

	order.RefundStatus = types.RefundProcessing
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}

	tctx, cancel := s.withTimeout(ctx)
	tx, err := s.seller.SendRefund(tctx, clients.RoleTreasury, order.PurchaseTx.From, order.PurchaseTx.Amount, payload)
	cancel()

	fields := map[string]any{"opId": order.ID, "to": order.PurchaseTx.From, "amount": order.PurchaseTx.Amount.String()}
	if err != nil {
		fields["error"] = err
		s.logger.Error("refund submission outcome unknown, manual review required", fields)
		s.count(metrics.RefundsFailed, remark.ActionDomainRegisterRefund)
		return nil
	}
	if !tx.Included() {
		fields["reason"] = tx.Reason
		s.logger.Warn("refund rejected, will retry at head", fields)
		s.count(metrics.RefundsFailed, remark.ActionDomainRegisterRefund)
		order.RefundStatus = types.RefundWaiting
		order.UpdatedAt = s.now().UTC()
		if err := s.orders.Save(ctx, order); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}
		return nil
	}

	fields["txHash"] = tx.TxHash
	s.logger.Info("refund submitted", fields)
	s.count(metrics.RefundsSubmitted, remark.ActionDomainRegisterRefund)
	return nil
}

// FlushDeferredRefunds compensates every order that failed while the
// indexer was replaying history.
func (s *SettlementService) FlushDeferredRefunds(ctx context.Context) error {
	orders, err := s.orders.ListRefundable(ctx)
	if err != nil {
		return fmt.Errorf("list refundable orders: %w", err)
	}
	for _, o := range orders {
		if err := s.flushOne(ctx, o.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SettlementService) flushOne(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	order, err := s.orders.Get(ctx, id)
	if errors.Is(err, store.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", id, err)
	}
	return s.RefundDomainRegistrationPayment(ctx, order)
}

// purchaseToken returns the token named in the purchase remark.
func purchaseToken(order *types.Order) string {
	var msg remark.Message
	if err := json.Unmarshal(order.PurchaseRemark, &msg); err == nil && msg.Token() != "" {
		return msg.Token()
	}
	return order.Currency
}
