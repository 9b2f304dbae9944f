package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/parser"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
	"github.com/vitwit/remarkpay/utils"
)

// HandleDomainRegisterCompleted marks the order completed when the
// treasury's DMN_REG_OK remark is observed.
func (s *SettlementService) HandleDomainRegisterCompleted(ctx context.Context, call parser.ParsedCall) error {
	if !s.trustedSigner(call) {
		return nil
	}
	order, ok, err := s.orderFor(ctx, call)
	if err != nil || !ok {
		return err
	}
	return s.applyCompleted(ctx, order, call)
}

func (s *SettlementService) applyCompleted(ctx context.Context, order *types.Order, call parser.ParsedCall) error {
	order.ConfirmationRemark = call.Remark.JSON()
	order.Status = types.OrderCompleted
	order.Error = nil
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	s.count(metrics.OrdersCompleted, call.Action())
	s.logger.Info("order completed", map[string]any{"opId": order.ID, "call": call.ID})
	return nil
}

// HandleDomainRegisterRefund records the observed refund of an order.
func (s *SettlementService) HandleDomainRegisterRefund(ctx context.Context, call parser.ParsedCall) error {
	if !s.trustedSigner(call) {
		return nil
	}
	order, ok, err := s.orderFor(ctx, call)
	if err != nil || !ok {
		return err
	}
	return s.applyRefund(ctx, order, call)
}

func (s *SettlementService) applyRefund(ctx context.Context, order *types.Order, call parser.ParsedCall) error {
	if order.Status != types.OrderFailed {
		s.logger.Warn("refund observed for an order that did not fail", map[string]any{"opId": order.ID, "status": order.Status})
	}
	order.RefundRemark = call.Remark.JSON()
	if call.Transfer != nil {
		order.RefundTx = call.Transfer
	}
	order.RefundStatus = types.RefundCompleted
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	s.logger.Info("refund completed", map[string]any{"opId": order.ID, "call": call.ID})
	return nil
}

func (s *SettlementService) trustedSigner(call parser.ParsedCall) bool {
	if s.trusted == "" || utils.SameAddress(call.Signer, s.trusted) {
		return true
	}
	s.logger.Warn("acknowledgement from untrusted signer ignored", map[string]any{
		"call": call.ID, "action": call.Action(), "signer": call.Signer,
	})
	return false
}

// orderFor loads the order of an acknowledgement. A missing order buffers
// the call until its payment is processed.
func (s *SettlementService) orderFor(ctx context.Context, call parser.ParsedCall) (*types.Order, bool, error) {
	id := call.Remark.OpID()
	order, err := s.orders.Get(ctx, id)
	if errors.Is(err, store.ErrOrderNotFound) {
		s.pending.Set(pendingKey{opID: id, action: call.Action()}, call, s.cfg.PendingTTL)
		s.count(metrics.RemarksBuffered, call.Action())
		s.logger.Warn("acknowledgement before payment, buffered", s.fields(call))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load order %s: %w", id, err)
	}
	return order, true, nil
}

// drainPending applies the acknowledgements buffered for order. The caller
// holds the lock of the order.
func (s *SettlementService) drainPending(ctx context.Context, order *types.Order) error {
	for _, action := range []string{remark.ActionDomainRegisterComplete, remark.ActionDomainRegisterRefund} {
		call, ok := s.pending.Take(pendingKey{opID: order.ID, action: action})
		if !ok {
			continue
		}
		var err error
		if action == remark.ActionDomainRegisterComplete {
			err = s.applyCompleted(ctx, order, call)
		} else {
			err = s.applyRefund(ctx, order, call)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
