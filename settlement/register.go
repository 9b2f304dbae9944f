package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/parser"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/status"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
	"github.com/vitwit/remarkpay/verification"
)

// HandleDomainRegisterPayment runs the purchase step: check the payment,
// record the order, check the domain and register it on the buyer chain.
func (s *SettlementService) HandleDomainRegisterPayment(ctx context.Context, call parser.ParsedCall, isHead bool) error {
	msg := call.Remark
	fields := s.fields(call)

	if call.Transfer == nil {
		s.logger.Warn("payment remark without transfer", fields)
		return nil
	}

	res, err := s.verifier.VerifyPayment(ctx, call.Transfer.Amount)
	if err != nil {
		return fmt.Errorf("verify payment %s: %w", call.ID, err)
	}
	if !res.Passed() {
		fields["reason"] = res.OrderError().Reason
		s.logger.Warn("payment is lower than the registration price", fields)
		s.count(metrics.PaymentsUnderpaid, msg.Action)
		return nil
	}

	order, proceed, err := s.openOrder(ctx, call)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug("order already settled", fields)
		return nil
	}

	if err := s.drainPending(ctx, order); err != nil {
		return err
	}
	if order.Status != types.OrderProcessing {
		s.logger.Info("order settled by a buffered acknowledgement", fields)
		return nil
	}
	return s.registerDomain(ctx, order, msg, isHead)
}

// openOrder creates the order for call, or resumes it when a replay finds it
// still processing. proceed is false when the order is already settled.
func (s *SettlementService) openOrder(ctx context.Context, call parser.ParsedCall) (*types.Order, bool, error) {
	id := call.Remark.OpID()

	existing, err := s.orders.Get(ctx, id)
	switch {
	case err == nil:
		return existing, existing.Status == types.OrderProcessing, nil
	case !errors.Is(err, store.ErrOrderNotFound):
		return nil, false, fmt.Errorf("load order %s: %w", id, err)
	}

	now := s.now().UTC()
	order := &types.Order{
		ID:                   id,
		BlockHashSellerChain: call.BlockHash,
		Registrant:           call.Remark.Target(),
		Username:             call.Remark.DomainName(),
		Price:                call.Transfer.Amount,
		Currency:             s.cfg.Currency,
		PurchaseTx:           call.Transfer,
		Status:               types.OrderProcessing,
		RefundStatus:         types.RefundNone,
		PurchaseRemark:       call.Remark.JSON(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, store.ErrOrderExists) {
			existing, err := s.orders.Get(ctx, id)
			if err != nil {
				return nil, false, fmt.Errorf("reload order %s: %w", id, err)
			}
			return existing, existing.Status == types.OrderProcessing, nil
		}
		return nil, false, fmt.Errorf("create order %s: %w", id, err)
	}
	s.count(metrics.OrdersCreated, call.Action())
	s.logger.Info("order created", map[string]any{"opId": id, "domain": order.Username, "block": call.BlockNumber})
	return order, true, nil
}

func (s *SettlementService) registerDomain(ctx context.Context, order *types.Order, msg remark.Message, isHead bool) error {
	target, domain := msg.Target(), msg.DomainName()

	res := s.verifier.VerifyAvailability(ctx, target, domain)
	switch res.Outcome {
	case verification.Settled:
		order.Status = types.OrderProcessing
		order.UpdatedAt = s.now().UTC()
		if err := s.orders.Save(ctx, order); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}
		s.logger.Info("domain already registered for target", map[string]any{"opId": order.ID, "domain": domain})
		return nil
	case verification.Rejected:
		return s.fail(ctx, order, res, isHead)
	}

	if res = s.verifier.VerifyFormat(ctx, domain); !res.Passed() {
		return s.fail(ctx, order, res, isHead)
	}
	if res = s.verifier.VerifyLength(ctx, domain); !res.Passed() {
		return s.fail(ctx, order, res, isHead)
	}

	if order.RefundStatus == types.RefundCompleted {
		return s.fail(ctx, order, s.verifier.Reject(ctx, status.UnknownError, "payment already refunded"), isHead)
	}

	tctx, cancel := s.withTimeout(ctx)
	tx, err := s.buyer.RegisterDomain(tctx, target, domain)
	cancel()
	if err != nil {
		s.logger.Error("domain registration failed", map[string]any{"opId": order.ID, "domain": domain, "error": err})
		return s.fail(ctx, order, s.verifier.Reject(ctx, status.UnknownError, err.Error()), isHead)
	}
	if !tx.Included() || tx.StatusCode != clients.StatusRegistered {
		r := verification.Result{
			Outcome: verification.Rejected,
			Cause:   status.RegistrationExecutionFailure,
			Detail:  tx.Reason,
			Meta:    types.BlockMeta{BlockNumber: tx.BlockNumber, BlockHash: tx.BlockHash},
		}
		if tx.BlockHash == "" {
			r = s.verifier.Reject(ctx, status.RegistrationExecutionFailure, tx.Reason)
		}
		return s.fail(ctx, order, r, isHead)
	}

	order.BlockHashBuyerChain = tx.BlockHash
	order.Error = nil
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	s.logger.Info("domain registered", map[string]any{"opId": order.ID, "domain": domain, "blockHash": tx.BlockHash})

	return s.sendCompletion(ctx, order, msg)
}

// sendCompletion publishes DMN_REG_OK from the treasury. A failure keeps
// the order processing with the error recorded; the domain is registered
// so no refund is owed.
func (s *SettlementService) sendCompletion(ctx context.Context, order *types.Order, msg remark.Message) error {
	payload, err := s.codec.Encode(remark.Source{
		ProtName: s.cfg.ProtName,
		Version:  s.cfg.Version,
		Action:   remark.ActionDomainRegisterComplete,
		Content: map[remark.Field]string{
			remark.FieldOpID:       msg.OpID(),
			remark.FieldTarget:     msg.Target(),
			remark.FieldDomainName: msg.DomainName(),
			remark.FieldToken:      msg.Token(),
		},
	})
	if err == nil {
		tctx, cancel := s.withTimeout(ctx)
		var tx *clients.TxResult
		tx, err = s.seller.SendRemark(tctx, clients.RoleTreasury, payload)
		cancel()
		if err == nil && !tx.Included() {
			err = fmt.Errorf("remark not included: %s", tx.Reason)
		}
	}
	if err == nil {
		return nil
	}

	s.logger.Error("completion remark failed", map[string]any{"opId": order.ID, "error": err})
	e := types.OrderError{
		Code:      status.CompletionRemarkFailure.Code(),
		Reason:    status.CompletionRemarkFailure.Reason() + " " + err.Error(),
		BlockHash: order.BlockHashBuyerChain,
	}
	order.Error = &e
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

// fail records res on the order and compensates when at the head. A refund
// already observed on chain is kept and never paid again.
func (s *SettlementService) fail(ctx context.Context, order *types.Order, res verification.Result, isHead bool) error {
	refunded := order.RefundStatus == types.RefundCompleted
	order.Fail(res.OrderError())
	if refunded {
		order.RefundStatus = types.RefundCompleted
	}
	order.BlockHashBuyerChain = res.Meta.BlockHash
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	s.count(metrics.OrdersFailed, remark.ActionDomainRegister)
	s.logger.Warn("order failed", map[string]any{
		"opId":   order.ID,
		"code":   order.Error.Code,
		"reason": order.Error.Reason,
		"head":   isHead,
	})

	if refunded {
		s.logger.Info("refund already observed, nothing to compensate", map[string]any{"opId": order.ID})
		return nil
	}
	if !isHead {
		s.count(metrics.RefundsDeferred, remark.ActionDomainRegisterRefund)
		return nil
	}
	return s.RefundDomainRegistrationPayment(ctx, order)
}
