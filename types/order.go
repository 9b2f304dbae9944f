package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the registration progress of an order.
type OrderStatus string

const (
	OrderProcessing OrderStatus = "Processing"
	OrderCompleted  OrderStatus = "Completed"
	OrderFailed     OrderStatus = "Failed"
)

// RefundStatus is only meaningful once an order has failed.
type RefundStatus string

const (
	RefundNone       RefundStatus = "None"
	RefundWaiting    RefundStatus = "Waiting"
	RefundProcessing RefundStatus = "Processing"
	RefundCompleted  RefundStatus = "Completed"
)

// Transfer is a value transfer observed on the seller chain.
type Transfer struct {
	ID            string          `json:"id"`
	BlockNumber   uint64          `json:"blockNumber"`
	BlockHash     string          `json:"blockHash"`
	ExtrinsicHash string          `json:"extrinsicHash,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
}

// OrderError is the structured last error persisted on a failed order.
type OrderError struct {
	Code        int    `json:"code"`
	Reason      string `json:"reason"`
	BlockHash   string `json:"blockHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

// Order is a username registration purchase.
type Order struct {
	// ID is the attempt id from the remark. It is the same for the
	// purchase, confirmation and refund remarks of one purchase.
	ID string `json:"id"`

	BlockHashSellerChain string `json:"blockHashSellerChain,omitempty"`
	BlockHashBuyerChain  string `json:"blockHashBuyerChain,omitempty"`

	Registrant string          `json:"registrant"`
	Username   string          `json:"username"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`

	PurchaseTx *Transfer `json:"purchaseTx,omitempty"`
	RefundTx   *Transfer `json:"refundTx,omitempty"`

	Status       OrderStatus  `json:"status"`
	RefundStatus RefundStatus `json:"refundStatus"`

	PurchaseRemark     json.RawMessage `json:"purchaseRemark,omitempty"`
	ConfirmationRemark json.RawMessage `json:"confirmationRemark,omitempty"`
	RefundRemark       json.RawMessage `json:"refundRemark,omitempty"`

	Error *OrderError `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Fail marks the order failed with a refund pending.
func (o *Order) Fail(e OrderError) {
	o.Status = OrderFailed
	o.RefundStatus = RefundWaiting
	o.Error = &e
}

// Refundable reports whether a compensating refund is still owed.
func (o *Order) Refundable() bool {
	return o.Status == OrderFailed && o.RefundStatus == RefundWaiting
}

// Clone returns a deep enough copy for stores that hand out values.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.PurchaseTx != nil {
		t := *o.PurchaseTx
		cp.PurchaseTx = &t
	}
	if o.RefundTx != nil {
		t := *o.RefundTx
		cp.RefundTx = &t
	}
	if o.Error != nil {
		e := *o.Error
		cp.Error = &e
	}
	cp.PurchaseRemark = append(json.RawMessage(nil), o.PurchaseRemark...)
	cp.ConfirmationRemark = append(json.RawMessage(nil), o.ConfirmationRemark...)
	cp.RefundRemark = append(json.RawMessage(nil), o.RefundRemark...)
	return &cp
}
