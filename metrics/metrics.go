package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder drops everything. It is the default of every component.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// Event names shared across packages.
const (
	ParserSkipped     = "parser_skipped"
	ParserCalls       = "parser_calls"
	OrdersCreated     = "orders_created"
	OrdersCompleted   = "orders_completed"
	OrdersFailed      = "orders_failed"
	PaymentsUnderpaid = "payments_underpaid"
	RefundsSubmitted  = "refunds_submitted"
	RefundsDeferred   = "refunds_deferred"
	RefundsFailed     = "refunds_failed"
	RemarksBuffered   = "remarks_buffered"
	BlocksProcessed   = "blocks_processed"
	BatchErrors       = "batch_errors"
)

// Since records the time elapsed from start under name.
func Since(r Recorder, name string, start time.Time, labels map[string]string) {
	r.ObserveLatency(name, time.Since(start), labels)
}
