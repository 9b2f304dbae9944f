// Package store persists orders and indexer checkpoints.
package store

import (
	"context"
	"errors"

	"github.com/vitwit/remarkpay/types"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderExists        = errors.New("order already exists")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// OrderStore keeps at most one order per attempt id. Orders are never deleted.
type OrderStore interface {
	Get(ctx context.Context, id string) (*types.Order, error)
	// Create fails with ErrOrderExists when an order with the same id exists.
	Create(ctx context.Context, order *types.Order) error
	// Save overwrites an existing order.
	Save(ctx context.Context, order *types.Order) error
	// ListRefundable returns failed orders still waiting for a refund,
	// oldest first.
	ListRefundable(ctx context.Context) ([]*types.Order, error)
}

// CheckpointStore remembers the last fully processed block per chain.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, chain string) (*types.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp types.Checkpoint) error
}

// Store is implemented by both backends.
type Store interface {
	OrderStore
	CheckpointStore
	Close()
}
