package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known call names as reported by the block source.
const (
	CallSystemRemark = "System.remark"
	CallTransferName = "Balances.transfer"
)

// Block is one block of the indexed chain, already decoded down to the
// calls this system cares about.
type Block struct {
	Height     uint64
	Hash       string
	Timestamp  time.Time
	Extrinsics []Extrinsic
}

// Extrinsic is a signed or unsigned extrinsic with its dispatch outcome.
type Extrinsic struct {
	Index   uint32
	Hash    string
	Success bool
	// Origin is the signer (hex public key); empty for unsigned extrinsics.
	Origin string
	// Calls are flattened in execution order: a batch contributes its inner calls.
	Calls []Call
}

// Call is a single recognised call. Exactly one of Remark or Transfer is set.
type Call struct {
	Name     string
	Remark   []byte
	Transfer *CallTransfer
}

// CallTransfer holds the arguments of a value transfer call.
type CallTransfer struct {
	Dest   string
	Amount decimal.Decimal
}

// BlockMeta identifies a block of a collaborator chain, used as error context.
type BlockMeta struct {
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	BlockHash   string `json:"blockHash,omitempty"`
}

// Checkpoint is the last fully processed block of an indexed chain.
type Checkpoint struct {
	Chain       string    `json:"chain"`
	BlockNumber uint64    `json:"blockNumber"`
	BlockHash   string    `json:"blockHash"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
