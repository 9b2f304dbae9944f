package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vitwit/remarkpay/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS username_registrations (
	id                      TEXT PRIMARY KEY,
	block_hash_seller_chain TEXT NOT NULL DEFAULT '',
	block_hash_buyer_chain  TEXT NOT NULL DEFAULT '',
	registrant              TEXT NOT NULL,
	username                TEXT NOT NULL,
	price                   TEXT NOT NULL,
	currency                TEXT NOT NULL,
	purchase_tx             JSONB,
	refund_tx               JSONB,
	status                  TEXT NOT NULL,
	refund_status           TEXT NOT NULL,
	purchase_remark         JSONB,
	confirmation_remark     JSONB,
	refund_remark           JSONB,
	error                   JSONB,
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS username_registrations_refundable
	ON username_registrations (status, refund_status, created_at);
CREATE TABLE IF NOT EXISTS indexer_checkpoints (
	chain        TEXT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	block_hash   TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);`

const orderColumns = `id, block_hash_seller_chain, block_hash_buyer_chain, registrant, username, price, currency,
	purchase_tx, refund_tx, status, refund_status, purchase_remark, confirmation_remark, refund_remark,
	error, created_at, updated_at`

type PostgresStore struct {
	Db *pgxpool.Pool
}

// NewPostgresStore connects to connString and creates the tables when missing.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to migrate schema: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*types.Order, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+orderColumns+" FROM username_registrations WHERE id = $1", id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) Create(ctx context.Context, order *types.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	_, err = s.Db.Exec(ctx,
		"INSERT INTO username_registrations ("+orderColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)",
		args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
		}
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, order *types.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	tag, err := s.Db.Exec(ctx, `UPDATE username_registrations SET
		block_hash_seller_chain = $2, block_hash_buyer_chain = $3, registrant = $4, username = $5,
		price = $6, currency = $7, purchase_tx = $8, refund_tx = $9, status = $10, refund_status = $11,
		purchase_remark = $12, confirmation_remark = $13, refund_remark = $14, error = $15,
		created_at = $16, updated_at = $17
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}
	return nil
}

func (s *PostgresStore) ListRefundable(ctx context.Context) ([]*types.Order, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+orderColumns+" FROM username_registrations WHERE status = $1 AND refund_status = $2 ORDER BY created_at, id",
		string(types.OrderFailed), string(types.RefundWaiting))
	if err != nil {
		return nil, fmt.Errorf("list refundable orders: %w", err)
	}
	defer rows.Close()

	var orders []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, chain string) (*types.Checkpoint, error) {
	var (
		cp     = types.Checkpoint{Chain: chain}
		number int64
	)
	err := s.Db.QueryRow(ctx,
		"SELECT block_number, block_hash, updated_at FROM indexer_checkpoints WHERE chain = $1", chain).
		Scan(&number, &cp.BlockHash, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.BlockNumber = uint64(number)
	return &cp, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp types.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	_, err := s.Db.Exec(ctx, `INSERT INTO indexer_checkpoints (chain, block_number, block_hash, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain) DO UPDATE SET block_number = EXCLUDED.block_number,
			block_hash = EXCLUDED.block_hash, updated_at = EXCLUDED.updated_at`,
		cp.Chain, int64(cp.BlockNumber), cp.BlockHash, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func orderArgs(o *types.Order) ([]any, error) {
	purchaseTx, err := jsonOrNil(o.PurchaseTx)
	if err != nil {
		return nil, err
	}
	refundTx, err := jsonOrNil(o.RefundTx)
	if err != nil {
		return nil, err
	}
	orderErr, err := jsonOrNil(o.Error)
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.BlockHashSellerChain, o.BlockHashBuyerChain, o.Registrant, o.Username,
		o.Price.String(), o.Currency, purchaseTx, refundTx, string(o.Status), string(o.RefundStatus),
		rawOrNil(o.PurchaseRemark), rawOrNil(o.ConfirmationRemark), rawOrNil(o.RefundRemark),
		orderErr, o.CreatedAt, o.UpdatedAt,
	}, nil
}

func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

func rawOrNil(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return m
}

func scanOrder(row pgx.Row) (*types.Order, error) {
	var (
		o                                 types.Order
		price, status, refundStatus       string
		purchaseTx, refundTx, orderErr    []byte
		purchase, confirmation, refundRmk []byte
	)
	err := row.Scan(&o.ID, &o.BlockHashSellerChain, &o.BlockHashBuyerChain, &o.Registrant, &o.Username,
		&price, &o.Currency, &purchaseTx, &refundTx, &status, &refundStatus,
		&purchase, &confirmation, &refundRmk, &orderErr, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("order %s price: %w", o.ID, err)
	}
	o.Status = types.OrderStatus(status)
	o.RefundStatus = types.RefundStatus(refundStatus)
	o.PurchaseRemark = purchase
	o.ConfirmationRemark = confirmation
	o.RefundRemark = refundRmk

	if purchaseTx != nil {
		o.PurchaseTx = new(types.Transfer)
		if err := json.Unmarshal(purchaseTx, o.PurchaseTx); err != nil {
			return nil, fmt.Errorf("order %s purchase tx: %w", o.ID, err)
		}
	}
	if refundTx != nil {
		o.RefundTx = new(types.Transfer)
		if err := json.Unmarshal(refundTx, o.RefundTx); err != nil {
			return nil, fmt.Errorf("order %s refund tx: %w", o.ID, err)
		}
	}
	if orderErr != nil {
		o.Error = new(types.OrderError)
		if err := json.Unmarshal(orderErr, o.Error); err != nil {
			return nil, fmt.Errorf("order %s error: %w", o.ID, err)
		}
	}
	return &o, nil
}
