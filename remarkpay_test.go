package remarkpay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
)

const (
	treasury = "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48"
	alice    = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	bob      = "0x90b5ab205c6974c9ea841be688864633dc9ca8a357843eeacf2314649965fe22"
)

type stubBuyer struct {
	mu     sync.Mutex
	owners map[string]string
}

func (b *stubBuyer) Name() string { return "soonsocial" }

func (b *stubBuyer) DomainRegistrationPrice(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000000000), nil
}

func (b *stubBuyer) RegisteredDomains(_ context.Context, names []string) ([]clients.DomainRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []clients.DomainRecord
	for _, n := range names {
		if owner, ok := b.owners[n]; ok {
			out = append(out, clients.DomainRecord{Name: n, Owner: owner})
		}
	}
	return out, nil
}

func (b *stubBuyer) MinDomainLength(context.Context) (int, error) { return 3, nil }

func (b *stubBuyer) RegisterDomain(_ context.Context, target, domain string) (*clients.TxResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owners[domain] = target
	return &clients.TxResult{
		Status:      clients.TxIncluded,
		Success:     true,
		StatusCode:  clients.StatusRegistered,
		BlockHash:   "0xbuyer",
		BlockNumber: 77,
	}, nil
}

func (b *stubBuyer) BlockMeta(context.Context) (types.BlockMeta, error) {
	return types.BlockMeta{BlockNumber: 78, BlockHash: "0xbuyerhead"}, nil
}

type stubSeller struct {
	mu      sync.Mutex
	remarks []string
	refunds []string
}

func (s *stubSeller) Name() string { return "rococo" }

func (s *stubSeller) SendRemark(_ context.Context, _ clients.Role, payload string) (*clients.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remarks = append(s.remarks, payload)
	return &clients.TxResult{Status: clients.TxIncluded, Success: true}, nil
}

func (s *stubSeller) SendRefund(_ context.Context, _ clients.Role, to string, _ decimal.Decimal, payload string) (*clients.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunds = append(s.refunds, to+" "+payload)
	return &clients.TxResult{Status: clients.TxIncluded, Success: true}, nil
}

type stubSource struct {
	blocks []types.Block
}

func (s *stubSource) Head(context.Context) (uint64, error) {
	return s.blocks[len(s.blocks)-1].Height, nil
}

func (s *stubSource) Blocks(_ context.Context, from, to uint64) ([]types.Block, error) {
	var out []types.Block
	for _, b := range s.blocks {
		if b.Height >= from && b.Height <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

func encode(t *testing.T, action, opID, domain string) []byte {
	t.Helper()
	codec, err := remark.NewCodec(remark.Config{
		ProtNames: []string{"social_t_0"},
		Versions:  []string{"0.1"},
		Actions:   []string{action},
	}, remark.DefaultSchema())
	require.NoError(t, err)
	raw, err := codec.Encode(remark.Source{
		ProtName: "social_t_0",
		Version:  "0.1",
		Action:   action,
		Content: map[remark.Field]string{
			remark.FieldOpID:       opID,
			remark.FieldTarget:     alice,
			remark.FieldDomainName: domain,
			remark.FieldToken:      "ROC",
		},
	})
	require.NoError(t, err)
	return []byte(raw)
}

func paymentBlock(t *testing.T, height uint64, opID, domain string, amount int64) types.Block {
	return types.Block{
		Height:    height,
		Hash:      "0xblock",
		Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Extrinsics: []types.Extrinsic{{
			Index:   1,
			Hash:    "0xext",
			Success: true,
			Origin:  bob,
			Calls: []types.Call{
				{Name: "Balances.transfer_keep_alive", Transfer: &types.CallTransfer{Dest: treasury, Amount: decimal.NewFromInt(amount)}},
				{Name: types.CallSystemRemark, Remark: encode(t, remark.ActionDomainRegister, opID, domain)},
			},
		}},
	}
}

func newTestService(t *testing.T, buyer *stubBuyer, seller *stubSeller, source *stubSource) (*RemarkPay, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	svc, err := New(context.Background(), types.DefaultConfig(),
		WithBuyerChain(buyer),
		WithSellerChain(seller),
		WithBlockSource(source),
		WithStore(mem),
		WithTreasury(treasury),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, mem
}

func TestPurchaseIsRegisteredAndConfirmed(t *testing.T) {
	buyer := &stubBuyer{owners: map[string]string{}}
	seller := &stubSeller{}
	source := &stubSource{blocks: []types.Block{paymentBlock(t, 10, "op-1", "alice.sub", 1000000000)}}
	svc, mem := newTestService(t, buyer, seller, source)

	atHead, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, atHead)

	order, err := mem.Get(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderProcessing, order.Status)
	assert.Equal(t, alice, buyer.owners["alice.sub"])
	require.Len(t, seller.remarks, 1)
	assert.True(t, strings.HasPrefix(seller.remarks[0], "social_t_0::0.1::DMN_REG_OK::op-1::"))

	// the treasury's own confirmation remark is picked up on the next block
	source.blocks = append(source.blocks, types.Block{
		Height: 11,
		Hash:   "0xblock11",
		Extrinsics: []types.Extrinsic{{
			Index:   2,
			Success: true,
			Origin:  treasury,
			Calls:   []types.Call{{Name: types.CallSystemRemark, Remark: []byte(seller.remarks[0])}},
		}},
	})
	_, err = svc.RunOnce(context.Background())
	require.NoError(t, err)

	order, err = mem.Get(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderCompleted, order.Status)
	assert.NotEmpty(t, order.ConfirmationRemark)

	cp, err := mem.LoadCheckpoint(context.Background(), "rococo")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), cp.BlockNumber)
}

func TestTakenDomainIsRefundedAtHead(t *testing.T) {
	buyer := &stubBuyer{owners: map[string]string{"taken.sub": bob}}
	seller := &stubSeller{}
	source := &stubSource{blocks: []types.Block{paymentBlock(t, 10, "op-2", "taken.sub", 1000000000)}}
	svc, mem := newTestService(t, buyer, seller, source)

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	order, err := mem.Get(context.Background(), "op-2")
	require.NoError(t, err)
	assert.Equal(t, types.OrderFailed, order.Status)
	require.NotNil(t, order.Error)
	assert.Equal(t, 20100, order.Error.Code)

	require.Len(t, seller.refunds, 1)
	assert.True(t, strings.HasPrefix(seller.refunds[0], bob+" social_t_0::0.1::DMN_REG_REFUND::op-2::"))
}

func TestUnderpaidPurchaseCreatesNoOrder(t *testing.T) {
	buyer := &stubBuyer{owners: map[string]string{}}
	seller := &stubSeller{}
	source := &stubSource{blocks: []types.Block{paymentBlock(t, 10, "op-3", "cheap.sub", 10)}}
	svc, mem := newTestService(t, buyer, seller, source)

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, mem.Len())
	assert.Empty(t, seller.remarks)
	assert.Empty(t, seller.refunds)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.Remark.ProtName = "other"

	_, err := New(context.Background(), cfg,
		WithBuyerChain(&stubBuyer{}),
		WithSellerChain(&stubSeller{}),
		WithBlockSource(&stubSource{}),
		WithStore(store.NewMemoryStore()),
	)
	require.Error(t, err)
}
