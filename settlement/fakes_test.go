package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/remarkpay/clients"
	"github.com/vitwit/remarkpay/parser"
	"github.com/vitwit/remarkpay/remark"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/types"
)

const (
	treasury = "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48"
	alice    = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	bob      = "0x90b5ab205c6974c9ea841be688864633dc9ca8a357843eeacf2314649965fe22"
)

var errChain = errors.New("rpc unavailable")

type fakeBuyer struct {
	mu sync.Mutex

	price       decimal.Decimal
	priceErr    error
	owners      map[string]string
	domainsErr  error
	minLength   int
	minErr      error
	result      *clients.TxResult
	registerErr error
	registered  []string
}

func newFakeBuyer() *fakeBuyer {
	return &fakeBuyer{
		price:     decimal.NewFromInt(1000000000),
		owners:    map[string]string{},
		minLength: 5,
		result: &clients.TxResult{
			Status:      clients.TxIncluded,
			Success:     true,
			StatusCode:  clients.StatusRegistered,
			TxHash:      "0xregtx",
			BlockHash:   "0xbuyerblock",
			BlockNumber: 900,
		},
	}
}

func (b *fakeBuyer) Name() string { return "soonsocial" }

func (b *fakeBuyer) DomainRegistrationPrice(context.Context) (decimal.Decimal, error) {
	return b.price, b.priceErr
}

func (b *fakeBuyer) RegisteredDomains(_ context.Context, names []string) ([]clients.DomainRecord, error) {
	if b.domainsErr != nil {
		return nil, b.domainsErr
	}
	out := make([]clients.DomainRecord, 0, len(names))
	for _, n := range names {
		out = append(out, clients.DomainRecord{Name: n, Owner: b.owners[n]})
	}
	return out, nil
}

func (b *fakeBuyer) MinDomainLength(context.Context) (int, error) {
	return b.minLength, b.minErr
}

func (b *fakeBuyer) RegisterDomain(_ context.Context, target, domain string) (*clients.TxResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = append(b.registered, domain)
	if b.registerErr != nil {
		return nil, b.registerErr
	}
	if b.result.Included() {
		b.owners[domain] = target
	}
	return b.result, nil
}

func (b *fakeBuyer) BlockMeta(context.Context) (types.BlockMeta, error) {
	return types.BlockMeta{BlockNumber: 901, BlockHash: "0xbuyerhead"}, nil
}

type refundCall struct {
	to      string
	amount  decimal.Decimal
	payload string
}

type fakeSeller struct {
	mu sync.Mutex

	remarks   []string
	refunds   []refundCall
	remarkErr error
	refundErr error
	rejected  bool
}

func (s *fakeSeller) Name() string { return "rococo" }

func (s *fakeSeller) SendRemark(_ context.Context, signer clients.Role, payload string) (*clients.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if signer != clients.RoleTreasury {
		return nil, clients.ErrUnknownRole
	}
	if s.remarkErr != nil {
		return nil, s.remarkErr
	}
	s.remarks = append(s.remarks, payload)
	return &clients.TxResult{Status: clients.TxIncluded, Success: true, TxHash: "0xremark"}, nil
}

func (s *fakeSeller) SendRefund(_ context.Context, _ clients.Role, to string, amount decimal.Decimal, payload string) (*clients.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	if s.rejected {
		return &clients.TxResult{Status: clients.TxDispatchError, Reason: "balances.InsufficientBalance"}, nil
	}
	s.refunds = append(s.refunds, refundCall{to: to, amount: amount, payload: payload})
	return &clients.TxResult{Status: clients.TxIncluded, Success: true, TxHash: "0xrefund"}, nil
}

type harness struct {
	svc    *SettlementService
	buyer  *fakeBuyer
	seller *fakeSeller
	orders *store.MemoryStore
	codec  *remark.Codec
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	codec, err := remark.NewCodec(remark.Config{
		ProtNames: []string{"social_t_0"},
		Versions:  []string{"0.1"},
		Actions:   []string{remark.ActionDomainRegister, remark.ActionDomainRegisterComplete, remark.ActionDomainRegisterRefund, remark.ActionEnergyGenerate},
	}, remark.DefaultSchema())
	require.NoError(t, err)

	h := &harness{buyer: newFakeBuyer(), seller: &fakeSeller{}, orders: store.NewMemoryStore(), codec: codec}
	opts = append([]Option{WithClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) })}, opts...)
	h.svc, err = NewSettlementService(Deps{
		Buyer:  h.buyer,
		Seller: h.seller,
		Orders: h.orders,
		Codec:  codec,
	}, Config{
		ProtName:       "social_t_0",
		Version:        "0.1",
		TopLevelDomain: "sub",
		Currency:       "ROC",
		Timeout:        time.Second,
	}, opts...)
	require.NoError(t, err)
	return h
}

// call builds a parsed call the way the parser would for an extrinsic
// signed by signer.
func (h *harness) call(t *testing.T, action, opID, domain string, amount int64, signer string) parser.ParsedCall {
	t.Helper()
	raw, err := h.codec.Encode(remark.Source{
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

	pc := parser.ParsedCall{
		ID:          parser.CallID(10, 1, 1),
		BlockNumber: 10,
		BlockHash:   "0xsellerblock",
		Signer:      signer,
		Remark:      h.codec.DecodeString(raw),
		Raw:         raw,
	}
	if amount > 0 {
		to := treasury
		if signer == treasury {
			to = bob
		}
		pc.Transfer = &types.Transfer{
			ID:          parser.CallID(10, 1, 0),
			BlockNumber: 10,
			BlockHash:   "0xsellerblock",
			From:        signer,
			To:          to,
			Amount:      decimal.NewFromInt(amount),
		}
	}
	return pc
}

func (h *harness) payment(t *testing.T, opID, domain string, amount int64) parser.ParsedCall {
	return h.call(t, remark.ActionDomainRegister, opID, domain, amount, bob)
}

func (h *harness) order(t *testing.T, id string) *types.Order {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}
