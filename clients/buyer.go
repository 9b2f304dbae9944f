package clients

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	rptypes "github.com/vitwit/remarkpay/types"
	"github.com/vitwit/remarkpay/utils"
)

const eventDomainRegistered = "Domains.DomainRegistered"

var _ BuyerChain = (*BuyerClient)(nil)

// BuyerClient talks to the chain hosting the domains pallet. Registrations
// are signed by the registrar, a proxy of the sudo account.
type BuyerClient struct {
	*SubstrateClient
	price   decimal.Decimal
	expires uint32
}

func NewBuyerClient(sub *SubstrateClient, domain rptypes.DomainConfig) (*BuyerClient, error) {
	price, err := utils.ValidateAmount(domain.RegistrationPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid registration price %q: %w", domain.RegistrationPrice, err)
	}
	expires := domain.ExpiresInBlocks
	if expires == 0 {
		expires = rptypes.BlocksInYear
	}
	return &BuyerClient{SubstrateClient: sub, price: *price, expires: expires}, nil
}

// DomainRegistrationPrice is fixed by configuration; the pallet exposes no
// price for forced registrations.
func (b *BuyerClient) DomainRegistrationPrice(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return b.price, nil
}

// RegisteredDomains returns a record for every name already registered.
func (b *BuyerClient) RegisteredDomains(ctx context.Context, names []string) ([]DomainRecord, error) {
	meta, err := b.metadata()
	if err != nil {
		return nil, err
	}

	var records []DomainRecord
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		arg, err := codec.Encode(types.NewBytes([]byte(strings.ToLower(name))))
		if err != nil {
			return nil, fmt.Errorf("encode domain %q: %w", name, err)
		}
		key, err := types.CreateStorageKey(meta, "Domains", "RegisteredDomains", arg)
		if err != nil {
			return nil, fmt.Errorf("create storage key: %w", err)
		}
		raw, err := b.api.RPC.State.GetStorageRawLatest(key)
		if err != nil {
			return nil, fmt.Errorf("query registered domain %q: %w", name, err)
		}
		if raw == nil || len(*raw) == 0 {
			continue
		}
		owner, err := decodeDomainOwner(*raw)
		if err != nil {
			return nil, fmt.Errorf("decode domain %q: %w", name, err)
		}
		records = append(records, DomainRecord{Name: name, Owner: owner})
	}
	return records, nil
}

// domainMetaPrefix is the leading part of the pallet's DomainMeta; only
// fields up to the owner are read.
type domainMetaPrefix struct {
	CreatedBy   types.AccountID
	CreatedAt   types.U32
	CreatedTime types.U64
	ExpiresAt   types.U32
	Owner       types.AccountID
}

func decodeDomainOwner(raw []byte) (string, error) {
	var m domainMetaPrefix
	if err := scale.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
		return "", err
	}
	return hexutil.Encode(m.Owner[:]), nil
}

func (b *BuyerClient) MinDomainLength(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	meta, err := b.metadata()
	if err != nil {
		return 0, err
	}
	raw, err := meta.FindConstantValue("Domains", "MinDomainLength")
	if err != nil {
		return 0, fmt.Errorf("find Domains.MinDomainLength: %w", err)
	}
	var n types.U32
	if err := codec.Decode(raw, &n); err != nil {
		return 0, fmt.Errorf("decode Domains.MinDomainLength: %w", err)
	}
	return int(n), nil
}

// RegisterDomain submits
// Proxy.proxy(sudoKey, None, Sudo.sudo(Domains.force_register_domain(...))).
func (b *BuyerClient) RegisterDomain(ctx context.Context, target, domain string) (*TxResult, error) {
	meta, err := b.metadata()
	if err != nil {
		return nil, err
	}
	targetID, err := utils.AccountIDFromAddress(target)
	if err != nil {
		return nil, err
	}

	sudoKey, err := b.sudoKey(meta)
	if err != nil {
		return nil, err
	}

	targetAddr, err := types.NewMultiAddressFromAccountID(targetID)
	if err != nil {
		return nil, err
	}
	register, err := types.NewCall(meta, "Domains.force_register_domain",
		targetAddr, types.NewBytes([]byte(domain)), noneArg{}, types.NewU32(b.expires))
	if err != nil {
		return nil, fmt.Errorf("build force_register_domain: %w", err)
	}
	sudo, err := types.NewCall(meta, "Sudo.sudo", register)
	if err != nil {
		return nil, fmt.Errorf("build sudo: %w", err)
	}
	sudoAddr, err := types.NewMultiAddressFromAccountID(sudoKey[:])
	if err != nil {
		return nil, err
	}
	proxy, err := types.NewCall(meta, "Proxy.proxy", sudoAddr, noneArg{}, sudo)
	if err != nil {
		return nil, fmt.Errorf("build proxy: %w", err)
	}

	b.logger.Info("registering domain", map[string]any{"domain": domain, "target": target})

	res, err := b.submit(ctx, RoleRegistrar, proxy, eventDomainRegistered)
	if err != nil {
		return nil, err
	}
	if res.Included() {
		res.StatusCode = StatusRegistered
	}
	return res, nil
}

func (b *BuyerClient) sudoKey(meta *types.Metadata) (types.AccountID, error) {
	var key types.AccountID
	sk, err := types.CreateStorageKey(meta, "Sudo", "Key")
	if err != nil {
		return key, fmt.Errorf("create storage key: %w", err)
	}
	ok, err := b.api.RPC.State.GetStorageLatest(sk, &key)
	if err != nil {
		return key, fmt.Errorf("query sudo key: %w", err)
	}
	if !ok {
		return key, ErrSudoKeyMissing
	}
	return key, nil
}

// noneArg encodes an empty Option or a unit enum variant at index 0.
type noneArg struct{}

func (noneArg) Encode(e scale.Encoder) error {
	return e.PushByte(0)
}
