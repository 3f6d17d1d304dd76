package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// latestAnswer() on a Chainlink-style aggregator feed.
var latestAnswerSelector = crypto.Keccak256([]byte("latestAnswer()"))[:4]

// Swap event emitted by the reference pool.
var swapEventSignature = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))

// ChainClient is the subset of the Ethereum RPC surface the provider uses.
type ChainClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// DialChainClient initialises an EVM RPC client for the provided endpoint.
func DialChainClient(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("market: evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// ChainProvider reads price and activity signals from an on-chain price feed
// and reference pool. It is strictly read-only: no transaction is ever
// submitted through it.
type ChainProvider struct {
	client        ChainClient
	feed          common.Address
	pool          common.Address
	feedDecimals  uint8
	blocksPerHour uint64
	clock         func() time.Time
}

// NewChainProvider constructs a provider against the supplied feed and pool.
func NewChainProvider(client ChainClient, feed, pool common.Address, feedDecimals uint8) (*ChainProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("market: chain client required")
	}
	if (feed == common.Address{}) {
		return nil, fmt.Errorf("market: feed address required")
	}
	if feedDecimals == 0 || feedDecimals > 36 {
		return nil, fmt.Errorf("market: feed decimals out of range")
	}
	return &ChainProvider{
		client:        client,
		feed:          feed,
		pool:          pool,
		feedDecimals:  feedDecimals,
		blocksPerHour: 300,
		clock:         time.Now,
	}, nil
}

// SetClock overrides the time source for deterministic tests.
func (p *ChainProvider) SetClock(clock func() time.Time) {
	if p == nil || clock == nil {
		return
	}
	p.clock = clock
}

// Snapshot reads the current feed price, the hour-ago price for the change
// signal, and the pool's swap activity over the trailing hour.
func (p *ChainProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	if p == nil || p.client == nil {
		return Snapshot{}, fmt.Errorf("market: provider not initialised")
	}
	head, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("market: fetch head: %w", err)
	}
	if head == nil || head.Number == nil {
		return Snapshot{}, fmt.Errorf("market: head metadata unavailable")
	}

	price, err := p.priceAt(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}

	hourAgoBlock := new(big.Int).Sub(head.Number, new(big.Int).SetUint64(p.blocksPerHour))
	change := new(big.Rat)
	if hourAgoBlock.Sign() > 0 {
		previous, err := p.priceAt(ctx, hourAgoBlock)
		if err == nil && previous.Sign() > 0 {
			change = new(big.Rat).Sub(price, previous)
			change.Quo(change, previous)
		}
	}

	swaps, volume, err := p.poolActivity(ctx, head.Number)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Volatility:     bucketVolatility(change),
		Volume24h:      volume,
		ReferencePrice: price,
		PriceChange1h:  change,
		SwapsLastHour:  swaps,
		Timestamp:      p.clock().UTC(),
	}, nil
}

func (p *ChainProvider) priceAt(ctx context.Context, block *big.Int) (*big.Rat, error) {
	msg := ethereum.CallMsg{To: &p.feed, Data: latestAnswerSelector}
	raw, err := p.client.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("market: feed call: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoPrice
	}
	answer := new(big.Int).SetBytes(raw)
	// latestAnswer is an int256; fold negatives back before the sign check.
	if answer.BitLen() == 256 {
		answer.Sub(answer, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	if answer.Sign() <= 0 {
		return nil, ErrNoPrice
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.feedDecimals)), nil)
	return new(big.Rat).SetFrac(answer, scale), nil
}

func (p *ChainProvider) poolActivity(ctx context.Context, head *big.Int) (uint64, *big.Int, error) {
	if (p.pool == common.Address{}) {
		return 0, big.NewInt(0), nil
	}
	from := new(big.Int).Sub(head, new(big.Int).SetUint64(p.blocksPerHour))
	if from.Sign() < 0 {
		from = big.NewInt(0)
	}
	query := ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   head,
		Addresses: []common.Address{p.pool},
		Topics:    [][]common.Hash{{swapEventSignature}},
	}
	logs, err := p.client.FilterLogs(ctx, query)
	if err != nil {
		return 0, nil, fmt.Errorf("market: filter swap logs: %w", err)
	}
	volume := big.NewInt(0)
	for _, entry := range logs {
		if len(entry.Data) < 32 {
			continue
		}
		amount := new(big.Int).SetBytes(entry.Data[:32])
		// amount0 is a two's-complement int256; fold negatives back.
		if amount.BitLen() == 256 {
			amount.Sub(amount, new(big.Int).Lsh(big.NewInt(1), 256))
			amount.Neg(amount)
		}
		volume.Add(volume, amount)
	}
	return uint64(len(logs)), volume, nil
}

func bucketVolatility(change *big.Rat) Volatility {
	if change == nil {
		return VolatilityMedium
	}
	abs := new(big.Rat).Abs(change)
	switch {
	case abs.Cmp(big.NewRat(1, 200)) < 0: // < 0.5%
		return VolatilityLow
	case abs.Cmp(big.NewRat(1, 50)) < 0: // < 2%
		return VolatilityMedium
	default:
		return VolatilityHigh
	}
}
