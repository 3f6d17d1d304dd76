package market

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

type stubChainClient struct {
	head       *big.Int
	answers    map[string]*big.Int // keyed by block number, "" for latest
	logs       []gethtypes.Log
	callErr    error
	filterErr  error
	lastFilter ethereum.FilterQuery
}

func (s *stubChainClient) CallContract(_ context.Context, _ ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if s.callErr != nil {
		return nil, s.callErr
	}
	key := ""
	if block != nil {
		key = block.String()
	}
	answer, ok := s.answers[key]
	if !ok {
		return nil, nil
	}
	value := new(big.Int).Set(answer)
	if value.Sign() < 0 {
		value.Add(value, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	buf := make([]byte, 32)
	value.FillBytes(buf)
	return buf, nil
}

func (s *stubChainClient) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: new(big.Int).Set(s.head)}, nil
}

func (s *stubChainClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	s.lastFilter = q
	if s.filterErr != nil {
		return nil, s.filterErr
	}
	return s.logs, nil
}

func swapLog(amount0 *big.Int) gethtypes.Log {
	data := make([]byte, 64)
	value := new(big.Int).Set(amount0)
	if value.Sign() < 0 {
		value.Add(value, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	value.FillBytes(data[:32])
	return gethtypes.Log{Data: data}
}

func feedAddr() common.Address { return common.HexToAddress("0x01") }
func poolAddr() common.Address { return common.HexToAddress("0x02") }

func TestNewChainProviderValidation(t *testing.T) {
	if _, err := NewChainProvider(nil, feedAddr(), poolAddr(), 8); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewChainProvider(&stubChainClient{}, common.Address{}, poolAddr(), 8); err == nil {
		t.Fatalf("expected error for zero feed address")
	}
	if _, err := NewChainProvider(&stubChainClient{}, feedAddr(), poolAddr(), 0); err == nil {
		t.Fatalf("expected error for zero decimals")
	}
}

func TestChainProviderSnapshot(t *testing.T) {
	// Feed reports 1500.00000000 now and 1000 at the hour-ago block, so the
	// 50% change buckets as high volatility.
	client := &stubChainClient{
		head: big.NewInt(1_000),
		answers: map[string]*big.Int{
			"":    big.NewInt(150_000_000_000),
			"700": big.NewInt(100_000_000_000),
		},
		logs: []gethtypes.Log{
			swapLog(big.NewInt(250)),
			swapLog(big.NewInt(-100)),
		},
	}
	provider, err := NewChainProvider(client, feedAddr(), poolAddr(), 8)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	provider.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	snapshot, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snapshot.ReferencePrice.Cmp(big.NewRat(1500, 1)) != 0 {
		t.Fatalf("price = %s, want 1500", snapshot.ReferencePrice.FloatString(2))
	}
	if snapshot.PriceChange1h.Cmp(big.NewRat(1, 2)) != 0 {
		t.Fatalf("change = %s, want 0.5", snapshot.PriceChange1h.FloatString(4))
	}
	if snapshot.Volatility != VolatilityHigh {
		t.Fatalf("volatility = %q, want high", snapshot.Volatility)
	}
	if snapshot.SwapsLastHour != 2 {
		t.Fatalf("swaps = %d, want 2", snapshot.SwapsLastHour)
	}
	// Negative amount0 folds to its magnitude.
	if snapshot.Volume24h.Int64() != 350 {
		t.Fatalf("volume = %s, want 350", snapshot.Volume24h)
	}
	if got := client.lastFilter.FromBlock.Int64(); got != 700 {
		t.Fatalf("filter from block = %d, want 700", got)
	}
}

func TestChainProviderNoPool(t *testing.T) {
	client := &stubChainClient{
		head:    big.NewInt(1_000),
		answers: map[string]*big.Int{"": big.NewInt(100_000_000), "700": big.NewInt(100_000_000)},
	}
	provider, err := NewChainProvider(client, feedAddr(), common.Address{}, 8)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	snapshot, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.SwapsLastHour != 0 || snapshot.Volume24h.Sign() != 0 {
		t.Fatalf("expected zero activity without a pool, got %+v", snapshot)
	}
	if snapshot.Volatility != VolatilityLow {
		t.Fatalf("flat price should bucket as low volatility, got %q", snapshot.Volatility)
	}
}

func TestChainProviderZeroAnswer(t *testing.T) {
	client := &stubChainClient{head: big.NewInt(1_000), answers: map[string]*big.Int{}}
	provider, err := NewChainProvider(client, feedAddr(), poolAddr(), 8)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.Snapshot(context.Background()); err == nil {
		t.Fatalf("expected error when the feed returns no answer")
	}
}

func TestChainProviderNegativeAnswer(t *testing.T) {
	// A negative int256 answer must not decode as a huge positive price.
	client := &stubChainClient{
		head:    big.NewInt(1_000),
		answers: map[string]*big.Int{"": big.NewInt(-100_000_000)},
	}
	provider, err := NewChainProvider(client, feedAddr(), common.Address{}, 8)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.Snapshot(context.Background()); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice for negative answer, got %v", err)
	}
}

func TestBucketVolatility(t *testing.T) {
	cases := []struct {
		change *big.Rat
		want   Volatility
	}{
		{nil, VolatilityMedium},
		{big.NewRat(0, 1), VolatilityLow},
		{big.NewRat(4, 1000), VolatilityLow},
		{big.NewRat(-4, 1000), VolatilityLow},
		{big.NewRat(5, 1000), VolatilityMedium},
		{big.NewRat(19, 1000), VolatilityMedium},
		{big.NewRat(2, 100), VolatilityHigh},
		{big.NewRat(-5, 100), VolatilityHigh},
	}
	for _, tc := range cases {
		if got := bucketVolatility(tc.change); got != tc.want {
			t.Fatalf("bucketVolatility(%v) = %q, want %q", tc.change, got, tc.want)
		}
	}
}
