package chain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNode rejects any log query wider than maxSpan, the way public RPC
// providers cap eth_getLogs.
type fakeNode struct {
	tip     uint64
	maxSpan uint64
	logs    []types.Log
	err     error

	filterCalls [][2]uint64
	headerCalls int
}

func (f *fakeNode) BlockNumber(context.Context) (uint64, error) {
	return f.tip, nil
}

func (f *fakeNode) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.headerCalls++
	return &types.Header{Number: number, Time: number.Uint64() * 10}, nil
}

func (f *fakeNode) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.filterCalls = append(f.filterCalls, [2]uint64{from, to})

	if f.err != nil {
		return nil, f.err
	}
	if to-from+1 > f.maxSpan {
		return nil, errors.New("query returned more than 10000 results")
	}

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func newFakeClient(t *testing.T, node nodeClient, maxBlockRange uint64) *Client {
	t.Helper()

	cache, err := lru.New[uint64, *types.Header](BlockHeaderCacheSize)
	require.NoError(t, err)

	return &Client{
		chainName:        "sepolia",
		ethClient:        node,
		contractAddress:  testContractAddress,
		maxBlockRange:    maxBlockRange,
		retryAttempts:    1,
		blockHeaderCache: cache,
		logger:           zap.NewNop().Sugar(),
	}
}

func logsEvery10Blocks(from, to uint64) []types.Log {
	var logs []types.Log
	for n := from; n <= to; n += 10 {
		logs = append(logs, types.Log{Address: testContractAddress, BlockNumber: n})
	}
	return logs
}

func TestFilterBridgeLogsWindowing(t *testing.T) {
	node := &fakeNode{maxSpan: 1000, logs: logsEvery10Blocks(5, 95)}
	client := newFakeClient(t, node, 30)

	logs, err := client.FilterBridgeLogs(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, logs, 10)

	// the requested span is walked in windows of at most maxBlockRange
	require.Equal(t, [][2]uint64{{1, 30}, {31, 60}, {61, 90}, {91, 100}}, node.filterCalls)
}

func TestFilterBridgeLogsSplitsRejectedRanges(t *testing.T) {
	node := &fakeNode{maxSpan: 10, logs: logsEvery10Blocks(5, 255)}
	client := newFakeClient(t, node, 64)

	logs, err := client.FilterBridgeLogs(context.Background(), 1, 256)
	require.NoError(t, err)
	require.Len(t, logs, 26)

	// splitting keeps block order
	for i := 1; i < len(logs); i++ {
		require.LessOrEqual(t, logs[i-1].BlockNumber, logs[i].BlockNumber)
	}

	// the split path actually ran: wide calls were rejected and re-answered
	var rejected bool
	for _, call := range node.filterCalls {
		if call[1]-call[0]+1 > node.maxSpan {
			rejected = true
		}
	}
	require.True(t, rejected)
}

func TestFilterBridgeLogsConnectionError(t *testing.T) {
	node := &fakeNode{err: errors.New("connection refused")}
	client := newFakeClient(t, node, 64)

	_, err := client.FilterBridgeLogs(context.Background(), 1, 10)
	require.ErrorIs(t, err, ErrConnection)
}

func TestBlockTimeCached(t *testing.T) {
	node := &fakeNode{}
	client := newFakeClient(t, node, 64)

	blockTime, err := client.BlockTime(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, time.Unix(70, 0).UTC(), blockTime)

	// second lookup is served from the header cache
	_, err = client.BlockTime(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 1, node.headerCalls)
}
