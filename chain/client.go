package chain

import (
	"context"
	"math/big"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	BlockHeaderCacheSize = 100

	retryBaseDelay = time.Millisecond * 200
	retryMaxDelay  = time.Second * 5
	retryMaxJitter = time.Millisecond * 250
)

// nodeClient is the subset of ethclient.Client the chain client calls.
type nodeClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Client wraps a single chain's node RPC. All calls run under a bounded
// exponential backoff with jitter; headers are cached so that rescans of an
// already-seen range do not refetch them.
type Client struct {
	chainName       string
	ethClient       nodeClient
	contractAddress common.Address
	maxBlockRange   uint64
	retryAttempts   uint

	blockHeaderCache *lru.Cache[uint64, *types.Header]

	logger *zap.SugaredLogger
}

func NewClient(chainName string, rpcUrl string, contractAddress common.Address,
	maxBlockRange uint64, retryAttempts uint, logger *zap.SugaredLogger) (*Client, error) {
	ethClient, err := ethclient.Dial(rpcUrl)
	if err != nil {
		return nil, err
	}

	blockHeaderCache, err := lru.New[uint64, *types.Header](BlockHeaderCacheSize)
	if err != nil {
		return nil, err
	}

	return &Client{
		chainName:        chainName,
		ethClient:        ethClient,
		contractAddress:  contractAddress,
		maxBlockRange:    maxBlockRange,
		retryAttempts:    retryAttempts,
		blockHeaderCache: blockHeaderCache,
		logger:           logger.Named(chainName),
	}, nil
}

func (c *Client) ChainName() string {
	return c.chainName
}

func (c *Client) ContractAddress() common.Address {
	return c.contractAddress
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := retry.Do(func() error {
		h, err := c.ethClient.BlockNumber(ctx)
		if err != nil {
			return err
		}
		height = h
		return nil
	}, c.retryOpts(ctx)...)
	if err != nil {
		return 0, errors.Wrapf(ErrConnection, "%s: eth_blockNumber: %v", c.chainName, err)
	}

	return height, nil
}

// FilterBridgeLogs fetches the bridge contract's logs for [from, to], both
// bounds inclusive, in node order. The requested span is walked in windows of
// at most maxBlockRange blocks; windows the node still rejects as too wide
// are split and refetched transparently.
func (c *Client) FilterBridgeLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	if to < from {
		return nil, nil
	}

	var logs []types.Log
	for start := from; start <= to; {
		end := to
		if end-start+1 > c.maxBlockRange {
			end = start + c.maxBlockRange - 1
		}

		windowLogs, err := c.filterRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		logs = append(logs, windowLogs...)
		start = end + 1
	}

	return logs, nil
}

// BlockTime returns the timestamp of the given block, serving repeat lookups
// from the header cache.
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	if header, ok := c.blockHeaderCache.Get(number); ok {
		return time.Unix(int64(header.Time), 0).UTC(), nil
	}

	var header *types.Header
	err := retry.Do(func() error {
		h, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		header = h
		return nil
	}, c.retryOpts(ctx)...)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrConnection, "%s: eth_getBlockByNumber %d: %v", c.chainName, number, err)
	}

	c.blockHeaderCache.Add(number, header)
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *Client) filterRange(ctx context.Context, from, to uint64) ([]types.Log, error) {
	logs, err := c.filterOnce(ctx, from, to)
	if err == nil {
		return logs, nil
	}
	if !isRangeTooLargeError(err) || from >= to {
		return nil, err
	}

	mid := from + (to-from)/2
	c.logger.Debugf("Node rejected log range [%d, %d], splitting at %d: %v", from, to, mid, err)
	left, err := c.filterRange(ctx, from, mid)
	if err != nil {
		return nil, err
	}
	right, err := c.filterRange(ctx, mid+1, to)
	if err != nil {
		return nil, err
	}

	return append(left, right...), nil
}

func (c *Client) filterOnce(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contractAddress},
		Topics:    [][]common.Hash{{DepositInitiatedEventTopic, TransferCompletedEventTopic}},
	}

	var logs []types.Log
	opts := append(c.retryOpts(ctx), retry.RetryIf(func(err error) bool {
		return !isRangeTooLargeError(err)
	}))
	err := retry.Do(func() error {
		fetched, err := c.ethClient.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = fetched
		return nil
	}, opts...)
	if err != nil {
		if isRangeTooLargeError(err) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrConnection, "%s: eth_getLogs [%d, %d]: %v", c.chainName, from, to, err)
	}

	return logs, nil
}

func (c *Client) retryOpts(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.MaxJitter(retryMaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	}
}
