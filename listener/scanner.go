package listener

import (
	"context"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openbridge-labs/bridge-listener/chain"
	"github.com/openbridge-labs/bridge-listener/db"
)

// ChainReader is the node-facing surface a scanner needs. chain.Client
// implements it.
type ChainReader interface {
	ChainName() string
	BlockNumber(ctx context.Context) (uint64, error)
	FilterBridgeLogs(ctx context.Context, from, to uint64) ([]ethtypes.Log, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// EventDecoder turns one raw log into a bridge event. chain.Decoder
// implements it.
type EventDecoder interface {
	Decode(log ethtypes.Log) (chain.Event, error)
}

// ChainScanner walks one chain's bridge logs range by range, checkpointed by
// a persisted sync point. The sync point only ever covers blocks whose events
// were all accepted downstream, so a crash mid-tick replays the same range.
type ChainScanner struct {
	chainName         string
	reader            ChainReader
	decoder           EventDecoder
	cursors           db.ICursorStore
	confirmationDepth uint64

	logger *zap.SugaredLogger
}

func NewChainScanner(reader ChainReader, decoder EventDecoder, cursors db.ICursorStore,
	confirmationDepth uint64, startBlockHeight uint64, logger *zap.SugaredLogger) (*ChainScanner, error) {
	chainName := reader.ChainName()

	// check if sync point is set, if not set it to start block height
	if height, err := cursors.GetSyncPoint(chainName); err != nil {
		return nil, err
	} else if height == 0 && startBlockHeight > 0 {
		if err := cursors.UpdateSyncPoint(chainName, startBlockHeight); err != nil {
			return nil, err
		}
	}

	return &ChainScanner{
		chainName:         chainName,
		reader:            reader,
		decoder:           decoder,
		cursors:           cursors,
		confirmationDepth: confirmationDepth,
		logger:            logger.Named(chainName),
	}, nil
}

func (s *ChainScanner) ChainName() string {
	return s.chainName
}

// Scan runs one polling tick: it fetches the confirmed range above the sync
// point, decodes each log and hands the events to accept in block order. The
// sync point advances only after every event of the range was accepted; any
// failure leaves it untouched so the next tick rescans the same range.
// Per-log decode failures are skipped, never fatal.
func (s *ChainScanner) Scan(ctx context.Context, accept func(chain.Event) error) error {
	syncPoint, err := s.cursors.GetSyncPoint(s.chainName)
	if err != nil {
		return err
	}

	tip, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return err
	}

	from := syncPoint + 1
	if tip < from+s.confirmationDepth {
		s.logger.Debugf("No new confirmed block, tip: %d, syncPoint: %d", tip, syncPoint)
		return nil
	}
	to := tip - s.confirmationDepth

	logs, err := s.reader.FilterBridgeLogs(ctx, from, to)
	if err != nil {
		return err
	}

	for _, lg := range logs {
		event, err := s.decoder.Decode(lg)
		if err != nil {
			if errors.Is(err, chain.ErrNotApplicable) {
				s.logger.Debugf("Skipping non-bridge log, tx: %s, index: %d", lg.TxHash, lg.Index)
			} else {
				s.logger.Warnf("Skipping undecodable log, tx: %s, index: %d, error: %v", lg.TxHash, lg.Index, err)
			}
			continue
		}

		if deposit, ok := event.(*chain.DepositInitiatedEvent); ok {
			blockTime, err := s.reader.BlockTime(ctx, deposit.BlockNumber)
			if err != nil {
				return err
			}
			deposit.BlockTime = blockTime
		}

		if err := accept(event); err != nil {
			return err
		}
	}

	if err := s.cursors.UpdateSyncPoint(s.chainName, to); err != nil {
		return err
	}
	s.logger.Debugf("Handled blocks %d to %d, events: %d", from, to, len(logs))

	return nil
}
