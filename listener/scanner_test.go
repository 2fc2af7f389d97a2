package listener

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbridge-labs/bridge-listener/chain"
	"github.com/openbridge-labs/bridge-listener/db"
)

type fakeReader struct {
	name string
	tip  uint64
	logs []ethtypes.Log

	filtered [][2]uint64
}

func (f *fakeReader) ChainName() string { return f.name }

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	return f.tip, nil
}

func (f *fakeReader) FilterBridgeLogs(_ context.Context, from, to uint64) ([]ethtypes.Log, error) {
	f.filtered = append(f.filtered, [2]uint64{from, to})

	var out []ethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeReader) BlockTime(_ context.Context, number uint64) (time.Time, error) {
	return time.Unix(int64(number), 0).UTC(), nil
}

// fakeDecoder resolves events by tx hash. Unknown hashes are not applicable,
// like logs from unrelated contracts.
type fakeDecoder struct {
	events map[common.Hash]chain.Event
	broken map[common.Hash]bool
}

func (d *fakeDecoder) Decode(lg ethtypes.Log) (chain.Event, error) {
	if d.broken[lg.TxHash] {
		return nil, errors.New("truncated event data")
	}
	if event, ok := d.events[lg.TxHash]; ok {
		return event, nil
	}
	return nil, chain.ErrNotApplicable
}

func depositAt(block uint64, txHash common.Hash) *chain.DepositInitiatedEvent {
	return &chain.DepositInitiatedEvent{
		Sender:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Recipient:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount:        big.NewInt(1500000),
		SourceChainID: big.NewInt(11155111),

		TxHash:      txHash,
		BlockNumber: block,
		LogIndex:    0,
	}
}

func newTestScanner(t *testing.T, reader *fakeReader, decoder *fakeDecoder,
	cursors db.ICursorStore, depth, start uint64) *ChainScanner {
	t.Helper()

	scanner, err := NewChainScanner(reader, decoder, cursors, depth, start, zap.NewNop().Sugar())
	require.NoError(t, err)
	return scanner
}

func TestScannerSeedsSyncPoint(t *testing.T) {
	cursors := db.NewMemoryRepository()
	reader := &fakeReader{name: "sepolia", tip: 0}

	newTestScanner(t, reader, &fakeDecoder{}, cursors, 6, 5735000)

	point, err := cursors.GetSyncPoint("sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(5735000), point)

	// an already persisted sync point wins over the configured start height
	newTestScanner(t, reader, &fakeDecoder{}, cursors, 6, 100)
	point, err = cursors.GetSyncPoint("sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(5735000), point)
}

func TestScannerWaitsForConfirmations(t *testing.T) {
	cursors := db.NewMemoryRepository()
	require.NoError(t, cursors.UpdateSyncPoint("sepolia", 100))

	reader := &fakeReader{name: "sepolia", tip: 105}
	scanner := newTestScanner(t, reader, &fakeDecoder{}, cursors, 6, 0)

	err := scanner.Scan(context.Background(), func(chain.Event) error {
		t.Fatal("no event expected below the confirmation depth")
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, reader.filtered)

	point, err := cursors.GetSyncPoint("sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(100), point)
}

func TestScannerDeliversAndAdvances(t *testing.T) {
	txHash := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")
	cursors := db.NewMemoryRepository()
	require.NoError(t, cursors.UpdateSyncPoint("sepolia", 100))

	reader := &fakeReader{
		name: "sepolia",
		tip:  120,
		logs: []ethtypes.Log{{BlockNumber: 105, TxHash: txHash}},
	}
	decoder := &fakeDecoder{events: map[common.Hash]chain.Event{
		txHash: depositAt(105, txHash),
	}}
	scanner := newTestScanner(t, reader, decoder, cursors, 6, 0)

	var accepted []chain.Event
	err := scanner.Scan(context.Background(), func(event chain.Event) error {
		accepted = append(accepted, event)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, accepted, 1)
	deposit := accepted[0].(*chain.DepositInitiatedEvent)
	require.Equal(t, time.Unix(105, 0).UTC(), deposit.BlockTime)

	// tip 120 minus depth 6
	require.Equal(t, [][2]uint64{{101, 114}}, reader.filtered)
	point, err := cursors.GetSyncPoint("sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(114), point)
}

func TestScannerHoldsSyncPointOnAcceptFailure(t *testing.T) {
	txHash := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")
	cursors := db.NewMemoryRepository()
	require.NoError(t, cursors.UpdateSyncPoint("sepolia", 100))

	reader := &fakeReader{
		name: "sepolia",
		tip:  120,
		logs: []ethtypes.Log{{BlockNumber: 105, TxHash: txHash}},
	}
	decoder := &fakeDecoder{events: map[common.Hash]chain.Event{
		txHash: depositAt(105, txHash),
	}}
	scanner := newTestScanner(t, reader, decoder, cursors, 6, 0)

	storeErr := errors.New("repository unavailable")
	err := scanner.Scan(context.Background(), func(chain.Event) error { return storeErr })
	require.ErrorIs(t, err, storeErr)

	point, err := cursors.GetSyncPoint("sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(100), point)

	// the next tick replays the same range and delivers the event again
	var accepted []chain.Event
	err = scanner.Scan(context.Background(), func(event chain.Event) error {
		accepted = append(accepted, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	point, err = cursors.GetSyncPoint("sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(114), point)
}

func TestScannerSkipsUndecodableLogs(t *testing.T) {
	goodHash := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")
	badHash := common.HexToHash("0xbad0000000000000000000000000000000000000000000000000000000000002")
	foreignHash := common.HexToHash("0xfff0000000000000000000000000000000000000000000000000000000000003")

	cursors := db.NewMemoryRepository()
	require.NoError(t, cursors.UpdateSyncPoint("sepolia", 100))

	reader := &fakeReader{
		name: "sepolia",
		tip:  120,
		logs: []ethtypes.Log{
			{BlockNumber: 104, TxHash: badHash},
			{BlockNumber: 105, TxHash: goodHash},
			{BlockNumber: 106, TxHash: foreignHash},
		},
	}
	decoder := &fakeDecoder{
		events: map[common.Hash]chain.Event{goodHash: depositAt(105, goodHash)},
		broken: map[common.Hash]bool{badHash: true},
	}
	scanner := newTestScanner(t, reader, decoder, cursors, 6, 0)

	var accepted []chain.Event
	err := scanner.Scan(context.Background(), func(event chain.Event) error {
		accepted = append(accepted, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	point, err := cursors.GetSyncPoint("sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(114), point)
}
