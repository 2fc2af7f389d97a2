package db

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Cross-chain transfer lifecycle. Forward-only: Completed and Failed are
// terminal and immutable.
const (
	StatusPending   = 0
	StatusRelayed   = 1
	StatusCompleted = 2
	StatusFailed    = 3
)

func StatusName(status int) string {
	switch status {
	case StatusPending:
		return "PENDING"
	case StatusRelayed:
		return "RELAYED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func IsTerminalStatus(status int) bool {
	return status == StatusCompleted || status == StatusFailed
}

func allowedTransition(from, to int) bool {
	switch from {
	case StatusPending:
		return to == StatusRelayed || to == StatusFailed
	case StatusRelayed:
		return to == StatusCompleted || to == StatusFailed
	}

	return false
}

type BaseTable struct {
	UpdatedTime time.Time `gorm:"autoUpdateTime"`
	CreatedTime time.Time `gorm:"autoCreateTime"`
}

type KVEntry struct {
	Id    int `gorm:"primaryKey"`
	Name  string
	Value string

	BaseTable
}

func (KVEntry) TableName() string {
	return "kv_store"
}

// CrossChainTx is one tracked transfer. Its primary key is derived from the
// deposit observation, so inserting the same deposit twice cannot create a
// second row.
type CrossChainTx struct {
	ID     string `gorm:"primaryKey;size:66"`
	Status int

	SourceChainID     uint64
	SourceTxHash      string `gorm:"index;size:66"`
	LogIndex          uint
	SourceBlockNumber uint64
	SourceBlockTime   time.Time

	// Amount is kept as a decimal string so uint256 values survive every
	// storage backend unclipped.
	Amount    string
	Sender    string
	Recipient string

	DestTxHash string `gorm:"size:66"`
	RetryCount int

	BaseTable
}

func (CrossChainTx) TableName() string {
	return "cross_chain_tx"
}

// TransactionID derives the record id for a deposit observation. The same
// (chain, tx hash, log index) triple always yields the same id.
func TransactionID(sourceChainID uint64, sourceTxHash common.Hash, logIndex uint) string {
	var chainID, index [8]byte
	binary.BigEndian.PutUint64(chainID[:], sourceChainID)
	binary.BigEndian.PutUint64(index[:], uint64(logIndex))

	return crypto.Keccak256Hash(chainID[:], sourceTxHash.Bytes(), index[:]).Hex()
}
