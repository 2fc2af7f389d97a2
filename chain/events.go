package chain

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	DepositInitiatedEventTopic  = crypto.Keccak256Hash([]byte("DepositInitiated(address,address,uint256,uint256)"))
	TransferCompletedEventTopic = crypto.Keccak256Hash([]byte("TransferCompleted(bytes32,address,uint256)"))
)

const bridgeEventsABI = `[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "from", "type": "address"},
            {"indexed": true, "name": "to", "type": "address"},
            {"indexed": false, "name": "amount", "type": "uint256"},
            {"indexed": false, "name": "sourceChainId", "type": "uint256"}
        ],
        "name": "DepositInitiated",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "sourceTxHash", "type": "bytes32"},
            {"indexed": true, "name": "recipient", "type": "address"},
            {"indexed": false, "name": "amount", "type": "uint256"}
        ],
        "name": "TransferCompleted",
        "type": "event"
    }
]`

// Event is a decoded bridge contract log, either a DepositInitiatedEvent or a
// TransferCompletedEvent.
type Event interface {
	EventName() string
}

// DepositInitiatedEvent signals assets locked on the source chain.
type DepositInitiatedEvent struct {
	Sender        common.Address
	Recipient     common.Address
	Amount        *big.Int `abi:"amount"`
	SourceChainID *big.Int `abi:"sourceChainId"`

	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	BlockTime   time.Time
}

func (*DepositInitiatedEvent) EventName() string { return "DepositInitiated" }

// TransferCompletedEvent signals the destination-chain action finished.
// SourceTxHash is the correlation id carried by the contract back to the
// source-chain deposit transaction.
type TransferCompletedEvent struct {
	SourceTxHash common.Hash
	Recipient    common.Address
	Amount       *big.Int `abi:"amount"`

	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

func (*TransferCompletedEvent) EventName() string { return "TransferCompleted" }

// Decoder turns raw bridge contract logs into Events. Matching is strictly by
// contract address and topic signature; anything else is ErrNotApplicable.
type Decoder struct {
	contractAddress common.Address
	abi             abi.ABI
}

func NewDecoder(contractAddress common.Address) (*Decoder, error) {
	parsedABI, err := abi.JSON(strings.NewReader(bridgeEventsABI))
	if err != nil {
		return nil, err
	}

	return &Decoder{
		contractAddress: contractAddress,
		abi:             parsedABI,
	}, nil
}

func (d *Decoder) Decode(log types.Log) (Event, error) {
	if log.Address != d.contractAddress {
		return nil, ErrNotApplicable
	}
	if len(log.Topics) == 0 {
		return nil, ErrNotApplicable
	}

	switch log.Topics[0] {
	case DepositInitiatedEventTopic:
		return d.decodeDepositInitiated(log)
	case TransferCompletedEventTopic:
		return d.decodeTransferCompleted(log)
	default:
		return nil, ErrNotApplicable
	}
}

func (d *Decoder) decodeDepositInitiated(log types.Log) (*DepositInitiatedEvent, error) {
	if len(log.Topics) != 3 {
		return nil, errors.Errorf("DepositInitiated log %s: expected 3 topics, got %d",
			log.TxHash, len(log.Topics))
	}

	event := &DepositInitiatedEvent{}
	if err := d.abi.UnpackIntoInterface(event, "DepositInitiated", log.Data); err != nil {
		return nil, errors.Wrapf(err, "DepositInitiated log %s", log.TxHash)
	}
	event.Sender = common.BytesToAddress(log.Topics[1].Bytes())
	event.Recipient = common.BytesToAddress(log.Topics[2].Bytes())

	event.TxHash = log.TxHash
	event.BlockNumber = log.BlockNumber
	event.LogIndex = log.Index

	return event, nil
}

func (d *Decoder) decodeTransferCompleted(log types.Log) (*TransferCompletedEvent, error) {
	if len(log.Topics) != 3 {
		return nil, errors.Errorf("TransferCompleted log %s: expected 3 topics, got %d",
			log.TxHash, len(log.Topics))
	}

	event := &TransferCompletedEvent{}
	if err := d.abi.UnpackIntoInterface(event, "TransferCompleted", log.Data); err != nil {
		return nil, errors.Wrapf(err, "TransferCompleted log %s", log.TxHash)
	}
	event.SourceTxHash = log.Topics[1]
	event.Recipient = common.BytesToAddress(log.Topics[2].Bytes())

	event.TxHash = log.TxHash
	event.BlockNumber = log.BlockNumber
	event.LogIndex = log.Index

	return event, nil
}
