package db

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryRepository keeps all state in process memory. It backs deployments
// without a database section (records are lost on exit) and the test suite.
type MemoryRepository struct {
	mu         sync.Mutex
	txs        map[string]*CrossChainTx
	syncPoints map[string]uint64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		txs:        make(map[string]*CrossChainTx),
		syncPoints: make(map[string]uint64),
	}
}

func (r *MemoryRepository) CreateIfAbsent(tx *CrossChainTx) (*CrossChainTx, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.txs[tx.ID]; ok {
		cp := *stored
		return &cp, false, nil
	}

	cp := *tx
	r.txs[tx.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r *MemoryRepository) Transition(id string, fromStatus, toStatus int, update Update) error {
	if !allowedTransition(fromStatus, toStatus) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", StatusName(fromStatus), StatusName(toStatus))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.txs[id]
	if !ok {
		return errors.Wrap(ErrTxNotFound, id)
	}
	if stored.Status != fromStatus {
		return errors.Wrapf(ErrInvalidTransition, "%s is no longer %s", id, StatusName(fromStatus))
	}

	stored.Status = toStatus
	if update.DestTxHash != nil {
		stored.DestTxHash = *update.DestTxHash
	}
	if update.RetryCount != nil {
		stored.RetryCount = *update.RetryCount
	}

	return nil
}

func (r *MemoryRepository) UpdateRetryCount(id string, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.txs[id]
	if !ok {
		return errors.Wrap(ErrTxNotFound, id)
	}
	stored.RetryCount = retryCount

	return nil
}

func (r *MemoryRepository) GetByID(id string) (*CrossChainTx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.txs[id]
	if !ok {
		return nil, errors.Wrap(ErrTxNotFound, id)
	}

	cp := *stored
	return &cp, nil
}

func (r *MemoryRepository) GetBySourceTxHash(hash string) (*CrossChainTx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// two deposits in one tx share the hash; the lowest log index wins
	var match *CrossChainTx
	for _, stored := range r.txs {
		if stored.SourceTxHash != hash {
			continue
		}
		if match == nil || stored.LogIndex < match.LogIndex {
			match = stored
		}
	}
	if match == nil {
		return nil, errors.Wrap(ErrTxNotFound, hash)
	}

	cp := *match
	return &cp, nil
}

func (r *MemoryRepository) GetByStatus(status int) ([]*CrossChainTx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var txs []*CrossChainTx
	for _, stored := range r.txs {
		if stored.Status == status {
			cp := *stored
			txs = append(txs, &cp)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].SourceBlockNumber < txs[j].SourceBlockNumber
	})

	return txs, nil
}

func (r *MemoryRepository) GetSyncPoint(chain string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.syncPoints[chain], nil
}

func (r *MemoryRepository) UpdateSyncPoint(chain string, height uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.syncPoints[chain] = height
	return nil
}
