package db

import (
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	// ErrInvalidTransition means the record's current status did not match
	// the expected one. Callers treat it as "already handled", not a failure.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrTxNotFound = errors.New("transaction not found")
)

// Update carries the optional fields a transition may set.
type Update struct {
	DestTxHash *string
	RetryCount *int
}

// ITxRepository is the canonical store of cross-chain transfer records.
type ITxRepository interface {
	// CreateIfAbsent inserts the record unless one with the same id already
	// exists, and returns the stored record either way.
	CreateIfAbsent(tx *CrossChainTx) (*CrossChainTx, bool, error)

	// Transition moves a record fromStatus -> toStatus with compare-and-swap
	// semantics: it fails with ErrInvalidTransition when the current status
	// is not fromStatus.
	Transition(id string, fromStatus, toStatus int, update Update) error

	// UpdateRetryCount records relay attempts made for a still-pending record.
	UpdateRetryCount(id string, retryCount int) error

	GetByID(id string) (*CrossChainTx, error)
	GetBySourceTxHash(hash string) (*CrossChainTx, error)
	GetByStatus(status int) ([]*CrossChainTx, error)
}

// ICursorStore persists the per-chain scan cursor.
type ICursorStore interface {
	GetSyncPoint(chain string) (uint64, error)
	UpdateSyncPoint(chain string, height uint64) error
}

func syncPointKey(chain string) string {
	return fmt.Sprintf("listener/%s-sync-point", chain)
}

// MysqlRepository implements both ITxRepository and ICursorStore on gorm.
type MysqlRepository struct {
	db *gorm.DB
}

func NewMysqlRepository() (*MysqlRepository, error) {
	if DB == nil {
		return nil, errors.New("DB is not initialized yet")
	}

	return &MysqlRepository{db: DB}, nil
}

func (r *MysqlRepository) CreateIfAbsent(tx *CrossChainTx) (*CrossChainTx, bool, error) {
	var stored CrossChainTx
	isNew := false
	err := r.db.Transaction(func(dbtx *gorm.DB) error {
		err := dbtx.Model(&CrossChainTx{}).Where("id = ?", tx.ID).First(&stored).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := dbtx.Create(tx).Error; err != nil {
			return err
		}
		stored = *tx
		isNew = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &stored, isNew, nil
}

func (r *MysqlRepository) Transition(id string, fromStatus, toStatus int, update Update) error {
	if !allowedTransition(fromStatus, toStatus) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", StatusName(fromStatus), StatusName(toStatus))
	}

	values := map[string]interface{}{"status": toStatus}
	if update.DestTxHash != nil {
		values["dest_tx_hash"] = *update.DestTxHash
	}
	if update.RetryCount != nil {
		values["retry_count"] = *update.RetryCount
	}

	result := r.db.Model(&CrossChainTx{}).Where("id = ? AND status = ?", id, fromStatus).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.Model(&CrossChainTx{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.Wrap(ErrTxNotFound, id)
		}
		return errors.Wrapf(ErrInvalidTransition, "%s is no longer %s", id, StatusName(fromStatus))
	}

	return nil
}

func (r *MysqlRepository) UpdateRetryCount(id string, retryCount int) error {
	return r.db.Model(&CrossChainTx{}).Where("id = ?", id).Update("retry_count", retryCount).Error
}

func (r *MysqlRepository) GetByID(id string) (*CrossChainTx, error) {
	var tx CrossChainTx
	err := r.db.Model(&CrossChainTx{}).Where("id = ?", id).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(ErrTxNotFound, id)
		}
		return nil, err
	}

	return &tx, nil
}

func (r *MysqlRepository) GetBySourceTxHash(hash string) (*CrossChainTx, error) {
	var tx CrossChainTx
	// two deposits in one tx share the hash; the lowest log index wins
	err := r.db.Model(&CrossChainTx{}).Where("source_tx_hash = ?", hash).
		Order("log_index ASC").First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(ErrTxNotFound, hash)
		}
		return nil, err
	}

	return &tx, nil
}

func (r *MysqlRepository) GetByStatus(status int) ([]*CrossChainTx, error) {
	var txs []*CrossChainTx
	err := r.db.Model(&CrossChainTx{}).Where("status = ?", status).
		Order("source_block_number ASC").Find(&txs).Error
	if err != nil {
		return nil, err
	}

	return txs, nil
}

func (r *MysqlRepository) GetSyncPoint(chain string) (uint64, error) {
	return GetUint64(r.db, syncPointKey(chain))
}

func (r *MysqlRepository) UpdateSyncPoint(chain string, height uint64) error {
	return SetUint64(r.db, syncPointKey(chain), height)
}
