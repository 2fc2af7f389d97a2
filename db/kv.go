package db

import (
	"errors"
	"strconv"

	"gorm.io/gorm"
)

// Set sets the value of a key in the database
func Set(db *gorm.DB, key string, value string) error {
	var entry KVEntry
	err := db.Model(&KVEntry{}).Where("name = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry.Name = key
			entry.Value = value
			return db.Create(&entry).Error
		}

		return err
	}

	return db.Model(&KVEntry{}).Where("name = ?", key).Update("value", value).Error
}

// Get retrieves the value of a key from the database
func Get(db *gorm.DB, key string) (string, error) {
	var entry KVEntry
	err := db.Model(&KVEntry{}).Where("name = ?", key).First(&entry).Error
	if err != nil {
		return "", err
	}

	return entry.Value, nil
}

// GetUint64 retrieves the value of a key from the database and converts it to
// an uint64. If not found, returns 0.
func GetUint64(db *gorm.DB, key string) (uint64, error) {
	val, err := Get(db, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}

		return 0, err
	}

	return strconv.ParseUint(val, 10, 64)
}

// SetUint64 sets uint64 value of a key in the database
func SetUint64(db *gorm.DB, key string, value uint64) error {
	return Set(db, key, strconv.FormatUint(value, 10))
}
