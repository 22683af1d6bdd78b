package repository

import (
	"errors"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var ErrAlreadyExists = errors.New("record already exists")

// isUniqueViolation detects a uniqueness conflict regardless of driver:
// lib/pq surfaces SQLSTATE 23505, gorm translates to ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
