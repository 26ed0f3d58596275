package kvstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("kvstore: entity not found")
	ErrAlreadyExists       = errors.New("kvstore: entity already exists")
	ErrConflict            = errors.New("kvstore: version conflict")
	ErrBatchTooLarge       = errors.New("kvstore: batch exceeds max size")
	ErrCrossPartitionBatch = errors.New("kvstore: batch spans multiple partitions")
	ErrInvalidKey          = errors.New("kvstore: invalid key")
)

// BatchError reports which operation of a batch failed. The batch as a whole
// was not applied.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("kvstore: batch op %d failed: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool      { return errors.Is(err, ErrConflict) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// MapError translates driver and gorm errors into the store's sentinels.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrConflict) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "duplicate key value"):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "could not serialize access"):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
