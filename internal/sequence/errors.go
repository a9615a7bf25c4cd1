package sequence

import (
	"errors"
	"fmt"
)

// ErrInvalidSequenceType возвращается до обращения к хранилищу, если тип пустой.
var ErrInvalidSequenceType = errors.New("sequence: empty sequence type")

// StorageError — отказ хранилища счетчиков.
// Для бизнес-операции это фатально: документ без валидного номера создавать нельзя.
// Сама операция при этом повторяема (Retryable), новый вызов получит следующий номер.
type StorageError struct {
	Op   string // increment, reset, get
	Type string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("sequence storage: %s %q: %v", e.Op, e.Type, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable сообщает вызывающему коду, что операцию можно повторить целиком.
func (e *StorageError) Retryable() bool {
	return true
}

// wrapStorage гарантирует, что наружу уходит именно *StorageError.
func wrapStorage(op, sequenceType string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Type: sequenceType, Err: err}
}
