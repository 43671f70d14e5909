package model

import (
	"errors"
	"fmt"
)

var ErrorChannelClosed = errors.New("channel closed")
var ErrorEmptyMessage = errors.New("empty message")
var ErrorSessionClosed = errors.New("session closed")

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
