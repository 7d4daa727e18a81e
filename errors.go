package storedmap

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates that the store was closed
	ErrClosed = errors.New("store was closed")
	// ErrQueueFull indicates that the write-behind queue is at
	// capacity and the store is configured to reject rather than
	// block
	ErrQueueFull = errors.New("persist queue is full")
)

func wrapError(wrap string, err error) error {
	switch err {
	case ErrClosed:
		fallthrough
	case ErrQueueFull:
		fallthrough
	case nil:
		return err
	}

	return fmt.Errorf("%s: %s", wrap, err.Error())
}
