package lglfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked is returned when another process holds the artifact write lock.
var ErrLocked = errors.New("artifact directory locked")

// Lock is an exclusive write lock over a log's artifact files, backed by an
// O_EXCL lock file carrying the owner's PID.
type Lock struct {
	path string
}

// AcquireLock takes the write lock, failing with ErrLocked if it is held.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("acquiring write lock: %w", err)
	}
	f.WriteString(strconv.Itoa(os.Getpid()))
	f.Close()
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call once.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing write lock: %w", err)
	}
	return nil
}
