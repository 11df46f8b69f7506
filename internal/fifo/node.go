package fifo

import (
	"errors"
	"io/fs"
	"os"
)

// IsNamedPipe reports whether path exists and is a FIFO.
func IsNamedPipe(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&fs.ModeNamedPipe != 0
}

// RemoveNode deletes path. A missing path is not an error.
func RemoveNode(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
