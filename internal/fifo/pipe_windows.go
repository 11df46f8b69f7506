//go:build windows

package fifo

import "time"

func openPipe(string, bool, time.Duration) (pipe, error) {
	return nil, ErrUnsupported
}

func isWouldBlock(error) bool { return false }

func isNoReader(error) bool { return false }

// MakeNode is unsupported on Windows.
func MakeNode(string) error {
	return ErrUnsupported
}
