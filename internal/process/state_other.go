//go:build !linux

package process

// CheckState is only implemented where /proc is available.
func CheckState(int) error {
	return nil
}

// Comm is only implemented where /proc is available.
func Comm(int) (string, error) {
	return "", ErrUnsupported
}
