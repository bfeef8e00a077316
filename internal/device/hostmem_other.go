//go:build !linux

package device

// AllocHost allocates n bytes of host memory. Pinning is not attempted on
// platforms without mlock support.
func AllocHost(n uint64) ([]byte, func() error, error) {
	buf := make([]byte, n)
	return buf, func() error { return nil }, nil
}
