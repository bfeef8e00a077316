//go:build linux

package device

import "golang.org/x/sys/unix"

// AllocHost allocates n bytes of host memory and attempts to pin it so the
// pages stay resident during transfers. Pinning failures (typically
// RLIMIT_MEMLOCK) fall back to an unpinned allocation rather than failing the
// run. The returned release func must be called exactly once.
func AllocHost(n uint64) ([]byte, func() error, error) {
	buf := make([]byte, n)
	if err := unix.Mlock(buf); err != nil {
		return buf, func() error { return nil }, nil
	}
	return buf, func() error { return unix.Munlock(buf) }, nil
}
