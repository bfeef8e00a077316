package device

import "fmt"

// Context is a device's primary context. Streams, events and device
// allocations are created through it, which pins where work is issued the
// same way making a context current does on a real driver.
type Context struct {
	dev *Device
}

func (c *Context) Device() *Device { return c.dev }

// Release undoes one RetainPrimaryContext.
func (c *Context) Release() error {
	return c.dev.release()
}

// Alloc reserves n bytes of device memory. The returned free func must be
// called exactly once when the allocation is no longer needed.
func (c *Context) Alloc(n uint64) ([]byte, func() error, error) {
	if n == 0 {
		return nil, nil, fmt.Errorf("zero-sized allocation on device %d", c.dev.id)
	}
	buf := make([]byte, n)
	c.dev.mu.Lock()
	c.dev.allocBytes += n
	c.dev.mu.Unlock()

	freed := false
	free := func() error {
		if freed {
			return fmt.Errorf("double free of %d bytes on device %d", n, c.dev.id)
		}
		freed = true
		c.dev.mu.Lock()
		c.dev.allocBytes -= n
		c.dev.mu.Unlock()
		return nil
	}
	return buf, free, nil
}
