package cache

// Wait blocks until buffered Ristretto writes are visible. It is a no-op for
// other backends.
func Wait(c Cache) {
	if rc, ok := c.(*ristrettoCache); ok {
		rc.wait()
	}
}
