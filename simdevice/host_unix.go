//go:build unix

package simdevice

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// hostAlloc backs a simulated allocation with an anonymous private mapping, so that
// slab-sized allocations do not sit on the Go heap
func hostAlloc(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %d bytes failed", size)
	}
	return mem, nil
}

func hostFree(mem []byte) error {
	err := unix.Munmap(mem)
	if err != nil {
		return errors.Wrap(err, "munmap failed")
	}
	return nil
}
