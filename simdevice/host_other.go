//go:build !unix

package simdevice

func hostAlloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func hostFree(mem []byte) error {
	return nil
}
