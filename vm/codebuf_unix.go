//go:build linux || darwin

package vm

import (
	"golang.org/x/sys/unix"
)

// codeBuffer owns a single mmap'd region used to hold JIT output. It is
// write-enabled while instructions are being emitted and flipped to
// read+execute (no write) when Compile finishes, keeping the region never
// simultaneously writable and executable.
type codeBuffer struct {
	mem      []byte
	size     int
	executable bool
}

// newCodeBuffer reserves size bytes of anonymous, read+write memory.
func newCodeBuffer(size int) (*codeBuffer, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &codeBuffer{mem: mem, size: size}, nil
}

// makeExecutable finishes the W^X transition: write access is dropped and
// execute access is granted in a single mprotect call, so the region is
// never both writable and executable at once.
func (c *codeBuffer) makeExecutable() error {
	if err := unix.Mprotect(c.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return err
	}
	c.executable = true
	return nil
}

// makeWritable reverses makeExecutable. Nothing in this package calls it:
// Compile maps a fresh buffer each time, and Unload/Destroy release the
// mapping.
func (c *codeBuffer) makeWritable() error {
	if err := unix.Mprotect(c.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}
	c.executable = false
	return nil
}

func (c *codeBuffer) release() {
	if c.mem == nil {
		return
	}
	_ = unix.Munmap(c.mem)
	c.mem = nil
}
