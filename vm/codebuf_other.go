//go:build !linux && !darwin

package vm

import "errors"

// codeBuffer on unsupported hosts never holds executable memory:
// newCodeBuffer always fails, so Compile/CompileEx fail here even on
// amd64/arm64 (Translate, which uses a plain slice, is unaffected). The
// other methods only need to exist for vm.go to compile.
type codeBuffer struct {
	mem  []byte
	size int
}

func newCodeBuffer(size int) (*codeBuffer, error) {
	return nil, errors.New("ubpf: jit code buffers are not supported on this platform")
}

func (c *codeBuffer) makeExecutable() error { return errors.New("ubpf: unsupported platform") }
func (c *codeBuffer) makeWritable() error   { return errors.New("ubpf: unsupported platform") }
func (c *codeBuffer) release()              {}
