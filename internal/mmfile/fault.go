package mmfile

import (
	"fmt"
	"runtime/debug"
)

// Protect makes a fault on mapped memory, such as SIGBUS after the backing
// file was truncated, panic in the calling goroutine instead of crashing
// the process. Call the returned func, from the same goroutine, to restore
// the previous setting:
//
//	defer mmfile.Protect()()
func Protect() func() {
	old := debug.SetPanicOnFault(true)
	return func() { debug.SetPanicOnFault(old) }
}

// faultError is implemented by the runtime error raised for a memory fault
// while Protect is active.
type faultError interface {
	error
	Addr() uintptr
}

// Fault returns a recovered panic value as an error if it is a memory
// fault, and nil otherwise.
func Fault(v any) error {
	fe, ok := v.(faultError)
	if !ok {
		return nil
	}
	return fmt.Errorf("mmfile: fault reading mapped artifact at %#x: %w", fe.Addr(), fe)
}
