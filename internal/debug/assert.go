package debug

import (
	"fmt"
	"runtime"
)

// Assert panics when truth is false. it is reserved for invariants whose
// violation means a bug in this module, never for input coming off the wire.
//
// NOTE: modelled after
// https://github.com/golang/go/blob/eaa7d9ff86b35c72cc35bd7c14b349fa414c392f/src/go/types/errors.go#L18
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if truth {
		return
	}

	text := "assertion failed"
	if len(msg) == 1 {
		text = fmt.Sprintf("assertion failed: %s", msg[0])
	}
	// the panic site is buried under recovery frames otherwise
	if _, file, line, ok := runtime.Caller(1); ok {
		text = fmt.Sprintf("%s:%d: %s", file, line, text)
	}
	panic(text)
}

// Assertf is Assert with a formatted message.
func Assertf(truth bool, format string, args ...any) {
	if truth {
		return
	}
	text := "assertion failed: " + fmt.Sprintf(format, args...)
	if _, file, line, ok := runtime.Caller(1); ok {
		text = fmt.Sprintf("%s:%d: %s", file, line, text)
	}
	panic(text)
}
