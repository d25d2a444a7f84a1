//go:build linux

package threads

import "golang.org/x/sys/unix"

// OSThreadIDSupported reports whether OSThreadID returns real ids.
const OSThreadIDSupported = true

// OSThreadID returns the kernel id of the calling OS thread. Callers that
// need it stable across calls must hold runtime.LockOSThread.
func OSThreadID() int {
	return unix.Gettid()
}
