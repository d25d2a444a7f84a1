//go:build !linux

package threads

const OSThreadIDSupported = false

func OSThreadID() int {
	return 0
}
