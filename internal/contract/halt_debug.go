//go:build omptdebug

package contract

const halt = true
