//go:build !projectordebug

package capture

const strictInvariants = false
