//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

// tcgets asks for a descriptor's terminal attributes; the ioctl fails on
// anything that is not a tty. syscall on linux does not export the constant.
const tcgets = 0x5401

// isTerminal reports whether fd is attached to a terminal.
func isTerminal(fd uintptr) bool {
	var t syscall.Termios
	_, _, errno := syscall.Syscall6(
		syscall.SYS_IOCTL, fd, tcgets,
		uintptr(unsafe.Pointer(&t)), 0, 0, 0,
	)
	return errno == 0
}
