//go:build windows

package logger

import (
	"syscall"
	"unsafe"
)

var getConsoleMode = syscall.NewLazyDLL("kernel32.dll").NewProc("GetConsoleMode")

// isTerminal reports whether fd is attached to a console. GetConsoleMode
// only succeeds on console handles.
func isTerminal(fd uintptr) bool {
	var mode uint32
	r, _, _ := getConsoleMode.Call(fd, uintptr(unsafe.Pointer(&mode)))
	return r != 0
}
