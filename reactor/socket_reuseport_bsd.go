//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import "syscall"

func setReusePort(fd int, on bool) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEPORT, boolToInt(on))
}
