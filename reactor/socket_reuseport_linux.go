//go:build linux

package reactor

import "syscall"

const soReusePort = 0xf // SO_REUSEPORT

func setReusePort(fd int, on bool) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, soReusePort, boolToInt(on))
}
