//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"syscall"
	"unsafe"
)

// syscallReadv issues readv(2) directly; the stdlib syscall package does
// not expose a portable Readv, and pulling in golang.org/x/sys/unix
// purely for this one call would add a second syscall-wrapping
// dependency alongside the plain syscall package already used
// throughout reactor/ (kept consistent with the teacher's and evio's
// direct-syscall style).
func syscallReadv(fd int, iovs [][]byte) (int, error) {
	raw := make([]syscall.Iovec, 0, len(iovs))
	for _, b := range iovs {
		if len(b) == 0 {
			continue
		}
		raw = append(raw, syscall.Iovec{Base: &b[0]})
		raw[len(raw)-1].SetLen(len(b))
	}
	if len(raw) == 0 {
		return 0, nil
	}
	n, _, errno := syscall.Syscall(syscall.SYS_READV, uintptr(fd), uintptr(unsafe.Pointer(&raw[0])), uintptr(len(raw)))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}
