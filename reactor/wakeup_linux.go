//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"
	"syscall"
)

func createWakeFD() (int, error) {
	fd, _, errno := syscall.Syscall(syscall.SYS_EVENTFD2, 0, uintptr(syscall.EFD_NONBLOCK|syscall.EFD_CLOEXEC), 0)
	if errno != 0 {
		return -1, fmt.Errorf("reactor: eventfd2: %w", errno)
	}
	return int(fd), nil
}

func wakeFD(fd int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := syscall.Write(fd, buf[:])
	if err != nil && err != syscall.EAGAIN {
		return err
	}
	return nil
}

func drainWakeFD(fd int) {
	var buf [8]byte
	for {
		_, err := syscall.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func closeWakeFD(fd int) {
	syscall.Close(fd)
}
