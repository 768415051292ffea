//go:build !linux

package reactor

import (
	"sync"
	"syscall"
)

// createWakeFD falls back to a self-pipe on platforms without eventfd.
// Only the read end's fd is returned; the write end is stashed in
// selfPipeWriteFD for wakeFD to use.
var (
	selfPipeMu      sync.Mutex
	selfPipeWriteFD = map[int]int{}
)

func createWakeFD() (int, error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return -1, err
	}
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		return -1, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		return -1, err
	}
	selfPipeMu.Lock()
	selfPipeWriteFD[fds[0]] = fds[1]
	selfPipeMu.Unlock()
	return fds[0], nil
}

func wakeFD(fd int) error {
	selfPipeMu.Lock()
	wfd, ok := selfPipeWriteFD[fd]
	selfPipeMu.Unlock()
	if !ok {
		return nil
	}
	_, err := syscall.Write(wfd, []byte{1})
	if err != nil && err != syscall.EAGAIN {
		return err
	}
	return nil
}

func drainWakeFD(fd int) {
	var buf [64]byte
	for {
		_, err := syscall.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func closeWakeFD(fd int) {
	selfPipeMu.Lock()
	wfd, ok := selfPipeWriteFD[fd]
	delete(selfPipeWriteFD, fd)
	selfPipeMu.Unlock()
	if ok {
		syscall.Close(wfd)
	}
	syscall.Close(fd)
}
