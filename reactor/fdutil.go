package reactor

import "syscall"

func socketStream() int { return syscall.SOCK_STREAM }
func socketDgram() int  { return syscall.SOCK_DGRAM }

// reserveIdleFD opens a throwaway fd (on /dev/null) held in reserve so
// Acceptor can release it under fd-exhaustion to admit one more accept
// call (spec.md §4.H).
func reserveIdleFD() (int, error) {
	return syscall.Open("/dev/null", syscall.O_RDONLY, 0)
}

func closeFD(fd int) {
	if fd >= 0 {
		syscall.Close(fd)
	}
}

// acceptRaw accepts and immediately hands back the fd without wrapping
// it in a Socket, used only to drain one pending connection off the
// backlog during EMFILE recovery.
func acceptRaw(listenFD int) (int, Address, error) {
	nfd, sa, err := syscall.Accept(listenFD)
	if err != nil {
		return -1, Address{}, err
	}
	var peer Address
	if in4, ok := sa.(*syscall.SockaddrInet4); ok {
		peer = addressFromSockaddrIn4(in4.Addr, uint16(in4.Port))
	}
	return nfd, peer, nil
}

// Getsockname resolves the local address bound to fd; callers use it
// to learn the OS-chosen port after an ephemeral ":0" bind.
func Getsockname(fd int) (Address, error) {
	return getsockname(fd)
}

// getsockname resolves the local address bound to fd, used to populate
// TcpConnection.LocalAddr for a freshly accepted socket.
func getsockname(fd int) (Address, error) {
	sa, err := syscall.Getsockname(fd)
	if err != nil {
		return Address{}, err
	}
	in4, ok := sa.(*syscall.SockaddrInet4)
	if !ok {
		return Address{}, nil
	}
	return addressFromSockaddrIn4(in4.Addr, uint16(in4.Port)), nil
}
