package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns the numeric id of the calling goroutine, parsed
// out of its own stack trace header ("goroutine 123 [running]: ...").
// Go does not expose goroutine identity, so EventLoop uses this both for
// the assert_in_loop_thread diagnostic (spec.md §5) and in
// IsInLoopThread, which decides whether RunInLoop, QueueInLoop and
// TcpConnection.Send run inline or queue a task, so it is on the Send
// path. If the runtime stack trace format changes, every call returns
// -1: the assertion always passes and IsInLoopThread always reports
// true; nothing crashes.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	if !bytes.HasPrefix(buf, []byte(prefix)) {
		return -1
	}
	buf = buf[len(prefix):]
	end := bytes.IndexByte(buf, ' ')
	if end < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:end]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
