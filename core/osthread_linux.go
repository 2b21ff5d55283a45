//go:build linux

package core

import "golang.org/x/sys/unix"

// CurrentThreadID returns the kernel thread ID of the calling goroutine's
// current OS thread. It is only stable while the goroutine is locked to its
// thread with runtime.LockOSThread.
func CurrentThreadID() int64 {
	return int64(unix.Gettid())
}
