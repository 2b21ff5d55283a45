//go:build !linux

package core

import "runtime"

// CurrentThreadID returns the goroutine ID of the caller. Runners lock their
// goroutine to one OS thread, so the goroutine ID identifies that thread for
// as long as the lock is held.
func CurrentThreadID() int64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	var id int64
	for i := len("goroutine "); i < len(b); i++ {
		if b[i] >= '0' && b[i] <= '9' {
			id = id*10 + int64(b[i]-'0')
		} else {
			break
		}
	}
	return id
}
