// Package taskrunner provides ThreadTaskRunner, a handle that owns a
// dedicated OS thread running a single-threaded task loop.
//
// The loop (core.LoopTaskRunner) is constructed, run and closed on that one
// thread. The handle can be created, moved and closed from any goroutine:
//
//	h := taskrunner.CreateAndStart(taskrunner.WithName("io"))
//	defer h.Close() // quits the loop and joins the thread
//
//	h.Get().PostTask(func(ctx context.Context) {
//		// runs on the "io" thread, in post order
//	})
//
// # Creation
//
// CreateAndStart blocks until the task thread has constructed its runner and
// published it, so Get never returns a runner that cannot accept work yet.
//
// # Ownership
//
// A handle is move-only. Move hands the thread to a new handle; MoveFrom
// joins the receiver's own thread first and then adopts another handle's
// thread. A moved-from handle is empty: Get returns nil and Close does
// nothing.
//
// # Shutdown
//
// Close calls Quit on the runner and waits for the thread to exit. Quit does
// not drain the queue: tasks that have not started when Close is called may
// never run. Use LoopTaskRunner.WaitIdle first when queued work must finish.
// Never call Quit on the runner returned by Get yourself.
package taskrunner
