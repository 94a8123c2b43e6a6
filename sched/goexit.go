package sched

import "runtime"

// runtimeGoexit terminates the calling goroutine after running its pending
// deferred calls; it never returns, matching thread_exit's "never returns"
// contract.
func runtimeGoexit() {
	runtime.Goexit()
}
