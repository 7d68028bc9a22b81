// Package runner drives a Task on a cron schedule.
//
// A Runner evaluates its schedule once per second. On a match it launches
// the task's Run phase in its own goroutine unless another run is still in
// flight and concurrency is not allowed. Completions are reaped after each
// sleep; with CrashOnError the first failed run stops polling.
//
// On shutdown (SIGINT, SIGTERM, SIGQUIT or context cancellation) no new runs
// start, every in-flight run is awaited and Teardown runs exactly once.
package runner
