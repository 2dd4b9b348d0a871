/*
Package scheduler provides the turn model every context runs on.

A context is single-threaded. Work arrives as tasks (inbound messages, timer
callbacks, host calls) and each task may queue microtasks. After a task
returns, every queued microtask runs, including ones queued by other
microtasks, before the next task starts. Session flushes and observer
callbacks are microtasks, which gives each turn a stable batch boundary
without timers.

Two implementations:

  - Loop: a real event loop on one goroutine. Post is safe from any
    goroutine; Microtask must only be called from the loop itself.
  - Manual: a deterministic stepper for tests. Nothing runs until the test
    calls Turn or RunMicrotasks.
*/
package scheduler
