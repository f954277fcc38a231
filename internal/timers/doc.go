// Package timers bridges native one-shot and auto-reload timers into the
// cooperative loop.
//
// Expirations happen in the platform's firing context, which only enqueues an
// Invocation through the Scheduler and, for one-shot timers, deletes the
// native timer. The callback registry is touched exclusively from the loop:
// CreateTimer, DeleteTimer, Invoke and Close must all be called there.
package timers
