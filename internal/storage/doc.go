// Package storage owns the device-side storage session.
//
// Ownership boundary:
// - command execution against the mounted storage root
// - upload staging through the working file and its atomic commit
// - the filesystem collaborator contract (FS) and its OS implementation
//
// A Session is not safe for concurrent use. Every operation is expected to run
// on the cooperative loop, one at a time, and reports all results and failures
// through its Sink.
package storage
