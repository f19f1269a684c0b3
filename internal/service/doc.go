// Package service contains the application use cases that sit in front of the
// task pipeline: submitting a generation, splitting a finished image into
// tiles that are regenerated as a batch, and reporting batch progress.
//
// Services coordinate the stores, the points ledger, durable storage and the
// primary queue. They validate requests, charge points before any work is
// queued and give points back when a charged task could not be recorded.
//
// Errors follow one pattern: expected conditions are sentinel errors that
// callers check with errors.Is, and unexpected failures are wrapped in a
// ServiceError carrying the failed operation.
package service
