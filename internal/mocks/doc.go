// Package mocks provides in-memory implementations of the store, ledger,
// storage and generation contracts for testing.
//
// The fakes enforce the same rules as the postgres implementations (status
// predicates, non-decreasing progress, URL version compare-and-swap and
// idempotent refunds), so pipeline tests exercise real semantics instead of
// scripted return values. Behavior can be overridden per method with the Fn
// fields, and every fake records its calls for verification.
//
// Usage:
//
//	tasks := mocks.NewTaskStore()
//	tasks.Put(task)
//	ledger := mocks.NewPointsLedger()
//	ledger.SetBalance(userID, 100)
package mocks
