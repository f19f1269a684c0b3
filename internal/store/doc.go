// Package store defines the persistence contracts consumed by the generation
// pipeline: the task store, model configurations, generation history and the
// points ledger. Implementations live in internal/platform/postgres; in-memory
// fakes for tests live in internal/mocks.
package store
