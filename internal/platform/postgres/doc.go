// Package postgres implements the task, model, history and points stores
// defined in internal/store on top of PostgreSQL, and owns the schema
// migrations applied with goose.
package postgres
