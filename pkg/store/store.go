// Package store implements the DurableStore abstraction consumed by the run
// execution core (spec.md §6): a small KV interface with a serialized-closure
// primitive keyed by lock key; one instance serves the whole process and
// callers namespace keys per run. This generalizes the
// Cloudflare-Durable-Object-style contract the spec names; runcore provides
// an in-memory implementation (tests) and a Postgres-backed one (production),
// grounded in the teacher's pkg/database/client.go connection/migration
// wiring rather than its ent entity-graph layer (see DESIGN.md — ent is
// dropped because it requires codegen this exercise cannot run).
package store

import "context"

// ListOptions bounds a List call by key prefix and range.
type ListOptions struct {
	Prefix string
	Start  string
	End    string
}

// DurableStore is the KV + serialized-closure primitive spec.md §6 requires.
// Implementations are scoped to the whole process, not per-run; callers
// namespace keys by runId/sessionId themselves (e.g. "run:<id>:cost:events"),
// matching the persistence layout in spec.md §6.
type DurableStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts ListOptions) (map[string][]byte, error)
	// BlockConcurrencyWhile serializes fn against every other call to
	// BlockConcurrencyWhile sharing the same lockKey on this store instance.
	// This is the primitive pkg/ledger uses to make append's
	// read-check-write sequence atomic per run (spec.md §5).
	BlockConcurrencyWhile(ctx context.Context, lockKey string, fn func(ctx context.Context) error) error
}
