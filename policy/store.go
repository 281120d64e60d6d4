/*
store.go - Persistence interface for policy settings

PURPOSE:
  Defines how the settings singleton and its modification history are
  persisted. The store owns the lazy-creation rule: the first Current()
  call on an empty database creates the row from Defaults().

CONCURRENCY:
  Settings mutation is an admin-rate operation; concurrent writers are
  last-write-wins at the row level. The history append rides in the same
  database transaction as the update.

SEE ALSO:
  - store/sqlite/policy.go: SQLite implementation
*/
package policy

import "context"

// Store persists the settings singleton and its history.
type Store interface {
	// Current returns the live settings, creating them from Defaults()
	// if no row exists yet.
	Current(ctx context.Context) (*Settings, error)

	// Update replaces the live settings and appends a history record.
	// The record's Changes and Version are filled by the store from the
	// persisted state; Actor and Reason come from the caller.
	Update(ctx context.Context, next Settings, actor, reason string) (*Settings, error)

	// History returns modification records, newest first. limit <= 0
	// means no limit.
	History(ctx context.Context, limit int) ([]ChangeRecord, error)
}
