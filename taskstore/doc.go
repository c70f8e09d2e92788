// Package taskstore provides indexing.Repository implementations.
//
// KVRepository keeps one key per content item in a state.StateStore and
// commits each transaction as a single revision-checked write, so two writers
// racing on the same item cannot both win. SQLRepository keeps tasks in a
// SQLite table and relies on database transactions plus a unique index on the
// content item id.
package taskstore
