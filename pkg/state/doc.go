// Package state persists tree documents as named snapshots.
//
// Responsibilities:
//   - Store[T] only loads/saves a single snapshot for a single Ref.
//   - Repository exports trees into snapshots and imports them back, stamping
//     every save with a fresh snapshot ID and a content ETag.
//   - Repository.Mutate applies a change under optimistic concurrency: the
//     caller's ETag must match the stored one, and the mutated tree must pass
//     validation before anything is written.
//
// Data flow:
//
//	Tree -> nodetree.Export -> Store.Save
//	Store.Load -> nodetree.Import -> Tree
//
// Deterministic keys:
//
//	Ref.Identifier() renders "<domain>/<name>". Both parts are required and
//	must not contain a slash.
//
// MemoryStore keeps snapshots in process; SQLStore keeps them in a
// database/sql table (SQLite via github.com/mattn/go-sqlite3 in tests).
package state
