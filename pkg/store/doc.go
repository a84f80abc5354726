// Package store persists versioned JSON documents for the model gateway.
//
// Documents live in collections and are addressed by id. Every write
// carries the version the writer last saw; a mismatch fails with
// ErrVersionConflict so concurrent writers never silently overwrite each
// other. Two implementations are provided:
//
//	st := store.NewMemory()                       // tests and single-process dev
//	st, err := store.OpenSQLite("data/docs.db")   // embedded, JSON1-backed
//
// Open selects one of them from a URL (memory:// or sqlite://path).
package store
