// Package store defines the persistence contract for learner progress. The
// concrete repositories live under internal/storage; this package must not
// import database drivers or concrete clients.
package store
