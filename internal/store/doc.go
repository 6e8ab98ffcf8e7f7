// Package store holds the pieces shared by every persistence implementation:
// the DBTX abstraction over *sql.DB and *sql.Tx, and the common error values
// stores wrap so callers can branch on them without knowing the backend.
package store
