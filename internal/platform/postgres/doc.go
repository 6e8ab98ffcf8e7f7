// Package postgres provides PostgreSQL implementations of the task store and
// the prompt-history recorder, the embedded goose migrations that create
// their tables, and the mapping from driver errors to store errors.
//
// Queries go through store.DBTX, so every store works on a *sql.DB or inside
// a *sql.Tx. The pgx stdlib driver must be registered by the caller.
package postgres
