// Package api exposes the task queue over HTTP: submission, the active view
// that clients poll, recent history and single-task lookup. Handlers decode
// and validate requests, call the service layer and map its errors to status
// codes without leaking internal details.
package api
