// Package service contains the use cases behind the HTTP API. It validates
// submitted task payloads, enqueues them in a task.Store and scopes every read
// to the caller, so handlers never talk to a store directly.
//
// Services return sentinel errors for expected conditions (ErrNotOwned,
// task.ErrTaskNotFound, task.ErrInvalidInput) and wrap anything else in a
// ServiceError. The API layer maps both to HTTP status codes.
package service
