// Package auth issues and validates the HMAC-signed bearer tokens that carry
// a task owner's user ID.
package auth
