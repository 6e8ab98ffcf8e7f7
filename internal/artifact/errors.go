package artifact

import "errors"

var (
	// ErrInvalidKey is returned when a storage key is empty or escapes the storage root
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrForeignLocator is returned when a locator was not issued by this store
	ErrForeignLocator = errors.New("locator does not belong to this store")

	// ErrEmptyImage is returned when Save is called without image bytes
	ErrEmptyImage = errors.New("image has no data")
)
