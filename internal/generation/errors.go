package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when image generation fails for any general reason
	ErrGenerationFailed = errors.New("image generation failed")

	// ErrInvalidResponse is returned when the model response carries no usable image
	ErrInvalidResponse = errors.New("invalid response from image model")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by image model safety filters")

	// ErrTransientFailure is returned when retries of a temporary failure are exhausted
	ErrTransientFailure = errors.New("transient error during image generation")

	// ErrInvalidConfig is returned when the gateway configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrInvalidRequest is returned when a request lacks an image or instructions
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrUnresolvedPlaceholder is returned when a prompt template references a
	// variable the combination does not provide
	ErrUnresolvedPlaceholder = errors.New("unresolved template placeholder")
)
