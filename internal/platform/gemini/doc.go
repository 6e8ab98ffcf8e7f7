// Package gemini provides an implementation of the generation.Gateway interface
// that uses Google's Gemini image models for image-to-image generation.
//
// This package is an infrastructure adapter, connecting the task executor to
// Google's external Gemini service without exposing the details of the
// external API to the rest of the application.
//
// Key components:
//
// 1. Gateway:
//   - Implements the generation.Gateway interface
//   - Sends the source image inline alongside a text instruction
//   - Extracts the first inline image part of the response
//
// 2. Error Handling:
//   - Retries rate-limit and server errors with exponential backoff and jitter
//   - Maps safety blocks to generation.ErrContentBlocked
//   - Maps responses without an image to generation.ErrInvalidResponse
//
// The package depends on the google.golang.org/genai client library for
// authentication, request formatting and transport.
package gemini
