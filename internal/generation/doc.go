// Package generation defines the boundary between the task executor and the
// external image-generation model. The Gateway interface takes a source image
// plus either a free-text prompt or a structured ModelConfig and returns a
// generated image or an error with a human-readable message. Prompt rendering
// and batch template expansion live here so every gateway implementation sees
// the same instruction text.
package generation
