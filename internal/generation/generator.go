package generation

import (
	"context"
	"fmt"
	"strings"
)

// Supported image MIME types.
const (
	MIMETypePNG  = "image/png"
	MIMETypeJPEG = "image/jpeg"
	MIMETypeWebP = "image/webp"
)

// Quality tiers understood by gateways.
const (
	QualityStandard = "standard"
	QualityHigh     = "high"
)

// Image is raw image bytes with their MIME type. Data is base64 encoded when
// marshalled to JSON.
type Image struct {
	Data     []byte `json:"data"     validate:"required"`
	MIMEType string `json:"mimeType" validate:"required,oneof=image/png image/jpeg image/webp"`
}

// Extension returns the file extension matching the MIME type.
func (i Image) Extension() string {
	switch i.MIMEType {
	case MIMETypeJPEG:
		return "jpg"
	case MIMETypeWebP:
		return "webp"
	default:
		return "png"
	}
}

// ModelConfig is the structured alternative to a free-text prompt.
type ModelConfig struct {
	Style          string            `json:"style,omitempty"          validate:"max=200"`
	Subject        string            `json:"subject,omitempty"        validate:"max=500"`
	Background     string            `json:"background,omitempty"     validate:"max=200"`
	Lighting       string            `json:"lighting,omitempty"       validate:"max=200"`
	NegativePrompt string            `json:"negativePrompt,omitempty" validate:"max=500"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Request is one call to the image model.
type Request struct {
	Image       Image
	Prompt      string
	Config      *ModelConfig
	AspectRatio string
	Quality     string
	Variant     string
}

// Validate reports whether the request carries an image and instructions.
func (r Request) Validate() error {
	if len(r.Image.Data) == 0 {
		return fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Prompt) == "" && r.Config == nil {
		return fmt.Errorf("%w: prompt or config is required", ErrInvalidRequest)
	}
	return nil
}

// Instructions returns the text sent to the model: the prompt when present,
// otherwise the rendered configuration. A variant applies to both.
func (r Request) Instructions() string {
	if prompt := strings.TrimSpace(r.Prompt); prompt != "" {
		if r.Variant == "" {
			return r.Prompt
		}
		return strings.TrimRight(prompt, ".") + ". Subject variant: " + r.Variant
	}
	if r.Config != nil {
		return RenderPrompt(*r.Config, r.Variant)
	}
	return ""
}

// Gateway defines the interface for generating images from a source image and
// instructions. This interface serves as a boundary between the task executor
// and external image-model services.
type Gateway interface {
	// Generate returns the generated image or an error whose message is safe
	// to show the task owner. Implementations must honour ctx cancellation.
	Generate(ctx context.Context, req Request) (*Image, error)
}
