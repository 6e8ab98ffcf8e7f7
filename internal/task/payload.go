package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/render-api/internal/generation"
)

const (
	// MaxImageBytes bounds the source image carried in a task input.
	MaxImageBytes = 10 << 20
	// MaxCombinations bounds the number of sub-generations in a batch.
	MaxCombinations = 50
)

var validate = validator.New()

// Input is the type-specific payload a task is submitted with. It is
// implemented by *GenerateInput and *BatchInput.
type Input interface {
	Type() Type
	Validate() error
}

// Output is the type-specific result of a completed task. It is implemented
// by *GenerateOutput and *BatchOutput.
type Output interface {
	Type() Type
}

// GenerateInput describes a single image generation. Exactly one of Prompt
// and Config must be set.
type GenerateInput struct {
	Image       generation.Image        `json:"image"`
	Prompt      string                  `json:"prompt,omitempty"      validate:"max=4000"`
	Config      *generation.ModelConfig `json:"config,omitempty"`
	AspectRatio string                  `json:"aspectRatio,omitempty" validate:"omitempty,oneof=1:1 3:4 4:3 9:16 16:9"`
	TemplateID  string                  `json:"templateId,omitempty"  validate:"max=100"`
	Quality     string                  `json:"quality,omitempty"     validate:"omitempty,oneof=standard high"`
	Variant     string                  `json:"variant,omitempty"     validate:"omitempty,oneof=male female"`
}

// Type implements Input.
func (*GenerateInput) Type() Type { return TypeGenerate }

// Validate checks field constraints and the prompt/config exclusivity.
func (in *GenerateInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hasPrompt := strings.TrimSpace(in.Prompt) != ""
	hasConfig := in.Config != nil
	if hasPrompt == hasConfig {
		return fmt.Errorf("%w: exactly one of prompt or config is required", ErrInvalidInput)
	}
	return validateImage(in.Image)
}

// Request builds the gateway request for this input.
func (in *GenerateInput) Request() generation.Request {
	return generation.Request{
		Image:       in.Image,
		Prompt:      in.Prompt,
		Config:      in.Config,
		AspectRatio: in.AspectRatio,
		Quality:     in.Quality,
		Variant:     in.Variant,
	}
}

// Combination maps template variable names to values.
type Combination map[string]string

// BatchInput describes one sub-generation per combination, each using
// PromptTemplate with the combination's variables substituted.
type BatchInput struct {
	Image          generation.Image `json:"image"`
	PromptTemplate string           `json:"promptTemplate"        validate:"required,max=4000"`
	Combinations   []Combination    `json:"combinations"          validate:"required,min=1,max=50"`
	AspectRatio    string           `json:"aspectRatio,omitempty" validate:"omitempty,oneof=1:1 3:4 4:3 9:16 16:9"`
	TemplateID     string           `json:"templateId,omitempty"  validate:"max=100"`
	Quality        string           `json:"quality,omitempty"     validate:"omitempty,oneof=standard high"`
}

// Type implements Input.
func (*BatchInput) Type() Type { return TypeBatch }

// Validate checks field constraints and the image payload.
func (in *BatchInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return validateImage(in.Image)
}

func validateImage(img generation.Image) error {
	if len(img.Data) > MaxImageBytes {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidInput, MaxImageBytes)
	}
	return nil
}

// GenerateOutput holds the locators of a generated image.
type GenerateOutput struct {
	ImageURL     string `json:"imageUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Type implements Output.
func (*GenerateOutput) Type() Type { return TypeGenerate }

// BatchResult is the outcome of one combination.
type BatchResult struct {
	ImageURL     string      `json:"imageUrl,omitempty"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	Combination  Combination `json:"combination"`
	Prompt       string      `json:"prompt,omitempty"`
	Success      bool        `json:"success"`
	Error        string      `json:"error,omitempty"`
}

// BatchOutput holds per-combination results in submission order.
type BatchOutput struct {
	Results      []BatchResult `json:"results"`
	SuccessCount int           `json:"successCount"`
	FailCount    int           `json:"failCount"`
}

// Type implements Output.
func (*BatchOutput) Type() Type { return TypeBatch }

// EncodeInput serializes an input for storage.
func EncodeInput(in Input) ([]byte, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: input is required", ErrInvalidInput)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s input: %w", in.Type(), err)
	}
	return data, nil
}

// DecodeInput parses stored or submitted bytes into the variant for typ.
func DecodeInput(typ Type, data []byte) (Input, error) {
	var in Input
	switch typ {
	case TypeGenerate:
		in = &GenerateInput{}
	case TypeBatch:
		in = &BatchInput{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s input: %v", ErrInvalidInput, typ, err)
	}
	return in, nil
}

// EncodeOutput serializes an output for storage. A nil output encodes to nil.
func EncodeOutput(out Output) ([]byte, error) {
	if out == nil {
		return nil, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s output: %w", out.Type(), err)
	}
	return data, nil
}

// DecodeOutput parses stored bytes into the variant for typ. Empty data
// decodes to a nil Output.
func DecodeOutput(typ Type, data []byte) (Output, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out Output
	switch typ {
	case TypeGenerate:
		out = &GenerateOutput{}
	case TypeBatch:
		out = &BatchOutput{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s output: %w", typ, err)
	}
	return out, nil
}
