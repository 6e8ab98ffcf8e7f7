package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/render-api/internal/config"
	"github.com/phrazzld/render-api/internal/generation"
	"google.golang.org/genai"
)

// contentGenerator is the subset of *genai.Models used by the gateway.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Gateway implements generation.Gateway on top of the Gemini API.
type Gateway struct {
	logger     *slog.Logger
	models     contentGenerator
	model      string
	maxRetries int
	retryDelay time.Duration
}

var _ generation.Gateway = (*Gateway)(nil)

// NewGateway creates a Gateway with a Gemini API client built from cfg.
func NewGateway(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Gateway, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, clientConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGateway(client.Models, logger, cfg), nil
}

// clientConfig builds the genai client settings. RequestTimeoutSeconds bounds
// each HTTP request to the API; every retry gets a fresh budget.
func clientConfig(cfg config.LLMConfig) *genai.ClientConfig {
	cc := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.RequestTimeoutSeconds > 0 {
		cc.HTTPClient = &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second}
	}
	return cc
}

func newGateway(models contentGenerator, logger *slog.Logger, cfg config.LLMConfig) *Gateway {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		logger.Warn("invalid max retries value, using default", "max_retries", 2)
		maxRetries = 2
	}
	return &Gateway{
		logger:     logger.With("component", "gemini_gateway", "model", cfg.ModelName),
		models:     models,
		model:      cfg.ModelName,
		maxRetries: maxRetries,
		retryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
}

// Generate sends the source image and instructions to the model and returns
// the first image in the response. Rate-limit and server errors are retried;
// safety blocks and malformed responses are not.
func (g *Gateway) Generate(ctx context.Context, req generation.Request) (*generation.Image, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: req.Image.Data, MIMEType: req.Image.MIMEType}},
			{Text: buildPrompt(req)},
		},
	}}
	genConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	for attempt := 0; ; attempt++ {
		g.logger.InfoContext(ctx, "making Gemini API call",
			"attempt", attempt+1,
			"max_attempts", g.maxRetries+1)

		resp, err := g.models.GenerateContent(ctx, g.model, contents, genConfig)
		if err == nil {
			img, perr := extractImage(resp)
			if perr != nil {
				g.logger.WarnContext(ctx, "Gemini response rejected", "error", perr)
				return nil, perr
			}
			g.logger.InfoContext(ctx, "Gemini API call successful",
				"attempt", attempt+1,
				"mime_type", img.MIMEType,
				"bytes", len(img.Data))
			return img, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		g.logger.ErrorContext(ctx, "Gemini API call failed", "attempt", attempt+1, "error", err)

		if !isTransient(err) {
			return nil, fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
		}
		if attempt >= g.maxRetries {
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				generation.ErrTransientFailure, g.maxRetries, err)
		}

		delay := g.backoff(attempt)
		g.logger.InfoContext(ctx, "retrying after delay", "attempt", attempt+1, "delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// backoff returns baseDelay * 2^attempt scaled by a jitter factor in [0.5, 1).
func (g *Gateway) backoff(attempt int) time.Duration {
	base := float64(g.retryDelay) * math.Pow(2, float64(attempt))
	return time.Duration(base * (0.5 + rand.Float64()*0.5))
}

// buildPrompt appends output hints to the request instructions.
func buildPrompt(req generation.Request) string {
	var b strings.Builder
	b.WriteString("Using the provided image as the reference, generate a new image. ")
	b.WriteString(strings.TrimSpace(req.Instructions()))
	if req.AspectRatio != "" {
		fmt.Fprintf(&b, "\nOutput aspect ratio: %s.", req.AspectRatio)
	}
	if req.Quality == generation.QualityHigh {
		b.WriteString("\nRender at the highest available detail and resolution.")
	}
	return b.String()
}

// extractImage returns the first inline image of the first candidate.
func extractImage(resp *genai.GenerateContentResponse) (*generation.Image, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return nil, fmt.Errorf("%w: %s", generation.ErrContentBlocked, candidate.FinishReason)
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var text []string
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			img := &generation.Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}
			if !supportedMIMEType(img.MIMEType) {
				return nil, fmt.Errorf("%w: unsupported image type %q", generation.ErrInvalidResponse, img.MIMEType)
			}
			return img, nil
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
	}

	if len(text) > 0 {
		return nil, fmt.Errorf("%w: model returned no image: %s",
			generation.ErrInvalidResponse, truncate(strings.Join(text, " "), 200))
	}
	return nil, fmt.Errorf("%w: no image in response", generation.ErrInvalidResponse)
}

func supportedMIMEType(mimeType string) bool {
	switch mimeType {
	case generation.MIMETypePNG, generation.MIMETypeJPEG, generation.MIMETypeWebP:
		return true
	}
	return false
}

// isTransient reports whether err is worth retrying: rate limits, server
// errors and transport failures.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return transientCode(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return transientCode(apiErrPtr.Code)
	}
	return !errors.Is(err, context.Canceled)
}

func transientCode(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
