package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/render-api/internal/config"
	"github.com/phrazzld/render-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type call struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

// fakeModels returns queued responses in order and records every call.
type fakeModels struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     []call
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, call{model: model, contents: contents, config: cfg})
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp *genai.GenerateContentResponse
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		GeminiAPIKey:          "test-key",
		ModelName:             "gemini-test-image",
		RequestTimeoutSeconds: 10,
		MaxRetries:            2,
	}
}

func imageResponse(data []byte, mimeType string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is your image."},
				{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
			}},
		}},
	}
}

func request() generation.Request {
	return generation.Request{
		Image:       generation.Image{Data: []byte("source"), MIMEType: generation.MIMETypeJPEG},
		Prompt:      "a red jacket on a mannequin",
		AspectRatio: "3:4",
		Quality:     generation.QualityHigh,
	}
}

func TestGateway_Generate(t *testing.T) {
	t.Parallel()

	models := &fakeModels{responses: []*genai.GenerateContentResponse{
		imageResponse([]byte("generated"), generation.MIMETypePNG),
	}}
	g := newGateway(models, testLogger(), testConfig())

	img, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []byte("generated"), img.Data)
	assert.Equal(t, generation.MIMETypePNG, img.MIMEType)

	require.Len(t, models.calls, 1)
	c := models.calls[0]
	assert.Equal(t, "gemini-test-image", c.model)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, c.config.ResponseModalities)

	require.Len(t, c.contents, 1)
	parts := c.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, []byte("source"), parts[0].InlineData.Data)
	assert.Equal(t, generation.MIMETypeJPEG, parts[0].InlineData.MIMEType)
	assert.Contains(t, parts[1].Text, "a red jacket on a mannequin")
	assert.Contains(t, parts[1].Text, "aspect ratio: 3:4")
	assert.Contains(t, parts[1].Text, "highest available detail")
}

func TestGateway_GenerateRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	models := &fakeModels{}
	g := newGateway(models, testLogger(), testConfig())

	_, err := g.Generate(context.Background(), generation.Request{Prompt: "p"})
	assert.ErrorIs(t, err, generation.ErrInvalidRequest)
	assert.Empty(t, models.calls)
}

func TestGateway_ResponseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		wantErr error
		wantMsg string
	}{
		{
			name:    "nil response",
			resp:    nil,
			wantErr: generation.ErrInvalidResponse,
		},
		{
			name:    "no candidates",
			resp:    &genai.GenerateContentResponse{},
			wantErr: generation.ErrInvalidResponse,
		},
		{
			name: "safety finish reason",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonSafety,
			}}},
			wantErr: generation.ErrContentBlocked,
		},
		{
			name: "prompt blocked",
			resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
			},
			wantErr: generation.ErrContentBlocked,
		},
		{
			name: "text only",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "I cannot edit this image."}}},
			}}},
			wantErr: generation.ErrInvalidResponse,
			wantMsg: "I cannot edit this image.",
		},
		{
			name:    "unsupported image type",
			resp:    imageResponse([]byte("gif"), "image/gif"),
			wantErr: generation.ErrInvalidResponse,
			wantMsg: "image/gif",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			models := &fakeModels{responses: []*genai.GenerateContentResponse{tc.resp}}
			g := newGateway(models, testLogger(), testConfig())

			_, err := g.Generate(context.Background(), request())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			if tc.wantMsg != "" {
				assert.Contains(t, err.Error(), tc.wantMsg)
			}
			assert.Len(t, models.calls, 1, "response errors are not retried")
		})
	}
}

func TestGateway_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	models := &fakeModels{
		errs: []error{
			genai.APIError{Code: 503, Message: "overloaded"},
			genai.APIError{Code: 429, Message: "rate limited"},
		},
		responses: []*genai.GenerateContentResponse{
			nil,
			nil,
			imageResponse([]byte("generated"), generation.MIMETypePNG),
		},
	}
	g := newGateway(models, testLogger(), testConfig())

	img, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []byte("generated"), img.Data)
	assert.Len(t, models.calls, 3)
}

func TestGateway_RetriesExhausted(t *testing.T) {
	t.Parallel()

	overloaded := genai.APIError{Code: 500, Message: "internal"}
	models := &fakeModels{errs: []error{overloaded, overloaded, overloaded}}
	g := newGateway(models, testLogger(), testConfig())

	_, err := g.Generate(context.Background(), request())
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Len(t, models.calls, 3)
}

func TestGateway_PermanentAPIError(t *testing.T) {
	t.Parallel()

	models := &fakeModels{errs: []error{genai.APIError{Code: 400, Message: "bad image"}}}
	g := newGateway(models, testLogger(), testConfig())

	_, err := g.Generate(context.Background(), request())
	assert.ErrorIs(t, err, generation.ErrGenerationFailed)
	assert.Len(t, models.calls, 1)
}

func TestGateway_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	models := &fakeModels{errs: []error{errors.New("transport closed")}}
	g := newGateway(models, testLogger(), testConfig())

	_, err := g.Generate(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	prompt := buildPrompt(generation.Request{
		Config:  &generation.ModelConfig{Subject: "linen shirt", Style: "editorial"},
		Variant: "male",
	})
	assert.Contains(t, prompt, "linen shirt")
	assert.Contains(t, prompt, "editorial")
	assert.False(t, strings.Contains(prompt, "aspect ratio"))
	assert.False(t, strings.Contains(prompt, "highest available detail"))

	prompt = buildPrompt(generation.Request{Prompt: "a wool coat", Variant: "female"})
	assert.Contains(t, prompt, "a wool coat. Subject variant: female")
}

func TestClientConfig_RequestTimeout(t *testing.T) {
	t.Parallel()

	cc := clientConfig(testConfig())
	assert.Equal(t, "test-key", cc.APIKey)
	assert.Equal(t, genai.BackendGeminiAPI, cc.Backend)
	require.NotNil(t, cc.HTTPClient)
	assert.Equal(t, 10*time.Second, cc.HTTPClient.Timeout)

	cfg := testConfig()
	cfg.RequestTimeoutSeconds = 0
	assert.Nil(t, clientConfig(cfg).HTTPClient)
}

func TestNewGateway_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GeminiAPIKey = ""
	_, err := NewGateway(context.Background(), testLogger(), cfg)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	cfg = testConfig()
	cfg.ModelName = ""
	_, err = NewGateway(context.Background(), testLogger(), cfg)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewGateway(context.Background(), nil, testConfig())
	assert.Error(t, err)
}
