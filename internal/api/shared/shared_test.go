package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTraceID(t *testing.T) {
	ctx, id := WithTraceID(context.Background(), "client-trace_01")
	assert.Equal(t, "client-trace_01", id)
	assert.Equal(t, id, GetTraceID(ctx))

	for _, bad := range []string{"", "has space", strings.Repeat("a", 65), "semi;colon"} {
		ctx, id = WithTraceID(context.Background(), bad)
		assert.Len(t, id, 32, "generated for %q", bad)
		assert.Equal(t, id, GetTraceID(ctx))
	}

	assert.Empty(t, GetTraceID(context.Background()))
	assert.NotEqual(t, NewTraceID(), NewTraceID())
}

func TestUserIDFromContext(t *testing.T) {
	assert.Nil(t, UserIDFromContext(context.Background()))
	assert.Nil(t, UserIDFromContext(WithUserID(context.Background(), uuid.Nil)))

	id := uuid.New()
	got := UserIDFromContext(WithUserID(context.Background(), id))
	require.NotNil(t, got)
	assert.Equal(t, id, *got)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"x"}`, false},
		{"malformed", `{"name":`, true},
		{"trailing value", `{"name":"x"}{"name":"y"}`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var p payload
			err := DecodeJSON(httptest.NewRecorder(), req, &p)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "x", p.Name)
		})
	}

	t.Run("too large", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("a", MaxRequestBytes) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var p payload
		err := DecodeJSON(httptest.NewRecorder(), req, &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("validate", func(t *testing.T) {
		assert.Error(t, ValidateRequest(&payload{}))
		assert.NoError(t, ValidateRequest(&payload{Name: "x"}))
	})
}

func TestRespondWithJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusAccepted, map[string]string{"taskId": "abc"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"taskId":"abc"}`, w.Body.String())
}

func TestRespondWithErrorAndLog(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		opts          []ResponseOption
		expectedLevel string
	}{
		{"server error", http.StatusInternalServerError, nil, "level=ERROR"},
		{"client error", http.StatusBadRequest, nil, "level=DEBUG"},
		{"rate limited", http.StatusTooManyRequests, nil, "level=WARN"},
		{"elevated client error", http.StatusUnauthorized, []ResponseOption{WithElevatedLogLevel()}, "level=WARN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			ctx, traceID := WithTraceID(logger.WithLogger(context.Background(), log), "")
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil).WithContext(ctx)
			w := httptest.NewRecorder()

			err := errors.New("dial postgres://render:hunter22@db:5432 failed")
			RespondWithErrorAndLog(w, req, tc.status, "Something went wrong", err, tc.opts...)

			assert.Equal(t, tc.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "Something went wrong", resp.Error)
			assert.Equal(t, traceID, resp.TraceID)

			logged := buf.String()
			assert.Contains(t, logged, tc.expectedLevel)
			assert.Contains(t, logged, traceID)
			assert.NotContains(t, logged, "hunter22")
			assert.NotContains(t, w.Body.String(), "postgres")
		})
	}
}
