package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/history"
	"github.com/phrazzld/render-api/internal/store"
)

// PromptHistoryStore implements history.Recorder on PostgreSQL.
type PromptHistoryStore struct {
	db  store.DBTX
	now func() time.Time
}

var _ history.Recorder = (*PromptHistoryStore)(nil)

// NewPromptHistoryStore creates a new PromptHistoryStore
func NewPromptHistoryStore(db store.DBTX) *PromptHistoryStore {
	return &PromptHistoryStore{db: db, now: time.Now}
}

// Record implements history.Recorder.
func (s *PromptHistoryStore) Record(ctx context.Context, entry history.Entry) error {
	if entry.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: prompt history entry needs an owner", store.ErrInvalidEntity)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	var variables any
	if len(entry.Variables) > 0 {
		data, err := json.Marshal(entry.Variables)
		if err != nil {
			return fmt.Errorf("failed to encode prompt variables: %w", err)
		}
		variables = data
	}

	var templateID any
	if entry.TemplateID != "" {
		templateID = entry.TemplateID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_history (id, owner_id, prompt, template_id, variables, succeeded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), entry.OwnerID, entry.Prompt, templateID, variables, entry.Succeeded, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record prompt history: %w", MapError(err))
	}
	return nil
}

// List returns up to limit entries for ownerID, newest first.
func (s *PromptHistoryStore) List(ctx context.Context, ownerID uuid.UUID, limit int) ([]history.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, prompt, template_id, variables, succeeded, created_at
		FROM prompt_history
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt history: %w", MapError(err))
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var (
			e          history.Entry
			templateID sql.NullString
			variables  []byte
		)
		if err := rows.Scan(&e.OwnerID, &e.Prompt, &templateID, &variables, &e.Succeeded, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt history row: %w", err)
		}
		e.TemplateID = templateID.String
		e.CreatedAt = e.CreatedAt.UTC()
		if len(variables) > 0 {
			if err := json.Unmarshal(variables, &e.Variables); err != nil {
				return nil, fmt.Errorf("failed to decode prompt variables: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompt history rows: %w", err)
	}
	return entries, nil
}
